package server

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/go-zookeeper/zk"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	"github.com/zoobzio/beacon"
	"github.com/zoobzio/beacon/internal/config"
	beaconconsul "github.com/zoobzio/beacon/pkg/consul"
	beaconetcd "github.com/zoobzio/beacon/pkg/etcd"
	beaconfs "github.com/zoobzio/beacon/pkg/firestore"
	beaconk8s "github.com/zoobzio/beacon/pkg/kubernetes"
	beaconnats "github.com/zoobzio/beacon/pkg/nats"
	beaconredis "github.com/zoobzio/beacon/pkg/redis"
	beaconzk "github.com/zoobzio/beacon/pkg/zookeeper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// backends creates each client at most once, so a backend used as both
// source and persister shares one connection.
type backends struct {
	cfg     config.Config
	closers *[]func() error

	redis     *goredis.Client
	firestore *firestore.Client
	etcd      *clientv3.Client
	consul    *consulapi.Client
	kv        jetstream.KeyValue
	zk        *zk.Conn
	k8s       kubernetes.Interface
}

func (b *backends) onClose(fn func() error) {
	*b.closers = append(*b.closers, fn)
}

// watcher returns the selection source named kind, or nil for "none".
func (b *backends) watcher(ctx context.Context, kind string) (beacon.Watcher, error) {
	switch kind {
	case "none", "":
		return nil, nil
	case "file":
		return beacon.NewFileWatcher(b.cfg.Selection.File), nil
	case "redis":
		return beaconredis.New(b.redisClient(), b.cfg.Redis.Key, beaconredis.WithDB(b.cfg.Redis.DB)), nil
	case "firestore":
		c, err := b.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		fc := b.cfg.Firestore
		return beaconfs.New(c, fc.Collection, fc.Document, beaconfs.WithField(fc.Field)), nil
	case "etcd":
		c, err := b.etcdClient()
		if err != nil {
			return nil, err
		}
		return beaconetcd.New(c, b.cfg.Etcd.Key), nil
	case "consul":
		c, err := b.consulClient()
		if err != nil {
			return nil, err
		}
		return beaconconsul.New(c, b.cfg.Consul.Key), nil
	case "nats":
		kv, err := b.natsKV(ctx)
		if err != nil {
			return nil, err
		}
		return beaconnats.New(kv, b.cfg.NATS.Key), nil
	case "zookeeper":
		c, err := b.zkConn()
		if err != nil {
			return nil, err
		}
		return beaconzk.New(c, b.cfg.ZooKeeper.Path), nil
	case "kubernetes":
		c, err := b.k8sClient()
		if err != nil {
			return nil, err
		}
		kc := b.cfg.Kubernetes
		return beaconk8s.New(c, kc.Namespace, kc.Name, kc.Key, beaconk8s.WithResourceType(k8sKind(kc.Kind))), nil
	}
	return nil, fmt.Errorf("unknown selection source %q", kind)
}

// persister returns the selection store named kind, or nil for "none".
func (b *backends) persister(ctx context.Context, kind string) (beacon.Persister, error) {
	switch kind {
	case "none", "":
		return nil, nil
	case "file":
		return beacon.NewFilePersister(b.cfg.Selection.File), nil
	case "redis":
		return beaconredis.NewPersister(b.redisClient(), b.cfg.Redis.Key), nil
	case "firestore":
		c, err := b.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		fc := b.cfg.Firestore
		return beaconfs.NewPersister(c, fc.Collection, fc.Document, beaconfs.WithField(fc.Field)), nil
	case "etcd":
		c, err := b.etcdClient()
		if err != nil {
			return nil, err
		}
		return beaconetcd.NewPersister(c, b.cfg.Etcd.Key), nil
	case "consul":
		c, err := b.consulClient()
		if err != nil {
			return nil, err
		}
		return beaconconsul.NewPersister(c, b.cfg.Consul.Key), nil
	case "nats":
		kv, err := b.natsKV(ctx)
		if err != nil {
			return nil, err
		}
		return beaconnats.NewPersister(kv, b.cfg.NATS.Key), nil
	case "zookeeper":
		c, err := b.zkConn()
		if err != nil {
			return nil, err
		}
		return beaconzk.NewPersister(c, b.cfg.ZooKeeper.Path), nil
	case "kubernetes":
		c, err := b.k8sClient()
		if err != nil {
			return nil, err
		}
		kc := b.cfg.Kubernetes
		return beaconk8s.NewPersister(c, kc.Namespace, kc.Name, kc.Key, beaconk8s.WithResourceType(k8sKind(kc.Kind))), nil
	}
	return nil, fmt.Errorf("unknown selection persister %q", kind)
}

func (b *backends) redisClient() *goredis.Client {
	if b.redis == nil {
		b.redis = goredis.NewClient(&goredis.Options{Addr: b.cfg.Redis.Addr, DB: b.cfg.Redis.DB})
		b.onClose(b.redis.Close)
	}
	return b.redis
}

func (b *backends) firestoreClient(ctx context.Context) (*firestore.Client, error) {
	if b.firestore == nil {
		c, err := firestore.NewClient(ctx, b.cfg.Firestore.Project)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		b.firestore = c
		b.onClose(c.Close)
	}
	return b.firestore, nil
}

func (b *backends) etcdClient() (*clientv3.Client, error) {
	if b.etcd == nil {
		c, err := clientv3.New(clientv3.Config{
			Endpoints:   b.cfg.Etcd.Endpoints,
			DialTimeout: b.cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd client: %w", err)
		}
		b.etcd = c
		b.onClose(c.Close)
	}
	return b.etcd, nil
}

func (b *backends) consulClient() (*consulapi.Client, error) {
	if b.consul == nil {
		c, err := consulapi.NewClient(&consulapi.Config{Address: b.cfg.Consul.Addr})
		if err != nil {
			return nil, fmt.Errorf("failed to create consul client: %w", err)
		}
		b.consul = c
	}
	return b.consul, nil
}

// natsKV binds the configured bucket, creating it if it does not exist.
func (b *backends) natsKV(ctx context.Context) (jetstream.KeyValue, error) {
	if b.kv != nil {
		return b.kv, nil
	}
	nc, err := nats.Connect(b.cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	b.onClose(func() error { nc.Close(); return nil })

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	kv, err := js.KeyValue(ctx, b.cfg.NATS.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: b.cfg.NATS.Bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind kv bucket %s: %w", b.cfg.NATS.Bucket, err)
	}
	b.kv = kv
	return kv, nil
}

func (b *backends) zkConn() (*zk.Conn, error) {
	if b.zk == nil {
		c, _, err := zk.Connect(b.cfg.ZooKeeper.Servers, b.cfg.ZooKeeper.SessionTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
		}
		b.zk = c
		b.onClose(func() error { c.Close(); return nil })
	}
	return b.zk, nil
}

func (b *backends) k8sClient() (kubernetes.Interface, error) {
	if b.k8s != nil {
		return b.k8s, nil
	}
	var (
		rc  *rest.Config
		err error
	)
	if b.cfg.Kubernetes.Kubeconfig != "" {
		rc, err = clientcmd.BuildConfigFromFlags("", b.cfg.Kubernetes.Kubeconfig)
	} else {
		rc, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	c, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	b.k8s = c
	return c, nil
}

func k8sKind(kind string) beaconk8s.ResourceType {
	if kind == "secret" {
		return beaconk8s.Secret
	}
	return beaconk8s.ConfigMap
}
