// Package config loads beacond settings from defaults, a YAML file and
// BEACON_ environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds daemon configuration.
type Config struct {
	Addr       string           `mapstructure:"addr" validate:"required"`
	Domains    []string         `mapstructure:"domains" validate:"dive,required"`
	Selection  SelectionConfig  `mapstructure:"selection"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Firestore  FirestoreConfig  `mapstructure:"firestore"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	Consul     ConsulConfig     `mapstructure:"consul"`
	NATS       NATSConfig       `mapstructure:"nats"`
	ZooKeeper  ZooKeeperConfig  `mapstructure:"zookeeper"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// SelectionConfig chooses where the current selection comes from and where
// it is kept across restarts.
type SelectionConfig struct {
	// Source names the backend that feeds the selection through a Link.
	Source string `mapstructure:"source" validate:"oneof=none file redis firestore etcd consul nats zookeeper kubernetes"`
	// Persist names the backend that stores the selection across restarts.
	Persist  string        `mapstructure:"persist" validate:"oneof=none file redis firestore etcd consul nats zookeeper kubernetes"`
	File     string        `mapstructure:"file" validate:"required_if=Source file,required_if=Persist file"`
	Debounce time.Duration `mapstructure:"debounce" validate:"min=0"`
}

// RedisConfig holds the Redis connection used for the selection key.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db" validate:"min=0"`
	Key  string `mapstructure:"key"`
}

// PostgresConfig enables the version relay when URL is set.
type PostgresConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// FirestoreConfig holds the document backing the selection.
type FirestoreConfig struct {
	Project    string `mapstructure:"project"`
	Collection string `mapstructure:"collection"`
	Document   string `mapstructure:"document"`
	Field      string `mapstructure:"field"`
}

// EtcdConfig holds the etcd key backing the selection.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Key         string        `mapstructure:"key"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"min=0"`
}

// ConsulConfig holds the Consul KV key backing the selection.
type ConsulConfig struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
}

// NATSConfig holds the JetStream KV key backing the selection.
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Bucket string `mapstructure:"bucket"`
	Key    string `mapstructure:"key"`
}

// ZooKeeperConfig holds the ZooKeeper node backing the selection.
type ZooKeeperConfig struct {
	Servers        []string      `mapstructure:"servers"`
	Path           string        `mapstructure:"path"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"min=0"`
}

// KubernetesConfig holds the ConfigMap or Secret key backing the selection.
// An empty Kubeconfig uses the in-cluster service account.
type KubernetesConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
	Name       string `mapstructure:"name"`
	Key        string `mapstructure:"key"`
	Kind       string `mapstructure:"kind" validate:"oneof=configmap secret"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	Secret    string `mapstructure:"secret" validate:"required,min=16"`
	Issuer    string `mapstructure:"issuer"`
	LoginPath string `mapstructure:"login_path" validate:"required,startswith=/"`
}

// NotifyConfig enables the notification endpoints when Database is set.
type NotifyConfig struct {
	Database  string `mapstructure:"database"`
	BatchSize int    `mapstructure:"batch_size" validate:"min=1,max=500"`
}

var validate = validator.New()

// Load reads configuration. An empty path searches ./beacon.yaml and
// /etc/beacon/beacon.yaml; a missing file is not an error in that case.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("domains", []string{})
	v.SetDefault("selection.source", "none")
	v.SetDefault("selection.persist", "none")
	v.SetDefault("selection.file", "")
	v.SetDefault("selection.debounce", 100*time.Millisecond)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "beacon:selection")
	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.channel", "beacon_versions")
	v.SetDefault("firestore.project", "")
	v.SetDefault("firestore.collection", "beacon")
	v.SetDefault("firestore.document", "selection")
	v.SetDefault("firestore.field", "id")
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.key", "/beacon/selection")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("consul.addr", "localhost:8500")
	v.SetDefault("consul.key", "beacon/selection")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.bucket", "beacon")
	v.SetDefault("nats.key", "selection")
	v.SetDefault("zookeeper.servers", []string{"localhost:2181"})
	v.SetDefault("zookeeper.path", "/beacon-selection")
	v.SetDefault("zookeeper.session_timeout", 10*time.Second)
	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.namespace", "default")
	v.SetDefault("kubernetes.name", "beacon")
	v.SetDefault("kubernetes.key", "selection.json")
	v.SetDefault("kubernetes.kind", "configmap")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.login_path", "/login")
	v.SetDefault("notify.database", "")
	v.SetDefault("notify.batch_size", 500)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("beacon")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/beacon")
	}

	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the struct tags and the cross-field rules they cannot
// express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	uses := func(backend string) bool {
		return c.Selection.Source == backend || c.Selection.Persist == backend
	}
	if uses("redis") && c.Redis.Key == "" {
		return errors.New("invalid config: redis.key is required")
	}
	if uses("firestore") && c.Firestore.Project == "" {
		return errors.New("invalid config: firestore.project is required")
	}
	if uses("etcd") && (len(c.Etcd.Endpoints) == 0 || c.Etcd.Key == "") {
		return errors.New("invalid config: etcd.endpoints and etcd.key are required")
	}
	if uses("consul") && c.Consul.Key == "" {
		return errors.New("invalid config: consul.key is required")
	}
	if uses("nats") && (c.NATS.Bucket == "" || c.NATS.Key == "") {
		return errors.New("invalid config: nats.bucket and nats.key are required")
	}
	if uses("zookeeper") && (len(c.ZooKeeper.Servers) == 0 || !strings.HasPrefix(c.ZooKeeper.Path, "/")) {
		return errors.New("invalid config: zookeeper.servers and an absolute zookeeper.path are required")
	}
	if uses("kubernetes") && (c.Kubernetes.Name == "" || c.Kubernetes.Key == "") {
		return errors.New("invalid config: kubernetes.name and kubernetes.key are required")
	}
	return nil
}
