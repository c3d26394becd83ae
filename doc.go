// Package beacon provides reactive selection and cache-version primitives.
//
// Two process-wide objects carry shared state between independently running
// consumers:
//
//   - Selection holds the currently selected entity (for example the active
//     store or location) and notifies subscribers when it changes.
//   - Versions holds one counter per data domain. Bumping a domain signals
//     that cached results embedding its counter are stale.
//
// Both are constructed explicitly and passed by reference. Nothing in this
// package reads ambient globals.
//
// # Selection
//
//	sel := beacon.NewSelection()
//
//	unsubscribe := sel.Subscribe(func(c beacon.Choice) {
//	    log.Printf("active store: %v", c)
//	})
//	defer unsubscribe()
//
//	sel.Set(ctx, beacon.Some("store-42"))
//
// By default Set only notifies when the value changes. AlwaysNotify opts into
// unconditional notification.
//
// # Bindings
//
// A Binding ties a subscription to a scope and keeps a local copy of the
// selection in sync:
//
//	err := beacon.With(sel, func(b *beacon.Binding) error {
//	    return render(b.Value())
//	})
//
// The subscription is released on every exit path.
//
// # Versions
//
//	versions := beacon.NewVersions("todos", "users")
//	key := versions.Key("todos", "page", "1") // todos@1:page:1
//	versions.Bump(ctx, "todos")
//	key = versions.Key("todos", "page", "1")  // todos@2:page:1
//
// # Links
//
// A Link feeds a Selection from an external source through a Watcher:
//
//	link := beacon.NewLink(beacon.NewFileWatcher("/var/lib/app/selection.json"), sel,
//	    beacon.WithRetry(3),
//	).Debounce(200 * time.Millisecond)
//
//	if err := link.Start(ctx); err != nil {
//	    log.Printf("initial selection failed: %v", err)
//	}
//
// Each received payload is decoded, validated and applied. A failed payload
// leaves the previous selection in place and moves the Link to the degraded
// state while it keeps watching.
//
// Additional watchers and persisters live in pkg/:
//
//   - pkg/redis: keyspace notifications and GET/SET persistence
//   - pkg/firestore: realtime document listeners and a collection relay
//   - pkg/etcd, pkg/consul, pkg/nats, pkg/zookeeper: key-value stores
//   - pkg/kubernetes: a data key in a ConfigMap or Secret
//
// Every persister stores the same JSON Record, so a key written by one
// process can drive a Link in another.
//
// # Signals
//
// Lifecycle and change events are emitted as capitan signals. See signals.go
// for the full list.
package beacon
