// Package svcreg is the optional etcd-backed service registry used to let
// the broker advertise its own address and the invoker discover it,
// instead of the invoker needing a static broker address baked into its
// config file. Adapted from the teacher's registry.EtcdRegistry: the same
// TTL-lease-plus-KeepAlive registration pattern and prefix-scoped
// Discover/Watch, renamed into this project's service/address vocabulary
// and scoped under a smolrpc/ key prefix instead of mini-rpc/.
//
// Use of this package is opt-in: a deployment with a single static broker
// address configures cmd/invoker directly and never touches svcreg at all,
// per spec.md §6's plain listen/broker/data_dir config keys. Wiring etcd
// endpoints into the config additionally enables registration/discovery.
package svcreg

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/smolrpc/"

// Instance is one running instance of a named service: its dial address
// plus the metadata a consumer might use to choose among several.
type Instance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"`
	Version string `json:"version,omitempty"`
}

// Registry is an etcd-backed directory of named service instances.
type Registry struct {
	client *clientv3.Client
}

// New connects to the given etcd endpoints.
func New(endpoints []string) (*Registry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("smolrpc/svcreg: connecting to etcd: %w", err)
	}
	return &Registry{client: c}, nil
}

// Close releases the underlying etcd client connection.
func (r *Registry) Close() error {
	return r.client.Close()
}

// Register advertises instance under serviceName with a ttlSeconds lease,
// renewed automatically via KeepAlive until ctx is canceled or the process
// exits — at which point the lease expires and the entry disappears on its
// own, so a crashed instance never lingers as a stale entry.
func (r *Registry) Register(ctx context.Context, serviceName string, instance Instance, ttlSeconds int64) error {
	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("smolrpc/svcreg: granting lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("smolrpc/svcreg: encoding instance: %w", err)
	}

	key := keyPrefix + serviceName + "/" + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("smolrpc/svcreg: registering %q: %w", key, err)
	}

	keepAlive, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("smolrpc/svcreg: starting lease keepalive: %w", err)
	}
	go func() {
		for range keepAlive {
		}
	}()
	return nil
}

// Deregister removes one instance's entry immediately — used during
// graceful shutdown, ahead of the lease's TTL expiry.
func (r *Registry) Deregister(ctx context.Context, serviceName, addr string) error {
	_, err := r.client.Delete(ctx, keyPrefix+serviceName+"/"+addr)
	if err != nil {
		return fmt.Errorf("smolrpc/svcreg: deregistering %q/%q: %w", serviceName, addr, err)
	}
	return nil
}

// Discover returns every currently live instance registered under
// serviceName.
func (r *Registry) Discover(ctx context.Context, serviceName string) ([]Instance, error) {
	prefix := keyPrefix + serviceName + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("smolrpc/svcreg: discovering %q: %w", serviceName, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch emits a refreshed instance list on every registration change under
// serviceName, until ctx is canceled.
func (r *Registry) Watch(ctx context.Context, serviceName string) <-chan []Instance {
	out := make(chan []Instance, 1)
	prefix := keyPrefix + serviceName + "/"

	go func() {
		defer close(out)
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				continue
			}
			out <- instances
		}
	}()
	return out
}
