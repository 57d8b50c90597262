// Package discovery publishes and resolves the ring's rendezvous address in
// etcd, so joiners need not be told where the initial entity listens.
package discovery

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/tiagocmendes/restaurant-p2p/pkg/ring"
)

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Registry reads and writes ring addresses under one key prefix.
type Registry struct {
	cli    *clientv3.Client
	prefix string
	log    *zap.Logger
}

func NewRegistry(cli *clientv3.Client, prefix string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{cli: cli, prefix: prefix, log: log.Named("discovery")}
}

func rendezvousKey(prefix string) string { return path.Join(prefix, "rendezvous") }

func memberKey(prefix string, id ring.Identity) string {
	return path.Join(prefix, "members", fmt.Sprintf("%s-%d", id.Role, id.ID))
}

// memberName undoes memberKey for keys under prefix.
func memberName(prefix, key string) (string, bool) {
	return strings.CutPrefix(key, path.Join(prefix, "members")+"/")
}

// Lease keeps a registration alive until closed.
type Lease struct {
	cli    *clientv3.Client
	id     clientv3.LeaseID
	cancel context.CancelFunc
	once   sync.Once
}

// Close stops the keepalive and revokes the lease, deleting its keys.
func (l *Lease) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = l.cli.Revoke(ctx, l.id)
	})
	return err
}

// RegisterRendezvous publishes addr as the address joiners contact. The key
// disappears when the lease is closed or its ttl lapses.
func (r *Registry) RegisterRendezvous(ctx context.Context, addr string, ttl int64) (*Lease, error) {
	return r.put(ctx, rendezvousKey(r.prefix), addr, ttl)
}

// RegisterMember records a member's ring address for operators.
func (r *Registry) RegisterMember(ctx context.Context, id ring.Identity, addr string, ttl int64) (*Lease, error) {
	return r.put(ctx, memberKey(r.prefix, id), addr, ttl)
}

func (r *Registry) put(ctx context.Context, key, val string, ttl int64) (*Lease, error) {
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := r.cli.Put(ctx, key, val, clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		if kaCtx.Err() == nil {
			r.log.Warn("lease keepalive stopped", zap.String("key", key))
		}
	}()
	r.log.Info("registered", zap.String("key", key), zap.String("value", val), zap.Int64("ttl", ttl))
	return &Lease{cli: r.cli, id: lease.ID, cancel: cancel}, nil
}

// LookupRendezvous returns the published rendezvous address, if any.
func (r *Registry) LookupRendezvous(ctx context.Context) (string, bool, error) {
	resp, err := r.cli.Get(ctx, rendezvousKey(r.prefix))
	if err != nil {
		return "", false, err
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// WaitRendezvous blocks until a rendezvous address is published.
func (r *Registry) WaitRendezvous(ctx context.Context) (string, error) {
	key := rendezvousKey(r.prefix)
	resp, err := r.cli.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) > 0 {
		return string(resp.Kvs[0].Value), nil
	}

	r.log.Info("waiting for rendezvous", zap.String("key", key))
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for wr := range r.cli.Watch(wctx, key, clientv3.WithRev(resp.Header.Revision+1)) {
		if err := wr.Err(); err != nil {
			return "", err
		}
		for _, ev := range wr.Events {
			if ev.Type == mvccpb.PUT {
				return string(ev.Kv.Value), nil
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("watch on %s closed", key)
}

// Members lists registered members as name -> ring address.
func (r *Registry) Members(ctx context.Context) (map[string]string, error) {
	resp, err := r.cli.Get(ctx, path.Join(r.prefix, "members")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if name, ok := memberName(r.prefix, string(kv.Key)); ok {
			out[name] = string(kv.Value)
		}
	}
	return out, nil
}
