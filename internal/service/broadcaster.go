package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synctab/synctab/internal/model"
)

// Notifier delivers notifications to one observer. It is used as a map
// key and compared with ==.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
	// String returns the handle of the observer
	String() string
}

type observer struct {
	notifier Notifier
	hostname string
}

// Broadcaster fans notifications out to the registered observers.
// Delivery is best effort: an observer whose delivery fails is removed.
type Broadcaster struct {
	timeout time.Duration

	mx        sync.Mutex
	observers []observer
}

const maxConcurrentDeliveries = 16

func NewBroadcaster(timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = model.DefaultNotifyTimeout
	}
	return &Broadcaster{timeout: timeout}
}

// Register adds an observer and reports whether it was not registered yet.
// Registering again only updates the hostname.
func (b *Broadcaster) Register(n Notifier, hostname string) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	if idx := b.index(n); idx >= 0 {
		b.observers[idx].hostname = hostname
		return false
	}
	b.observers = append(b.observers, observer{notifier: n, hostname: hostname})
	return true
}

// Unregister removes an observer and reports whether it was registered.
func (b *Broadcaster) Unregister(n Notifier) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	idx := b.index(n)
	if idx < 0 {
		return false
	}
	b.observers = slices.Delete(b.observers, idx, idx+1)
	return true
}

func (b *Broadcaster) index(n Notifier) int {
	return slices.IndexFunc(b.observers, func(o observer) bool { return o.notifier == n })
}

// Clients lists the registered observers in registration order.
func (b *Broadcaster) Clients() []model.ClientInfo {
	b.mx.Lock()
	defer b.mx.Unlock()
	ret := make([]model.ClientInfo, 0, len(b.observers))
	for _, o := range b.observers {
		ret = append(ret, model.ClientInfo{Handle: o.notifier.String(), Hostname: o.hostname})
	}
	return ret
}

// Publish delivers n to a snapshot of the observers concurrently and
// returns when every delivery ended. Failed observers are unregistered,
// the failure does not reach the caller.
func (b *Broadcaster) Publish(ctx context.Context, n model.Notification) {
	b.mx.Lock()
	snapshot := slices.Clone(b.observers)
	b.mx.Unlock()
	if len(snapshot) == 0 {
		return
	}

	failed := make([]error, len(snapshot))
	var g errgroup.Group
	g.SetLimit(maxConcurrentDeliveries)
	for i, o := range snapshot {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			failed[i] = o.notifier.Notify(ctx, n)
			return nil
		})
	}
	_ = g.Wait() // deliveries do not return an error

	for i, err := range failed {
		if err == nil {
			continue
		}
		o := snapshot[i]
		slog.WarnContext(ctx, "observer unreachable: removing", "handle", o.notifier.String(), "hostname", o.hostname, "error", err)
		b.Unregister(o.notifier)
	}
}
