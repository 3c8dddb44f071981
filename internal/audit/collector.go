// Package audit collects the ids of objects touched during a request and
// turns each qualifying request into one audit log entry.
package audit

import (
	"context"
	"sync"
)

type collectorKey struct{}

// Identifiable is implemented by records that can be named in an entry.
type Identifiable interface {
	AuditID() string
}

// Collector accumulates object ids and the resolved actor for one request.
type Collector struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	actor Actor
}

func NewCollector() *Collector {
	return &Collector{seen: map[string]struct{}{}}
}

func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

// FromContext returns the request collector, or nil outside a request.
func FromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey{}).(*Collector)
	return c
}

func (c *Collector) Add(ids ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.seen[id]; ok {
			continue
		}
		c.seen[id] = struct{}{}
		c.order = append(c.order, id)
	}
}

func (c *Collector) IDs() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *Collector) SetActor(actor Actor) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actor = actor
	c.mu.Unlock()
}

func (c *Collector) Actor() Actor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actor
}

// Track records objects on the request collector. Objects without an id
// are skipped.
func Track[T Identifiable](ctx context.Context, objects ...T) {
	c := FromContext(ctx)
	if c == nil {
		return
	}
	for _, object := range objects {
		c.Add(object.AuditID())
	}
}

// TrackIDs records raw ids on the request collector.
func TrackIDs(ctx context.Context, ids ...string) {
	FromContext(ctx).Add(ids...)
}

// SetActor records the authenticated principal for the current request.
func SetActor(ctx context.Context, actor Actor) {
	FromContext(ctx).SetActor(actor)
}
