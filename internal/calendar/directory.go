package calendar

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrProviderNotFound = errors.New("provider not found")

// Directory looks providers up by id. Implementations are owned by the
// provider-management side; the scheduling core only reads from them.
type Directory interface {
	Provider(ctx context.Context, id string) (*Provider, error)
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewStaticDirectory(providers ...Provider) *StaticDirectory {
	d := &StaticDirectory{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		d.providers[p.ID] = p
	}
	return d
}

// Put adds or replaces a provider.
func (d *StaticDirectory) Put(p Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[p.ID] = p
}

func (d *StaticDirectory) Provider(_ context.Context, id string) (*Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	// callers get their own copy of the slices
	p.Hours.Days = append([]time.Weekday(nil), p.Hours.Days...)
	p.BlockedDates = append([]Date(nil), p.BlockedDates...)
	return &p, nil
}

// IDs returns every provider id in ascending order.
func (d *StaticDirectory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.providers))
	for id := range d.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
