// Package registry keeps the process-wide snapshot of endpoint templates.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/metrics"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/router"
	"github.com/chain-data-gateway/internal/store"
)

// Registry serves route resolution from an immutable snapshot that is
// swapped wholesale on reload, so in-flight requests never observe a
// partially refreshed registry.
type Registry struct {
	source   store.EndpointStore
	snapshot atomic.Pointer[[]model.Endpoint]
	loadedAt atomic.Int64
}

// New creates an empty registry backed by source. Call Reload before serving.
func New(source store.EndpointStore) *Registry {
	r := &Registry{source: source}
	empty := []model.Endpoint{}
	r.snapshot.Store(&empty)
	return r
}

// Reload replaces the snapshot with the current contents of the source.
func (r *Registry) Reload(ctx context.Context) (int, error) {
	endpoints, err := r.source.ListEndpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("load endpoints: %w", err)
	}
	for _, e := range endpoints {
		if err := validate(e); err != nil {
			return 0, err
		}
	}

	r.snapshot.Store(&endpoints)
	r.loadedAt.Store(time.Now().Unix())
	metrics.RegistryEndpoints.Set(float64(len(endpoints)))
	return len(endpoints), nil
}

// Resolve matches a request path against the current snapshot.
func (r *Registry) Resolve(path string) (*router.Match, error) {
	return router.Resolve(path, *r.snapshot.Load())
}

// Endpoints returns the current snapshot. Callers must not modify it.
func (r *Registry) Endpoints() []model.Endpoint {
	return *r.snapshot.Load()
}

// Len returns the number of endpoints in the current snapshot.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// LoadedAt returns when the snapshot was last replaced, or the zero time
// if it never was.
func (r *Registry) LoadedAt() time.Time {
	ts := r.loadedAt.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// Start refreshes the registry every interval until ctx is cancelled.
// A failed refresh keeps serving the previous snapshot.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.Reload(ctx)
				if err != nil {
					log.Error().Err(err).Msg("endpoint registry refresh failed")
					continue
				}
				log.Debug().Int("endpoints", n).Msg("endpoint registry refreshed")
			}
		}
	}()
}

// validate rejects templates whose upstream URL refers to a placeholder the
// path does not capture.
func validate(e model.Endpoint) error {
	if e.ID == "" || e.Path == "" || e.UpstreamURL == "" {
		return fmt.Errorf("endpoint %q: id, path and upstream_url are required", e.ID)
	}
	captured := make(map[string]struct{})
	for _, name := range router.Placeholders(e.Path) {
		if _, dup := captured[name]; dup {
			return fmt.Errorf("endpoint %q: duplicate placeholder {%s}", e.ID, name)
		}
		captured[name] = struct{}{}
	}
	for _, name := range upstreamTokens(e.UpstreamURL) {
		if _, ok := captured[name]; !ok {
			return fmt.Errorf("endpoint %q: upstream_url uses {%s} which the path does not capture", e.ID, name)
		}
	}
	if e.CreditCost <= 0 {
		return fmt.Errorf("endpoint %q: credit_cost must be positive", e.ID)
	}
	return nil
}

func upstreamTokens(upstream string) []string {
	var names []string
	rest := upstream
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return names
		}
		names = append(names, rest[open+1:open+end])
		rest = rest[open+end+1:]
	}
}
