// Package logctx carries per-request metadata between the host application
// and the capture pipeline. Each request gets its own Store, installed into
// the request context by the interceptor and cleared unconditionally when the
// request finishes. Nothing here is shared across requests.
package logctx

import (
	"context"
	"sync"

	"github.com/getupgraded/inbound-http-logger/internal/model"
)

// Store holds the metadata and optional loggable reference contributed during
// one request. Guarded by a mutex: handlers occasionally hand the context to
// helper goroutines.
type Store struct {
	mu       sync.Mutex
	metadata map[string]any
	loggable *model.LoggableRef
}

func NewStore() *Store {
	return &Store{}
}

// SetMetadata replaces the metadata map. Overwrite, not merge: callers that
// want accumulation read, merge and write back themselves.
func (s *Store) SetMetadata(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		s.metadata = nil
		return
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.metadata = cp
}

// Metadata returns a copy of the current metadata.
func (s *Store) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return nil
	}
	cp := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		cp[k] = v
	}
	return cp
}

// AddMetadata merges the given entries into the current metadata. Used by
// context callbacks, which accumulate rather than overwrite.
func (s *Store) AddMetadata(m map[string]any) {
	if len(m) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		s.metadata = make(map[string]any, len(m))
	}
	for k, v := range m {
		s.metadata[k] = v
	}
}

func (s *Store) SetLoggable(ref *model.LoggableRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref == nil {
		s.loggable = nil
		return
	}
	cp := *ref
	s.loggable = &cp
}

func (s *Store) Loggable() *model.LoggableRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggable == nil {
		return nil
	}
	cp := *s.loggable
	return &cp
}

// Clear resets both fields. The interceptor invokes this on every exit path;
// a leaked store would attach stale context to an unrelated later request.
func (s *Store) Clear() {
	s.mu.Lock()
	s.metadata = nil
	s.loggable = nil
	s.mu.Unlock()
}

type ctxKey int

const storeKey ctxKey = iota

// WithStore derives a context carrying a fresh Store.
func WithStore(ctx context.Context) (context.Context, *Store) {
	s := NewStore()
	return context.WithValue(ctx, storeKey, s), s
}

// FromContext returns the Store installed in ctx, or nil when the capture
// middleware did not admit this request.
func FromContext(ctx context.Context) *Store {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(storeKey).(*Store)
	return s
}

// SetMetadata is the context-level convenience used by handlers. A no-op when
// no store is installed (request suppressed or middleware absent).
func SetMetadata(ctx context.Context, m map[string]any) {
	if s := FromContext(ctx); s != nil {
		s.SetMetadata(m)
	}
}

// Metadata returns the metadata for the current request, if any.
func Metadata(ctx context.Context) map[string]any {
	if s := FromContext(ctx); s != nil {
		return s.Metadata()
	}
	return nil
}

// SetLoggable associates the current request's record with a domain object.
func SetLoggable(ctx context.Context, loggableType, id string) {
	if s := FromContext(ctx); s != nil {
		s.SetLoggable(&model.LoggableRef{Type: loggableType, ID: id})
	}
}

// Loggable returns the loggable reference for the current request, if any.
func Loggable(ctx context.Context) *model.LoggableRef {
	if s := FromContext(ctx); s != nil {
		return s.Loggable()
	}
	return nil
}

// Clear resets the current request's store, if one is installed.
func Clear(ctx context.Context) {
	if s := FromContext(ctx); s != nil {
		s.Clear()
	}
}
