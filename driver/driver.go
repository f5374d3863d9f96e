// Copyright 2017 Canonical Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package driver defines the uniform streaming contract that every backend
// family (relational, warehouse, lakehouse, ...) implements, and the
// process-wide registry the resolver uses to turn a connector's type tag
// into a concrete Driver.
package driver

import (
	"errors"
	"fmt"
	"sync"

	"context"

	"github.com/supalytics/streamgate/wire"
)

// ErrConsumerDone is the sentinel a RowStream consumer callback returns to
// stop iteration cleanly without signalling an error.
var ErrConsumerDone = errors.New("driver: consumer stopped iteration")

// ErrUnsupportedBackend is returned by Registry.Build for an unregistered
// type tag.
var ErrUnsupportedBackend = errors.New("driver: unsupported backend type")

// Driver owns one backend connection, or pooled equivalent, for the
// duration of a single streaming query. A Driver is built once, connected
// once, queried zero-or-more times in sequence by its owning worker, and
// closed exactly once. It must never be shared between workers.
type Driver interface {
	// Connect establishes and validates a live backend session. It must
	// honor cancellation of ctx.
	Connect(ctx context.Context) error

	// Query begins streaming execution of sqlText. The returned RowStream
	// must not have materialized any rows yet.
	Query(ctx context.Context, sqlText string) (RowStream, error)

	// Close releases the backend session. Idempotent, and safe to call
	// after a partial or failed Connect.
	Close() error
}

// Consumer is invoked once per frame produced by a RowStream: exactly once
// with (cols, nil) before any row, then zero or more times with (nil, row).
type Consumer func(cols []string, row []wire.Value) error

// RowStream is a lazy, finite, single-shot sequence of frames. Run drives
// the backend and invokes consume once per frame, stopping cleanly if
// consume returns ErrConsumerDone, propagating any other error, and in
// every case closing the underlying backend cursor before returning,
// including when ctx is cancelled mid-iteration.
type RowStream func(ctx context.Context, consume Consumer) error

// Factory builds a Driver from a backend-specific, opaque configuration
// blob. Factories validate configuration synchronously and perform no I/O;
// I/O only happens inside Driver.Connect.
type Factory func(configBlob map[string]any) (Driver, error)

// Registry is a process-wide mapping from backend-type tag to Factory. It
// is read-only once startup registration has completed.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given type tag. Intended to be called
// only from initialization code paths, before concurrent Build calls begin.
func (r *Registry) Register(backendType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[backendType] = factory
}

// Build looks up the factory for backendType and invokes it with
// configBlob. Build may be called concurrently once registration has
// completed.
func (r *Registry) Build(backendType string, configBlob map[string]any) (Driver, error) {
	r.mu.RLock()
	factory, ok := r.factories[backendType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backendType)
	}
	return factory(configBlob)
}
