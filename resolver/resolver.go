// Package resolver implements the pure composition of metadata lookup,
// template render, driver build, connect and query that turns a
// (queryID, templateData) pair into a live stream.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/logging"
	"github.com/supalytics/streamgate/metastore"
)

// Resolution error kinds.
var (
	ErrQueryNotFound     = errors.New("resolver: query not found")
	ErrConnectorNotFound = errors.New("resolver: connector not found")
	ErrTemplateParse     = errors.New("resolver: template parse error")
	ErrTemplateRender    = errors.New("resolver: template render error")
)

// retryableError is implemented by driver errors that carry a retryable
// classification (e.g. *relational.QueryError).
type retryableError interface {
	error
	Retryable() bool
}

// Handle bundles a live stream with the driver that produced it. Close
// closes the driver, and is safe to call more than once.
type Handle struct {
	Stream driver.RowStream
	drv    driver.Driver
	closed bool
}

// Close tears the handle down by closing the driver exactly once. It does
// not run, drain or abort the stream: a stream that has run has already
// closed its cursor (RowStream contract), and a stream that was never run
// is left unrun.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.drv.Close()
}

// Resolve looks a query up, renders its template, builds and connects the
// matching driver, then runs the query. It is stateless and safe to call
// concurrently; its only side effects are the two metastore reads and the
// backend session opened by the returned Handle.
func Resolve(ctx context.Context, store metastore.Store, registry *driver.Registry, log logging.Func, queryID string, templateData map[string]any) (*Handle, error) {
	if log == nil {
		log = logging.Discard
	}

	// 1. Fetch the query definition.
	def, err := store.Query(ctx, queryID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrQueryNotFound, queryID)
		}
		return nil, fmt.Errorf("resolver: fetch query %q: %w", queryID, err)
	}

	// 2. Render the template.
	renderedText, err := render(def.Content, templateData)
	if err != nil {
		return nil, err
	}

	// 3. Fetch the connector config.
	conn, err := store.Connector(ctx, def.ConnectorID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrConnectorNotFound, def.ConnectorID)
		}
		return nil, fmt.Errorf("resolver: fetch connector %q: %w", def.ConnectorID, err)
	}

	// 4-5. Resolve the factory and build the driver (pure, no I/O).
	drv, err := registry.Build(conn.Type, conn.ConfigBlob)
	if err != nil {
		return nil, fmt.Errorf("resolver: build driver: %w", err)
	}

	// 6. Connect.
	if err := drv.Connect(ctx); err != nil {
		drv.Close()
		return nil, fmt.Errorf("resolver: connect: %w", err)
	}

	// 7. Query, with a bounded retry for errors the driver marks retryable:
	// a policy gated strictly on the driver's classification, never a blind
	// retry.
	stream, err := queryWithRetry(ctx, drv, renderedText, log)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("resolver: query: %w", err)
	}

	// 8. Return the composed handle; caller owns Close().
	return &Handle{Stream: stream, drv: drv}, nil
}

func render(content string, data map[string]any) (string, error) {
	tmpl, err := template.New("query").Parse(content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

func queryWithRetry(ctx context.Context, drv driver.Driver, sqlText string, log logging.Func) (driver.RowStream, error) {
	var stream driver.RowStream
	var fatal error

	strategies := []strategy.Strategy{
		strategy.Limit(3),
		strategy.Backoff(backoff.BinaryExponential(50 * time.Millisecond)),
	}

	err := retry.Retry(func(attempt uint) error {
		if ctx.Err() != nil {
			return nil
		}

		var err error
		stream, err = drv.Query(ctx, sqlText)
		if err == nil {
			return nil
		}

		var rerr retryableError
		if errors.As(err, &rerr) && rerr.Retryable() && attempt < 2 {
			log(logging.Warn, "attempt %d: retryable query error: %v", attempt, err)
			return err
		}

		// Fatal, or out of retries: record it and return nil, the only
		// value that ends Retry's loop early; the caller below unwraps it.
		fatal = terminalError{err}
		return nil
	}, strategies...)

	if err == nil {
		err = fatal
	}
	if err != nil {
		var term terminalError
		if errors.As(err, &term) {
			return nil, term.err
		}
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return stream, nil
}

// terminalError carries a fatal query error out of the Rican7/retry loop:
// strategy.Strategy only sees the attempt number and Retry keeps going on
// any non-nil error, so the retried func stores the fatal error as a
// terminalError, returns nil to stop the loop, and the caller unwraps it.
type terminalError struct{ err error }

func (t terminalError) Error() string { return t.err.Error() }
func (t terminalError) Unwrap() error { return t.err }
