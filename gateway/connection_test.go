package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/gateway"
	"github.com/supalytics/streamgate/metastore"
	"github.com/supalytics/streamgate/resolver"
	"github.com/supalytics/streamgate/wire"
)

// recordingSink collects every frame sent to it, safe for concurrent use by
// the connection's workers.
type recordingSink struct {
	mu     sync.Mutex
	frames []gateway.Frame
}

func (s *recordingSink) Send(f gateway.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) snapshot() []gateway.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *recordingSink) forStream(streamID string) []gateway.Frame {
	var out []gateway.Frame
	for _, f := range s.snapshot() {
		if f.StreamID == streamID {
			out = append(out, f)
		}
	}
	return out
}

func typesOf(frames []gateway.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

type fakeStore struct {
	queries    map[string]metastore.QueryDefinition
	connectors map[string]metastore.ConnectorConfig
}

func (f *fakeStore) Query(ctx context.Context, id string) (*metastore.QueryDefinition, error) {
	q, ok := f.queries[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return &q, nil
}

func (f *fakeStore) Connector(ctx context.Context, id string) (*metastore.ConnectorConfig, error) {
	c, ok := f.connectors[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return &c, nil
}

// instantDriver answers a query with a fixed header and rows immediately.
type instantDriver struct {
	cols   []string
	rows   [][]wire.Value
	closed bool
}

func (d *instantDriver) Connect(ctx context.Context) error { return nil }

func (d *instantDriver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	return func(ctx context.Context, consume driver.Consumer) error {
		if err := consume(d.cols, nil); err != nil {
			return err
		}
		for _, row := range d.rows {
			if err := consume(nil, row); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (d *instantDriver) Close() error {
	d.closed = true
	return nil
}

// steppedDriver emits one row per step, blocking on a channel between rows
// so a test can pace delivery and exercise mid-flight cancellation.
type steppedDriver struct {
	cols []string
	rows [][]wire.Value
	step chan struct{}

	mu     sync.Mutex
	closed bool
}

func (d *steppedDriver) Connect(ctx context.Context) error { return nil }

func (d *steppedDriver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	return func(ctx context.Context, consume driver.Consumer) error {
		if err := consume(d.cols, nil); err != nil {
			return err
		}
		for _, row := range d.rows {
			select {
			case <-d.step:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := consume(nil, row); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (d *steppedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *steppedDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// floodDriver emits a large run of rows back to back with no external
// pacing, unlike steppedDriver's test-controlled step barrier. It exists to
// race a concurrent Cancel against an in-flight row rather than against a
// driver a test can park at will.
type floodDriver struct {
	cols []string
	n    int
}

func (d *floodDriver) Connect(ctx context.Context) error { return nil }

func (d *floodDriver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	return func(ctx context.Context, consume driver.Consumer) error {
		if err := consume(d.cols, nil); err != nil {
			return err
		}
		for i := 0; i < d.n; i++ {
			if err := consume(nil, []wire.Value{wire.NewInt64(int64(i))}); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (d *floodDriver) Close() error { return nil }

// blockingDriver emits its header then blocks until released, to exercise
// admission/queue-full behavior under a single busy worker.
type blockingDriver struct {
	release chan struct{}
}

func (d *blockingDriver) Connect(ctx context.Context) error { return nil }

func (d *blockingDriver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	return func(ctx context.Context, consume driver.Consumer) error {
		if err := consume([]string{"a"}, nil); err != nil {
			return err
		}
		select {
		case <-d.release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return consume(nil, []wire.Value{wire.NewInt64(1)})
	}, nil
}

func (d *blockingDriver) Close() error { return nil }

func newStore() *fakeStore {
	return &fakeStore{
		queries:    map[string]metastore.QueryDefinition{},
		connectors: map[string]metastore.ConnectorConfig{},
	}
}

func bindResolve(store metastore.Store, registry *driver.Registry) gateway.Resolve {
	return func(ctx context.Context, queryID string, templateData map[string]any) (*resolver.Handle, error) {
		return resolver.Resolve(ctx, store, registry, nil, queryID, templateData)
	}
}

func TestConnection_HappyPath(t *testing.T) {
	store := newStore()
	store.queries["Q-ok"] = metastore.QueryDefinition{ID: "Q-ok", ConnectorID: "conn-1", Content: "SELECT 1 AS a, 'x' AS b;"}
	store.connectors["conn-1"] = metastore.ConnectorConfig{ID: "conn-1", Type: "fake"}

	drv := &instantDriver{cols: []string{"a", "b"}, rows: [][]wire.Value{{wire.NewInt64(1), wire.NewString("x")}}}
	registry := driver.NewRegistry()
	registry.Register("fake", func(map[string]any) (driver.Driver, error) { return drv, nil })

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 10, 2, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer conn.Close()

	if err := conn.Admit("s1", "Q-ok", nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sink.forStream("s1")) >= 6 })

	got := typesOf(sink.forStream("s1"))
	want := []string{"status", "status", "metadata", "row", "complete", "status"}
	assertEqual(t, got, want)
	if !drv.closed {
		t.Fatal("expected driver to be closed")
	}
}

func TestConnection_TemplateSubstitution(t *testing.T) {
	store := newStore()
	store.queries["Q-tpl"] = metastore.QueryDefinition{ID: "Q-tpl", ConnectorID: "conn-1", Content: `SELECT * FROM orders WHERE region = '{{.region}}'`}
	store.connectors["conn-1"] = metastore.ConnectorConfig{ID: "conn-1", Type: "fake"}

	var gotSQL string
	registry := driver.NewRegistry()
	registry.Register("fake", func(map[string]any) (driver.Driver, error) {
		return &capturingDriver{capture: &gotSQL}, nil
	})

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 10, 2, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer conn.Close()

	if err := conn.Admit("s1", "Q-tpl", map[string]any{"region": "us"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sink.forStream("s1")) >= 5 }) // queued, running, metadata, complete, status

	want := `SELECT * FROM orders WHERE region = 'us'`
	if gotSQL != want {
		t.Fatalf("expected rendered text %q, got %q", want, gotSQL)
	}
}

type capturingDriver struct{ capture *string }

func (d *capturingDriver) Connect(ctx context.Context) error { return nil }
func (d *capturingDriver) Query(ctx context.Context, sqlText string) (driver.RowStream, error) {
	*d.capture = sqlText
	return func(ctx context.Context, consume driver.Consumer) error {
		return consume([]string{"a"}, nil)
	}, nil
}
func (d *capturingDriver) Close() error { return nil }

func TestConnection_Cancellation(t *testing.T) {
	store := newStore()
	store.queries["Q-slow"] = metastore.QueryDefinition{ID: "Q-slow", ConnectorID: "conn-1", Content: "SELECT * FROM slow;"}
	store.connectors["conn-1"] = metastore.ConnectorConfig{ID: "conn-1", Type: "fake"}

	drv := &steppedDriver{
		cols: []string{"a"},
		rows: [][]wire.Value{{wire.NewInt64(1)}, {wire.NewInt64(2)}, {wire.NewInt64(3)}, {wire.NewInt64(4)}, {wire.NewInt64(5)}},
		step: make(chan struct{}),
	}
	registry := driver.NewRegistry()
	registry.Register("fake", func(map[string]any) (driver.Driver, error) { return drv, nil })

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 10, 2, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer conn.Close()

	if err := conn.Admit("s2", "Q-slow", nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		drv.step <- struct{}{}
	}
	waitFor(t, func() bool { return len(sink.forStream("s2")) >= 6 }) // queued,running,metadata,row,row,row

	if err := conn.Cancel("s2"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		frames := sink.forStream("s2")
		return len(frames) > 0 && frames[len(frames)-1].Type == "status" &&
			frames[len(frames)-1].Payload.(gateway.StatusPayload).Status == "cancelled"
	})

	for _, f := range sink.forStream("s2") {
		if f.Type == "complete" {
			t.Fatal("did not expect a complete frame for a cancelled stream")
		}
	}

	waitFor(t, drv.isClosed)

	if err := conn.Cancel("s2"); !errors.Is(err, gateway.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound on second cancel, got %v", err)
	}
}

// TestConnection_CancelDuringRowFlood races Cancel against a worker that is
// streaming rows as fast as it can, with no step barrier either side can
// synchronize on. Depending on scheduling, the stream may finish before the
// cancel lands or be cancelled mid-flight; either is a legitimate outcome.
// What must always hold is the one invariant this is built to exercise:
// once a stream's terminal status frame has been sent, no further frame for
// that stream ever follows it.
func TestConnection_CancelDuringRowFlood(t *testing.T) {
	store := newStore()
	store.queries["Q-flood"] = metastore.QueryDefinition{ID: "Q-flood", ConnectorID: "conn-1", Content: "SELECT * FROM many;"}
	store.connectors["conn-1"] = metastore.ConnectorConfig{ID: "conn-1", Type: "fake"}

	drv := &floodDriver{cols: []string{"a"}, n: 200000}
	registry := driver.NewRegistry()
	registry.Register("fake", func(map[string]any) (driver.Driver, error) { return drv, nil })

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 10, 2, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer conn.Close()

	if err := conn.Admit("s3", "Q-flood", nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sink.forStream("s3")) >= 3 }) // queued, running, metadata

	_ = conn.Cancel("s3")

	isTerminal := func(f gateway.Frame) bool {
		if f.Type != "status" {
			return false
		}
		switch f.Payload.(gateway.StatusPayload).Status {
		case "completed", "failed", "cancelled":
			return true
		}
		return false
	}

	waitFor(t, func() bool {
		frames := sink.forStream("s3")
		return len(frames) > 0 && isTerminal(frames[len(frames)-1])
	})
	time.Sleep(50 * time.Millisecond) // let a straggler frame land, if the race allows one

	sawTerminal := false
	for _, f := range sink.forStream("s3") {
		if sawTerminal {
			t.Fatalf("frame %+v arrived after a terminal status frame", f)
		}
		if isTerminal(f) {
			sawTerminal = true
		}
	}
}

func TestConnection_QueueFull(t *testing.T) {
	store := newStore()
	store.queries["Q-block"] = metastore.QueryDefinition{ID: "Q-block", ConnectorID: "conn-1", Content: "SELECT * FROM t;"}
	store.connectors["conn-1"] = metastore.ConnectorConfig{ID: "conn-1", Type: "fake"}

	release := make(chan struct{})
	registry := driver.NewRegistry()
	registry.Register("fake", func(map[string]any) (driver.Driver, error) {
		return &blockingDriver{release: release}, nil
	})

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 1, 1, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer func() {
		close(release)
		conn.Close()
	}()

	if err := conn.Admit("s1", "Q-block", nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(sink.forStream("s1")) >= 2 }) // queued, running: the single worker picked it up

	if err := conn.Admit("s2", "Q-block", nil); err != nil {
		t.Fatal(err)
	}

	err := conn.Admit("s3", "Q-block", nil)
	if !errors.Is(err, gateway.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestConnection_UnknownQuery(t *testing.T) {
	store := newStore()
	registry := driver.NewRegistry()

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 10, 2, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer conn.Close()

	if err := conn.Admit("s1", "missing", nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(sink.forStream("s1")) >= 4 })

	got := typesOf(sink.forStream("s1"))
	want := []string{"status", "status", "error", "status"}
	assertEqual(t, got, want)

	last := sink.forStream("s1")[len(sink.forStream("s1"))-1]
	if last.Payload.(gateway.StatusPayload).Status != "failed" {
		t.Fatalf("expected final status failed, got %+v", last)
	}
}

func TestConnection_DuplicateStream(t *testing.T) {
	store := newStore()
	store.queries["Q-block"] = metastore.QueryDefinition{ID: "Q-block", ConnectorID: "conn-1", Content: "SELECT * FROM t;"}
	store.connectors["conn-1"] = metastore.ConnectorConfig{ID: "conn-1", Type: "fake"}

	release := make(chan struct{})
	defer close(release)
	registry := driver.NewRegistry()
	registry.Register("fake", func(map[string]any) (driver.Driver, error) {
		return &blockingDriver{release: release}, nil
	})

	sink := &recordingSink{}
	conn := gateway.New(context.Background(), 10, 1, bindResolve(store, registry), sink, nil)
	conn.Start()
	defer conn.Close()

	if err := conn.Admit("s1", "Q-block", nil); err != nil {
		t.Fatal(err)
	}
	if err := conn.Admit("s1", "Q-block", nil); !errors.Is(err, gateway.ErrDuplicateStream) {
		t.Fatalf("expected ErrDuplicateStream, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func assertEqual(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
