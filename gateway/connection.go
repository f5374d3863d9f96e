// Package gateway implements the per-connection bounded task queue, its
// active-stream index, and the cooperative worker pool that drains it by
// calling into the resolver and framing rows back out through a Sink under
// write-serialization.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/logging"
	"github.com/supalytics/streamgate/resolver"
	"github.com/supalytics/streamgate/wire"
)

// Resolve is the shape of resolver.Resolve as Connection consumes it: given
// a queryID and caller-supplied template data, produce a live stream
// handle. Bound once at construction to a concrete metastore+registry pair.
type Resolve func(ctx context.Context, queryID string, templateData map[string]any) (*resolver.Handle, error)

// Stats are the per-connection counters exposed for observability: not
// wire-visible, read via Connection.Stats.
type Stats struct {
	Queued    int64
	Running   int64
	Completed int64
	Failed    int64
	Cancelled int64
}

// Connection is one bounded queue, one active-stream index, and N workers,
// all scoped to a single transport instance's lifetime. Admit and Cancel are
// called serially off the transport's single inbound read loop, never
// concurrently with each other; mu additionally arbitrates every frame send
// against the active index, so that a stream's terminal frame is always the
// last frame it produces.
type Connection struct {
	capacity int
	workers  int
	resolve  Resolve
	sink     Sink
	log      logging.Func

	rootCtx    context.Context
	rootCancel context.CancelFunc
	group      *errgroup.Group

	mu     sync.Mutex
	active map[string]*Task
	queue  chan *Task
	closed bool

	stats Stats
}

// New builds a Connection. capacity is the bounded queue size Q, workers is
// the worker count N; both are used as given (the protocol server and the
// config loader default them to Q=100, N=3). The returned Connection does
// not start its workers; call Start.
func New(ctx context.Context, capacity, workers int, resolve Resolve, sink Sink, log logging.Func) *Connection {
	if log == nil {
		log = logging.Discard
	}
	rootCtx, rootCancel := context.WithCancel(ctx)
	return &Connection{
		capacity:   capacity,
		workers:    workers,
		resolve:    resolve,
		sink:       sink,
		log:        log,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		group:      &errgroup.Group{},
		active:     make(map[string]*Task),
		queue:      make(chan *Task, capacity),
	}
}

// Start launches the N workers. It returns immediately; call Close to tear
// the connection down and wait for them to exit.
func (c *Connection) Start() {
	for i := 0; i < c.workers; i++ {
		c.group.Go(func() error {
			c.runWorker(c.rootCtx)
			return nil
		})
	}
}

// Stats returns a snapshot of the per-connection counters.
func (c *Connection) Stats() Stats {
	return Stats{
		Queued:    atomic.LoadInt64(&c.stats.Queued),
		Running:   atomic.LoadInt64(&c.stats.Running),
		Completed: atomic.LoadInt64(&c.stats.Completed),
		Failed:    atomic.LoadInt64(&c.stats.Failed),
		Cancelled: atomic.LoadInt64(&c.stats.Cancelled),
	}
}

// Admit validates the request, rejects a duplicate streamId, inserts a
// queued Task into the active index, and hands it to a worker. A full queue
// is rejected with ErrQueueFull before anything is inserted.
//
// The queue-capacity check and the handoff below are not atomic with each
// other, but that's safe here: Admit is only ever called one at a time for
// a given Connection (off the transport's single read loop), so nothing
// else can consume the capacity this check just confirmed.
func (c *Connection) Admit(streamID, queryID string, templateData map[string]any) error {
	if streamID == "" || queryID == "" {
		return ErrInvalidRequest
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if _, exists := c.active[streamID]; exists {
		c.mu.Unlock()
		return ErrDuplicateStream
	}
	if len(c.queue) >= cap(c.queue) {
		c.mu.Unlock()
		return ErrQueueFull
	}

	taskCtx, cancel := context.WithCancel(c.rootCtx)
	task := &Task{
		StreamID:     streamID,
		QueryID:      queryID,
		TemplateData: templateData,
		Status:       StatusQueued,
		ctx:          taskCtx,
		cancel:       cancel,
	}
	c.active[streamID] = task

	// Emit status:queued before the task is handed to a worker, while mu
	// still excludes a concurrent finalize: this is what guarantees
	// status:queued is always the first frame a stream produces, ahead of
	// any status:running a worker could emit the instant it dequeues.
	c.sendLocked(statusFrame(streamID, StatusQueued))
	atomic.AddInt64(&c.stats.Queued, 1)
	c.mu.Unlock()

	c.queue <- task
	return nil
}

// Cancel looks the streamId up in the active index, invokes its cancel
// handle, and finalizes it as cancelled. A streamId that is absent (never
// admitted, or already terminal) yields ErrStreamNotFound.
func (c *Connection) Cancel(streamID string) error {
	c.mu.Lock()
	task, ok := c.active[streamID]
	c.mu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}

	task.cancel()

	if !c.finalize(task, StatusCancelled, 0, "", "") {
		// The worker already finalized this task (e.g. a failure that raced
		// with this cancel): no frame follows a terminal one, so we report
		// this cancel as a no-op rather than emit anything further.
		return ErrStreamNotFound
	}
	return nil
}

// Close cancels every active task's context, stops admitting new work, and
// waits for all workers to exit.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.rootCancel()
	return c.group.Wait()
}

func (c *Connection) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-c.queue:
			if !ok {
				return
			}
			c.runTask(task)
		}
	}
}

// runTask is the worker body: mark running, resolve, drive the stream
// frame by frame, finalize.
func (c *Connection) runTask(task *Task) {
	if !c.emitIfActive(task, statusFrame(task.StreamID, StatusRunning)) {
		// Cancelled while still queued: already finalized, nothing to run.
		return
	}
	atomic.AddInt64(&c.stats.Running, 1)
	c.mu.Lock()
	if _, ok := c.active[task.StreamID]; ok {
		task.Status = StatusRunning
		task.ExecutedAt = time.Now()
	}
	c.mu.Unlock()

	handle, err := c.resolve(task.ctx, task.QueryID, task.TemplateData)
	if err != nil {
		message, code := classifyResolutionError(err)
		c.finalize(task, StatusFailed, 0, message, code)
		return
	}

	rowCount := 0
	streamErr := handle.Stream(task.ctx, func(cols []string, row []wire.Value) error {
		if cols != nil {
			if !c.emitIfActive(task, metadataFrame(task.StreamID, cols)) {
				return driver.ErrConsumerDone
			}
			return nil
		}
		rowCount++
		if !c.emitIfActive(task, rowFrame(task.StreamID, row)) {
			return driver.ErrConsumerDone
		}
		return nil
	})
	handle.Close()

	if streamErr != nil && !errors.Is(streamErr, driver.ErrConsumerDone) {
		message, code := classifyStreamError(streamErr)
		c.finalize(task, StatusFailed, 0, message, code)
		return
	}

	c.finalize(task, StatusCompleted, rowCount, "", "")
}

// emitIfActive sends f for task's stream only if the stream is still
// present in the active index, the check and the send performed as one
// critical section under mu. finalize removes a stream from the index
// under the same lock before it emits that stream's terminal frame, so a
// worker can never have a non-terminal frame land on the wire after it:
// either this call wins the race and completes its send before finalize
// can remove the entry, or finalize already won and this call sees the
// entry gone and sends nothing. Returns false in the latter case, which
// the caller treats as "this stream is done, stop producing for it".
func (c *Connection) emitIfActive(task *Task, f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[task.StreamID]; !ok {
		return false
	}
	c.sendLocked(f)
	return true
}

// finalize performs the single terminal transition for a task: remove it
// from the active index (the mutual-exclusion point that makes exactly one
// of {worker completion, worker failure, Cancel} win a race), then emit the
// terminal content frame (if any) followed by the status frame. Returns
// false if the task had already been finalized by someone else, which the
// caller should treat as a no-op.
//
// If the whole connection is tearing down (rootCtx already cancelled), no
// further frame may be emitted: the task is still removed from the index
// so Close's invariants hold, but nothing is sent.
func (c *Connection) finalize(task *Task, status Status, totalRows int, message, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[task.StreamID]; !ok {
		return false
	}
	delete(c.active, task.StreamID)

	task.Status = status
	task.cancel()

	if c.rootCtx.Err() != nil {
		return true
	}

	switch status {
	case StatusCompleted:
		atomic.AddInt64(&c.stats.Completed, 1)
		c.sendLocked(completeFrame(task.StreamID, totalRows))
	case StatusFailed:
		atomic.AddInt64(&c.stats.Failed, 1)
		c.sendLocked(errorFrame(task.StreamID, message, code))
	case StatusCancelled:
		atomic.AddInt64(&c.stats.Cancelled, 1)
	}

	c.sendLocked(statusFrame(task.StreamID, status))
	return true
}

// sendLocked writes f to the sink. Callers must hold mu: that's the lock
// that also arbitrates the active index, so holding it across the send
// keeps a stream's frames from reordering on the wire relative to
// whichever goroutine finalizes it.
func (c *Connection) sendLocked(f Frame) {
	if err := c.sink.Send(f); err != nil {
		c.log(logging.Warn, "send frame %s for stream %s: %v", f.Type, f.StreamID, err)
	}
}

func classifyResolutionError(err error) (message, code string) {
	switch {
	case errors.Is(err, resolver.ErrQueryNotFound):
		code = "QueryNotFound"
	case errors.Is(err, resolver.ErrConnectorNotFound):
		code = "ConnectorNotFound"
	case errors.Is(err, driver.ErrUnsupportedBackend):
		code = "UnsupportedBackend"
	case errors.Is(err, resolver.ErrTemplateParse):
		code = "TemplateParseError"
	case errors.Is(err, resolver.ErrTemplateRender):
		code = "TemplateRenderError"
	default:
		code = "ConnectError"
	}
	return err.Error(), code
}

func classifyStreamError(err error) (message, code string) {
	return err.Error(), "StreamError"
}
