// Package engine owns a scene's fog mask: it paints live gestures, commits
// them to the persisted operation log and replays that log whenever it
// changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"fogmask/brush"
	"fogmask/maskop"
	"fogmask/raster"
	"fogmask/transport"
)

var logger = logging.Logger("fogmask/engine")

// HistoryKey is the transport key holding the encoded operation log.
const HistoryKey = "history"

var (
	// ErrConflict is returned by an optimistic commit that kept losing the
	// swap race. The batch stays buffered.
	ErrConflict = errors.New("history changed concurrently")
	// ErrNilSurface is returned by New without a surface.
	ErrNilSurface = errors.New("surface cannot be nil")
	// ErrNilTransport is returned by New without a transport.
	ErrNilTransport = errors.New("transport cannot be nil")
	// ErrCommitInProgress is returned by operations that need to commit
	// while another commit holds the lock.
	ErrCommitInProgress = errors.New("commit already in progress")
)

// Engine is the mask of one scene. All methods are safe for concurrent use.
type Engine struct {
	scene     string
	surface   raster.Surface
	transport transport.Transport
	swapper   transport.Swapper
	options   *Options

	mu      sync.Mutex
	applied int
	buffer  maskop.Batch
	current *maskop.OperationLog
	// generation changes whenever the buffer is discarded, so a commit can
	// tell whether its batch is still at the head of the buffer.
	generation uint64
	// seen is the digest of the last persisted log rendered by Sync. It is
	// only meaningful while synced is set.
	seen   string
	synced bool

	// syncMu orders Sync calls so an older read never lands after a newer
	// one.
	syncMu sync.Mutex

	// committing is claimed for the whole persistence round trip of Commit.
	committing atomic.Bool

	obsMu        sync.RWMutex
	observers    map[uint64]Observer
	nextObserver uint64

	stopMu sync.Mutex
	stop   func()
}

// New creates the engine of scene. It does not read the transport; call
// Start or Sync to render the persisted history.
func New(scene string, surface raster.Surface, t transport.Transport, opts ...Option) (*Engine, error) {
	if surface == nil {
		return nil, ErrNilSurface
	}
	if t == nil {
		return nil, ErrNilTransport
	}

	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{
		scene:     scene,
		surface:   surface,
		transport: t,
		options:   options,
		observers: make(map[uint64]Observer),
	}

	if options.OptimisticCommit {
		if sw, ok := t.(transport.Swapper); ok {
			e.swapper = sw
		} else {
			logger.Warnf("scene %s: transport %T cannot swap atomically, commits are last-write-wins", scene, t)
		}
	}
	return e, nil
}

// Scene returns the scene id.
func (e *Engine) Scene() string {
	return e.scene
}

// Surface returns the mask surface.
func (e *Engine) Surface() raster.Surface {
	return e.surface
}

// AppliedPointer returns how many batches of the log are rendered.
func (e *Engine) AppliedPointer() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applied
}

// Buffer returns a copy of the uncommitted gesture.
func (e *Engine) Buffer() maskop.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.Clone()
}

// Committing reports whether a commit is in flight.
func (e *Engine) Committing() bool {
	return e.committing.Load()
}

// Start renders the persisted history and follows its changes until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.stopMu.Lock()
	if e.stop == nil {
		e.stop = e.transport.OnChange(e.handleChange)
	}
	e.stopMu.Unlock()

	return e.Sync(ctx)
}

// Stop unsubscribes from change notifications.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
}

func (e *Engine) handleChange(ctx context.Context, c transport.Change) {
	if c.Scope != e.scene || !c.Has(HistoryKey) {
		return
	}
	if err := e.Sync(ctx); err != nil {
		logger.Errorf("scene %s: failed to sync history: %v", e.scene, err)
	}
}

// Sync reads the persisted log and replays it from the applied pointer to
// the log pointer. A log identical to the last one rendered is skipped.
// Buffered operations are painted again on top of the replayed history.
func (e *Engine) Sync(ctx context.Context) error {
	e.syncMu.Lock()
	log, raw, err := e.load(ctx)
	if err != nil {
		e.syncMu.Unlock()
		return err
	}
	digest := maskop.Digest(raw)

	e.mu.Lock()
	if e.synced && e.seen == digest {
		e.mu.Unlock()
		e.syncMu.Unlock()
		return nil
	}
	to := 0
	if log != nil {
		to = log.Pointer
	}
	ev, err := e.replayLocked(log, e.applied, to)
	e.seen, e.synced = digest, err == nil
	if len(e.buffer) > 0 {
		paintBatches(e.surface, []maskop.Batch{e.buffer})
	}
	e.mu.Unlock()
	e.syncMu.Unlock()

	e.notify(ev)
	return err
}

// Log returns the persisted log, or an empty one when the scene has none.
func (e *Engine) Log(ctx context.Context) (*maskop.OperationLog, error) {
	log, _, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return maskop.NewLog(), nil
	}
	return log, nil
}

// load returns the decoded log and the bytes it was decoded from. A missing
// key yields a nil log. Legacy encodings are normalized in memory.
func (e *Engine) load(ctx context.Context) (*maskop.OperationLog, []byte, error) {
	raw, err := e.transport.Get(ctx, e.scene, HistoryKey)
	if errors.Is(err, transport.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read history of %s: %w", e.scene, err)
	}

	log, err := maskop.Decode(raw)
	if errors.Is(err, maskop.ErrLegacyFormat) {
		logger.Warnf("scene %s: history is in a legacy format, normalizing", e.scene)
		log, _, err = maskop.Normalize(raw)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode history of %s: %w", e.scene, err)
	}
	return log, raw, nil
}

func (e *Engine) store(ctx context.Context, log *maskop.OperationLog) error {
	data, err := maskop.Encode(log)
	if err != nil {
		return err
	}
	return e.transport.Set(ctx, e.scene, HistoryKey, data)
}

// PaintLive composites op immediately and buffers it for the next commit.
func (e *Engine) PaintLive(op maskop.Operation) error {
	e.mu.Lock()
	var err error
	if prim, ok := brush.MakePrimitive(op); ok {
		err = e.surface.Composite(prim)
	}
	e.buffer = append(e.buffer, op.Clone())
	n := len(e.buffer)
	pointer := e.applied
	e.mu.Unlock()

	e.notify(Event{Kind: EventPainted, Pointer: pointer, Operations: n})
	return err
}

// Commit appends the buffered gesture to the persisted log as one batch,
// dropping any redo tail, and renders the result before returning. It is a
// no-op when the buffer is empty or another commit is in flight. On failure
// the buffer is kept for a later retry.
func (e *Engine) Commit(ctx context.Context) error {
	_, err := e.commit(ctx)
	return err
}

// commit reports whether it held the commit lock.
func (e *Engine) commit(ctx context.Context) (bool, error) {
	e.mu.Lock()
	empty := len(e.buffer) == 0
	e.mu.Unlock()
	if empty {
		return true, nil
	}

	if !e.committing.CompareAndSwap(false, true) {
		commitsTotal.WithLabelValues("skipped").Inc()
		logger.Debugf("scene %s: commit already in flight", e.scene)
		return false, nil
	}
	defer e.committing.Store(false)

	e.mu.Lock()
	batch := e.buffer.Clone()
	generation := e.generation
	e.mu.Unlock()

	start := time.Now()
	var log *maskop.OperationLog
	var err error
	if e.swapper != nil {
		log, err = e.swapCommit(ctx, batch)
	} else {
		log, err = e.overwriteCommit(ctx, batch)
	}
	commitDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		commitsTotal.WithLabelValues("failed").Inc()
		logger.Errorf("scene %s: failed to commit %d operations: %v", e.scene, len(batch), err)
		return true, err
	}

	e.mu.Lock()
	// Operations painted while the commit was in flight stay buffered. A
	// buffer discarded in the meantime only holds newer operations.
	if e.generation == generation {
		e.buffer = append(maskop.Batch(nil), e.buffer[len(batch):]...)
	}
	e.mu.Unlock()

	commitsTotal.WithLabelValues("ok").Inc()
	logger.Infof("scene %s: pushed %d updates, log pointer %d", e.scene, len(batch), log.Pointer)

	if err := e.Sync(ctx); err != nil {
		logger.Warnf("scene %s: committed but failed to render: %v", e.scene, err)
	}
	e.notify(Event{Kind: EventCommitted, Pointer: e.AppliedPointer(), Operations: len(batch)})
	return true, nil
}

func (e *Engine) overwriteCommit(ctx context.Context, batch maskop.Batch) (*maskop.OperationLog, error) {
	log, _, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	next, err := log.Append(batch)
	if err != nil {
		return nil, err
	}
	if err := e.store(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// swapCommit rebases the batch on the latest log until the swap succeeds,
// backing off exponentially between attempts.
func (e *Engine) swapCommit(ctx context.Context, batch maskop.Batch) (*maskop.OperationLog, error) {
	delay := e.options.RetryDelay
	for attempt := 0; ; attempt++ {
		log, raw, err := e.load(ctx)
		if err != nil {
			return nil, err
		}
		next, err := log.Append(batch)
		if err != nil {
			return nil, err
		}
		data, err := maskop.Encode(next)
		if err != nil {
			return nil, err
		}

		err = e.swapper.CompareAndSwap(ctx, e.scene, HistoryKey, raw, data)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, transport.ErrSwapMismatch) {
			return nil, err
		}
		if attempt >= e.options.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts", ErrConflict, attempt+1)
		}

		logger.Debugf("scene %s: history changed during commit, retrying (%d)", e.scene, attempt+1)
		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > e.options.MaxRetryDelay {
			delay = e.options.MaxRetryDelay
		}
	}
}

// Undo moves the persisted pointer back by steps, counted from the applied
// pointer, and renders the result. Events are kept.
func (e *Engine) Undo(ctx context.Context, steps int) error {
	if steps < 1 {
		steps = 1
	}

	log, _, err := e.load(ctx)
	if err != nil {
		return err
	}

	pointer := e.AppliedPointer() - steps
	if pointer < 0 {
		pointer = 0
	}
	next := log.WithPointer(pointer)
	logger.Infof("scene %s: undoing %d steps, pointer %d", e.scene, steps, next.Pointer)

	if err := e.store(ctx, next); err != nil {
		return fmt.Errorf("failed to store undo of %s: %w", e.scene, err)
	}
	undosTotal.Inc()
	return e.Sync(ctx)
}

// Reset fills the surface with the blank fill. With persist the log is
// cleared as well and the applied pointer returns to zero. Without it the
// next Sync repaints the persisted history.
func (e *Engine) Reset(ctx context.Context, persist bool) error {
	e.mu.Lock()
	err := e.surface.Fill(e.options.BlankFill)
	e.synced = false
	if persist {
		e.applied = 0
		e.current = maskop.NewLog()
	}
	pointer := e.applied
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to reset surface of %s: %w", e.scene, err)
	}
	if persist {
		data, err := maskop.Encode(maskop.NewLog())
		if err != nil {
			return err
		}
		if err := e.transport.Set(ctx, e.scene, HistoryKey, data); err != nil {
			return fmt.Errorf("failed to clear history of %s: %w", e.scene, err)
		}
		e.mu.Lock()
		e.seen, e.synced = maskop.Digest(data), true
		e.mu.Unlock()
	}

	e.notify(Event{Kind: EventReset, Pointer: pointer})
	return nil
}

// Blank resets the scene and commits one full-surface revealed box, so the
// change stays undoable. It fails with ErrCommitInProgress instead of
// leaving the box buffered when another commit holds the lock.
func (e *Engine) Blank(ctx context.Context) error {
	if e.Committing() {
		return ErrCommitInProgress
	}
	if err := e.Reset(ctx, true); err != nil {
		return err
	}
	w, h := e.surface.Bounds()
	if err := e.PaintLive(maskop.NewBox(0, 0, w, h, maskop.FillRevealed)); err != nil {
		return err
	}
	ran, err := e.commit(ctx)
	if err != nil {
		return err
	}
	if !ran {
		return ErrCommitInProgress
	}
	return nil
}

// Cancel discards the buffered gesture and repaints the surface from the
// last replayed log.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	n := len(e.buffer)
	e.buffer = nil
	e.generation++

	var err error
	if n > 0 {
		err = e.repaintLocked()
	}
	pointer := e.applied
	e.mu.Unlock()

	if n > 0 {
		logger.Debugf("scene %s: cancelled %d buffered operations", e.scene, n)
	}
	e.notify(Event{Kind: EventCancelled, Pointer: pointer, Operations: n})
	return err
}

func (e *Engine) repaintLocked() error {
	if e.current == nil {
		return e.surface.Fill(e.options.DefaultFill)
	}
	if err := e.surface.Fill(e.options.BlankFill); err != nil {
		return err
	}
	applied := clamp(e.applied, 0, len(e.current.Events))
	_, err := paintBatches(e.surface, e.current.Events[:applied])
	return err
}
