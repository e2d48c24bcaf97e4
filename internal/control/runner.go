package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/mykyno/hydroponik/internal/state"
	"go.uber.org/zap"
)

var ErrNotRunning = errors.New("control loop is not running")

const (
	doseRingSize     = 100
	eventBufferSize  = 64
	listenerCapacity = 10
)

type operation struct {
	fn   func(*Coordinator) error
	done chan error
}

// Runner drives the Coordinator from a single goroutine. Operator
// operations are queued and executed between cycles, so the control state
// never has two owners.
type Runner struct {
	coord    *Coordinator
	clock    state.Clock
	interval time.Duration
	logger   *zap.Logger

	ops      chan operation
	events   chan dosing.DoseEvent
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool

	snapMu sync.RWMutex
	snap   Snapshot

	listenersMu sync.RWMutex
	listeners   []chan Snapshot

	ringMu sync.RWMutex
	ring   []dosing.DoseEvent
}

func NewRunner(coord *Coordinator, clock state.Clock, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		coord:    coord,
		clock:    clock,
		interval: interval,
		logger:   logger,
		ops:      make(chan operation),
		events:   make(chan dosing.DoseEvent, eventBufferSize),
		stopChan: make(chan struct{}),
		ring:     make([]dosing.DoseEvent, 0, doseRingSize),
	}
}

// Start boots the coordinator and launches the control loop.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.stopped {
		return ErrNotRunning
	}

	r.coord.Advance(r.clock.NowMs())
	if err := r.coord.Boot(); err != nil {
		return err
	}
	r.publish(r.coord.Snapshot())

	r.running = true
	r.wg.Add(1)
	go r.loop()

	r.logger.Info("Control loop started", zap.Duration("interval", r.interval))
	return nil
}

// Stop ends the loop and switches every pump off.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.stopped = true
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	r.logger.Info("Control loop stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			r.coord.Advance(r.clock.NowMs())
			r.coord.Shutdown()
			r.drainEvents()
			r.publish(r.coord.Snapshot())
			close(r.events)
			return

		case op := <-r.ops:
			r.coord.Advance(r.clock.NowMs())
			err := op.fn(r.coord)
			r.drainEvents()
			r.publish(r.coord.Snapshot())
			op.done <- err

		case <-ticker.C:
			snap := r.coord.Tick(r.clock.NowMs())
			r.drainEvents()
			r.publish(snap)
		}
	}
}

// Do runs fn on the control goroutine between cycles and returns its error.
func (r *Runner) Do(ctx context.Context, fn func(*Coordinator) error) error {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	op := operation{fn: fn, done: make(chan error, 1)}

	select {
	case r.ops <- op:
	case <-r.stopChan:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the state published at the end of the last cycle or
// operation.
func (r *Runner) Snapshot() Snapshot {
	r.snapMu.RLock()
	defer r.snapMu.RUnlock()
	return r.snap
}

func (r *Runner) publish(snap Snapshot) {
	snap.Timestamp = time.Now()

	r.snapMu.Lock()
	r.snap = snap
	r.snapMu.Unlock()

	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()

	for _, listener := range r.listeners {
		select {
		case listener <- snap:
		default:
			// Listener is behind, skip
		}
	}
}

// Subscribe returns a channel receiving every published snapshot. Slow
// listeners miss snapshots rather than stall the loop.
func (r *Runner) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, listenerCapacity)

	r.listenersMu.Lock()
	r.listeners = append(r.listeners, ch)
	r.listenersMu.Unlock()

	return ch
}

func (r *Runner) Unsubscribe(ch chan Snapshot) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	for i, listener := range r.listeners {
		if listener == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Events delivers every dose event. It is closed when the loop stops.
func (r *Runner) Events() <-chan dosing.DoseEvent {
	return r.events
}

// RecentDoses returns up to limit of the most recent dose events, newest
// first.
func (r *Runner) RecentDoses(limit int) []dosing.DoseEvent {
	r.ringMu.RLock()
	defer r.ringMu.RUnlock()

	if limit <= 0 || limit > len(r.ring) {
		limit = len(r.ring)
	}
	out := make([]dosing.DoseEvent, 0, limit)
	for i := len(r.ring) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.ring[i])
	}
	return out
}

func (r *Runner) drainEvents() {
	for _, ev := range r.coord.TakeEvents() {
		ev.At = time.Now()

		r.ringMu.Lock()
		if len(r.ring) == doseRingSize {
			copy(r.ring, r.ring[1:])
			r.ring = r.ring[:doseRingSize-1]
		}
		r.ring = append(r.ring, ev)
		r.ringMu.Unlock()

		select {
		case r.events <- ev:
		default:
			r.logger.Warn("Dose event buffer full, event not forwarded",
				zap.String("id", ev.ID.String()))
		}
	}
}
