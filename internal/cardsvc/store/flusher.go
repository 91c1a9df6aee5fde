package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Flusher writes the MemoryStore's pending changes to a Backend.
//
// Flush policy: every interval, and as soon as maxPending changes are
// waiting. Commits made after the last successful flush are lost if the
// process dies before the next one.
type Flusher struct {
	mem        *MemoryStore
	backend    Backend
	interval   time.Duration
	maxPending int

	sched gocron.Scheduler
	job   gocron.Job

	mu        sync.Mutex // one flush at a time
	closed    bool
	closing   atomic.Bool
	triggered atomic.Bool
}

func NewFlusher(mem *MemoryStore, backend Backend, interval time.Duration, maxPending int) (*Flusher, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if maxPending <= 0 {
		maxPending = 100
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	f := &Flusher{
		mem:        mem,
		backend:    backend,
		interval:   interval,
		maxPending: maxPending,
		sched:      sched,
	}

	job, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(f.runScheduled),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		sched.Shutdown()
		return nil, fmt.Errorf("create flush job: %w", err)
	}
	f.job = job

	mem.SetOnDirty(f.onDirty)
	return f, nil
}

func (f *Flusher) Start() {
	f.sched.Start()
	log.Infof("[store] write-behind flush every %s or at %d pending changes", f.interval, f.maxPending)
}

// onDirty runs on the write path, so the trigger never blocks it.
func (f *Flusher) onDirty(pending int) {
	if pending < f.maxPending || !f.triggered.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer f.triggered.Store(false)
		if err := f.job.RunNow(); err != nil {
			log.Warnf("[store] unable to trigger flush: %v", err)
		}
	}()
}

func (f *Flusher) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.Flush(ctx); err != nil {
		log.Errorf("[store] flush failed: %v", err)
	}
}

// Flush writes all pending changes. On failure they are queued again.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	return f.flushLocked(ctx)
}

func (f *Flusher) flushLocked(ctx context.Context) error {
	b := f.mem.drain()
	if b.Empty() {
		return nil
	}

	if err := f.backend.Save(ctx, b); err != nil {
		f.mem.requeue(b)
		return fmt.Errorf("save batch of %d changes: %w", b.Size(), err)
	}
	log.Debugf("[store] flushed %d changes", b.Size())
	return nil
}

// Close stops the schedule, flushes what is left and closes the backend.
func (f *Flusher) Close(ctx context.Context) error {
	if !f.closing.CompareAndSwap(false, true) {
		return nil
	}
	f.mem.SetOnDirty(nil)
	if err := f.sched.Shutdown(); err != nil {
		log.Warnf("[store] scheduler shutdown: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true

	flushErr := f.flushLocked(ctx)
	if err := f.backend.Close(); err != nil && flushErr == nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return flushErr
}
