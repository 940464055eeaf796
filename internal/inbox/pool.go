// Package inbox runs inbound work on a fixed set of workers keyed by user, so
// that two jobs of the same user never run concurrently and keep their order.
package inbox

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/duel-chess-bot/internal/obslog"
)

var ErrClosed = errors.New("inbox: pool closed")

type Pool struct {
	mu     sync.RWMutex
	chans  []chan func()
	closed bool
	wg     sync.WaitGroup
}

// New starts workers goroutines, each with a queue of depth jobs.
func New(workers, depth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 100
	}
	p := &Pool{chans: make([]chan func(), workers)}
	for i := range p.chans {
		p.chans[i] = make(chan func(), depth)
		p.wg.Add(1)
		go p.run(p.chans[i])
	}
	return p
}

// Submit queues job on the worker owning userID. It blocks while that queue is full.
func (p *Pool) Submit(userID int64, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	idx := userID % int64(len(p.chans))
	if idx < 0 {
		idx = -idx
	}
	p.chans[idx] <- job
	return nil
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.chans {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) run(ch chan func()) {
	defer p.wg.Done()
	for job := range ch {
		p.exec(job)
	}
}

func (p *Pool) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("inbox_job_panic", zap.Any("panic", r))
		}
	}()
	job()
}
