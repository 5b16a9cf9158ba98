package pipeline

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrSequencerClosed is returned when work is submitted after Close.
var ErrSequencerClosed = errors.New("sequencer is closed")

// Sequencer dispatches jobs so that jobs sharing a key run strictly in
// submission order, one at a time, while distinct keys proceed in parallel.
// Total parallelism is bounded by a worker-slot semaphore.
type Sequencer struct {
	logger *zap.Logger
	slots  chan struct{}

	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool
	wg     sync.WaitGroup
}

type keyQueue struct {
	jobs []func()
}

// NewSequencer creates a sequencer allowing at most maxWorkers keys to be
// draining concurrently.
func NewSequencer(maxWorkers int, logger *zap.Logger) *Sequencer {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Sequencer{
		logger: logger.Named("sequencer"),
		slots:  make(chan struct{}, maxWorkers),
		queues: make(map[string]*keyQueue),
	}
}

// Submit enqueues a job under the given key. Jobs for the same key run in
// the order they were submitted; there is never more than one job of a key
// in flight.
func (s *Sequencer) Submit(key string, job func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSequencerClosed
	}
	q, active := s.queues[key]
	if !active {
		q = &keyQueue{}
		s.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	if !active {
		s.wg.Add(1)
		go s.drain(key)
	}
	s.mu.Unlock()
	return nil
}

// drain runs the key's jobs sequentially until the queue empties, then
// retires the queue.
func (s *Sequencer) drain(key string) {
	defer s.wg.Done()
	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q.jobs) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		s.mu.Unlock()

		job()
	}
}

// Close rejects further submissions and waits for all queued jobs to finish.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("Sequencer drained")
}

// PendingKeys returns the number of keys with queued or running work.
func (s *Sequencer) PendingKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}
