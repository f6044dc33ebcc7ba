// Package worker runs homomorphic combine jobs on a fixed goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/TheusHen/phe/phe/elgamal"
)

var ErrPoolClosed = errors.New("worker: pool closed")

// OperationType defines the homomorphic operation to perform.
type OperationType int

const (
	OpProduct OperationType = iota // E(m1*m2*...*mn) from E(m1)..E(mn)
	OpPower                        // E(m^k) from E(m)
)

func (o OperationType) String() string {
	switch o {
	case OpProduct:
		return "product"
	case OpPower:
		return "power"
	default:
		return "unknown"
	}
}

// Job is a unit of work submitted to the pool.
type Job struct {
	ID          string
	Op          OperationType
	Ciphertexts []*elgamal.Ciphertext
	Exponent    *big.Int // OpPower only
	PublicKey   *elgamal.PublicKey

	enqueuedAt time.Time
	response   chan Result
}

// Result is the outcome of a job.
type Result struct {
	JobID           string
	Op              OperationType
	Ciphertext      *elgamal.Ciphertext
	ComputeDuration time.Duration
	QueueDuration   time.Duration
	Error           error
}

// Pool manages a fixed set of worker goroutines reading from a shared job queue.
type Pool struct {
	// OnResult, if set, observes every finished job. It runs on the worker
	// goroutine and must not block.
	OnResult func(Result)

	jobs       chan Job
	numWorkers int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a worker pool. queueSize controls the buffered channel depth.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		jobs:       make(chan Job, queueSize),
		numWorkers: numWorkers,
	}
}

// Start launches all worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit enqueues job and waits for its result. Cancelling ctx abandons the
// wait; a job already picked up still runs to completion.
func (p *Pool) Submit(ctx context.Context, job Job) (Result, error) {
	job.enqueuedAt = time.Now()
	job.response = make(chan Result, 1)

	if err := p.enqueue(ctx, job); err != nil {
		return Result{}, err
	}
	select {
	case res := <-job.response:
		return res, res.Error
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		startCompute := time.Now()
		queueDuration := startCompute.Sub(job.enqueuedAt)

		ct, err := compute(job)

		res := Result{
			JobID:           job.ID,
			Op:              job.Op,
			Ciphertext:      ct,
			ComputeDuration: time.Since(startCompute),
			QueueDuration:   queueDuration,
			Error:           err,
		}
		if p.OnResult != nil {
			p.OnResult(res)
		}
		job.response <- res
	}
}

func compute(job Job) (*elgamal.Ciphertext, error) {
	if job.PublicKey == nil {
		return nil, fmt.Errorf("worker: job %s has no public key", job.ID)
	}
	switch job.Op {
	case OpProduct:
		return job.PublicKey.CombineAll(job.Ciphertexts...)
	case OpPower:
		if len(job.Ciphertexts) != 1 {
			return nil, fmt.Errorf("worker: power takes one ciphertext, got %d", len(job.Ciphertexts))
		}
		return job.PublicKey.Pow(job.Ciphertexts[0], job.Exponent)
	default:
		return nil, fmt.Errorf("worker: unknown operation %d", job.Op)
	}
}
