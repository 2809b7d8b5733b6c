package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"healthrecords/models"
)

// WriteFunc performs one ledger write attributed to from.
type WriteFunc func(ctx context.Context, from common.Address) error

// AuthorizeFunc reports the address allowed to sign right now, or why no
// write may be dispatched.
type AuthorizeFunc func() (common.Address, error)

// WriteDispatcher runs ledger writes one at a time. The authorization gate is
// evaluated when a write is taken off the queue, not when it is submitted,
// so a wallet switch in between is always seen.
type WriteDispatcher struct {
	authorize AuthorizeFunc
	metrics   *MetricsCollector

	jobs       chan *writeJob
	slots      chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

type writeJob struct {
	id       string
	name     string
	ctx      context.Context
	fn       WriteFunc
	resultCh chan error
}

// NewWriteDispatcher creates a dispatcher admitting at most queueSize writes
// at once, counting the one in flight.
func NewWriteDispatcher(authorize AuthorizeFunc, metrics *MetricsCollector, queueSize int) *WriteDispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &WriteDispatcher{
		authorize:  authorize,
		metrics:    metrics,
		jobs:       make(chan *writeJob, queueSize),
		slots:      make(chan struct{}, queueSize),
		shutdownCh: make(chan struct{}),
	}
}

func (d *WriteDispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop waits for the write in flight, if any. Queued writes are answered
// with context.Canceled.
func (d *WriteDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.shutdownCh)
		d.wg.Wait()
	})
}

// Submit queues a write and waits for its outcome. When the queue is full it
// fails at once with ErrWritePending.
func (d *WriteDispatcher) Submit(ctx context.Context, name string, fn WriteFunc) error {
	select {
	case <-d.shutdownCh:
		return context.Canceled
	default:
	}

	select {
	case d.slots <- struct{}{}:
	default:
		log.Printf("Warning: %s refused, another ledger write is pending", name)
		return models.ErrWritePending
	}

	job := &writeJob{
		id:       uuid.NewString(),
		name:     name,
		ctx:      ctx,
		fn:       fn,
		resultCh: make(chan error, 1),
	}

	select {
	case d.jobs <- job:
	case <-d.shutdownCh:
		<-d.slots
		return context.Canceled
	}

	select {
	case err := <-job.resultCh:
		return err
	case <-ctx.Done():
		// The worker still owns the job; a write already sent to the
		// ledger cannot be recalled.
		return ctx.Err()
	}
}

func (d *WriteDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdownCh:
			d.drain()
			return
		case job := <-d.jobs:
			job.resultCh <- d.run(job)
			<-d.slots
		}
	}
}

func (d *WriteDispatcher) run(job *writeJob) error {
	if err := job.ctx.Err(); err != nil {
		return err
	}

	from, err := d.authorize()
	if err != nil {
		d.metrics.RecordBlockedWrite()
		log.Printf("Blocked %s (%s): %v", job.name, job.id, err)
		return err
	}

	d.metrics.RecordWriteStart()
	startTime := time.Now()
	err = job.fn(job.ctx, from)
	processingTime := time.Since(startTime)

	_, rejected := models.IsRejected(err)
	d.metrics.RecordWriteEnd(processingTime, rejected, err != nil && !rejected)

	if err != nil {
		log.Printf("Ledger write %s (%s) from %s failed after %v: %v", job.name, job.id, from.Hex(), processingTime, err)
		return err
	}
	log.Printf("Ledger write %s (%s) from %s completed in %v", job.name, job.id, from.Hex(), processingTime)
	return nil
}

func (d *WriteDispatcher) drain() {
	for {
		select {
		case job := <-d.jobs:
			job.resultCh <- context.Canceled
			<-d.slots
		default:
			return
		}
	}
}
