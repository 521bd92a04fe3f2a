package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go-fleet/internal/fleet"
	"go-fleet/internal/model"
	"go-fleet/internal/model/sqlquery"
	"go-fleet/internal/transport"
)

type StartRequest struct {
	Target   string
	Duration uint
	Method   string
	Worker   fleet.WorkerId
}

type StartResult struct {
	Id      model.JobId
	Elapsed time.Duration
}

type StopResult struct {
	Id      model.JobId
	Elapsed time.Duration
}

type StopAllResult struct {
	Elapsed           time.Duration
	FailedWorkers     []fleet.WorkerId
	// UnrecordedWorkers accepted the termination but their jobs could not
	// be marked stopped.
	UnrecordedWorkers []fleet.WorkerId
}

type RunningJob struct {
	Id     model.JobId `json:"id"`
	Target string      `json:"target"`
	Method string      `json:"method"`
}

type WorkerStatus struct {
	Jobs     []RunningJob `json:"jobs"`
	Capacity int          `json:"capacity"`
	Used     int          `json:"used"`
}

type Dispatcher struct {
	registry     *fleet.Registry
	templates    *fleet.Templates
	storage      model.JobStorage
	admission    *Admission
	sender       transport.Sender
	acknowledger transport.Acknowledger
	token        string
	now          func() time.Time
}

type Options struct {
	Token        string
	Acknowledger transport.Acknowledger
	// Now overrides the clock used for admission and job timestamps.
	Now func() time.Time
}

func New(
	registry *fleet.Registry,
	templates *fleet.Templates,
	storage model.JobStorage,
	sender transport.Sender,
	opts Options,
) *Dispatcher {
	if opts.Acknowledger == nil {
		opts.Acknowledger = transport.SubstringAck{Marker: transport.SuccessMarker}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		registry:     registry,
		templates:    templates,
		storage:      storage,
		admission:    NewAdmission(registry, storage, opts.Now),
		sender:       sender,
		acknowledger: opts.Acknowledger,
		token:        opts.Token,
		now:          opts.Now,
	}
}

// StartJob dispatches a new job once the worker has a free slot. Once the
// command is sent the caller's cancellation is ignored until the outcome is
// recorded.
func (d *Dispatcher) StartJob(ctx context.Context, req StartRequest) (StartResult, error) {
	worker, err := d.registry.Lookup(req.Worker)
	if err != nil {
		return StartResult{}, err
	}
	id := model.JobId(uuid.NewString())
	command, err := d.templates.Build(req.Method, string(id), req.Target, req.Duration)
	if err != nil {
		return StartResult{}, err
	}

	reserveCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	reservation, err := d.admission.Reserve(reserveCtx, worker)
	cancel()
	if err != nil {
		return StartResult{}, err
	}
	defer reservation.Release()

	dispatchCtx := context.WithoutCancel(ctx)
	start := time.Now()
	err = d.send(dispatchCtx, worker, command)
	elapsed := time.Since(start)

	job := model.Job{
		Id:       id,
		Worker:   worker.Id,
		Target:   req.Target,
		Method:   req.Method,
		Duration: req.Duration,
	}
	fields := log.Fields{"id": id, "worker": worker.Id, "method": req.Method}

	storageCtx, cancel := context.WithTimeout(dispatchCtx, sqlquery.DatabaseOperationTimeout)
	defer cancel()
	if err != nil {
		job.Stopped = true
		job.Failure = err.Error()
		log.WithFields(fields).WithError(err).Warn("Job dispatch failed")
		if _, storeErr := reservation.Commit(storageCtx, job); storeErr != nil {
			log.WithFields(fields).WithError(storeErr).Error("Error recording failed dispatch")
			err = errors.Join(err, storeErr)
		}
		return StartResult{Id: id, Elapsed: elapsed}, err
	}

	job, err = reservation.Commit(storageCtx, job)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Worker accepted job but it could not be recorded")
		return StartResult{Id: id, Elapsed: elapsed}, err
	}
	if job.Stopped {
		log.WithFields(fields).Warn("Worker was terminated while the job was being dispatched")
	}
	log.WithFields(fields).WithField("elapsed", elapsed).Info("Job started")
	return StartResult{Id: id, Elapsed: elapsed}, nil
}

// StopJob terminates one job. The command is sent even when the job is
// already stopped; a failed stop leaves the job unchanged.
func (d *Dispatcher) StopJob(ctx context.Context, id model.JobId) (StopResult, error) {
	storageCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	job, err := d.storage.GetJob(storageCtx, id)
	cancel()
	if err != nil {
		if errors.Is(err, model.ErrorNotFound) {
			return StopResult{}, err
		}
		return StopResult{}, &StoreError{"getting job", err}
	}
	worker, err := d.registry.Lookup(job.Worker)
	if err != nil {
		return StopResult{}, err
	}

	start := time.Now()
	err = d.send(ctx, worker, d.templates.StopCommand(string(id)))
	elapsed := time.Since(start)
	fields := log.Fields{"id": id, "worker": worker.Id}
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Job stop failed")
		return StopResult{Id: id, Elapsed: elapsed}, err
	}

	storageCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), sqlquery.DatabaseOperationTimeout)
	defer cancel()
	if err = d.storage.MarkJobStopped(storageCtx, id); err != nil {
		return StopResult{Id: id, Elapsed: elapsed}, &StoreError{"marking job stopped", err}
	}
	log.WithFields(fields).WithField("elapsed", elapsed).Info("Job stopped")
	return StopResult{Id: id, Elapsed: elapsed}, nil
}

// StopAll terminates every worker that has running jobs. Workers are
// stopped concurrently and independently of the caller's deadline, so a
// failing worker never prevents the remaining ones from being stopped.
func (d *Dispatcher) StopAll(ctx context.Context) (StopAllResult, error) {
	storageCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	workers, err := d.storage.RunningWorkers(storageCtx, d.now())
	cancel()
	if err != nil {
		return StopAllResult{}, &StoreError{"listing running workers", err}
	}

	result := StopAllResult{
		FailedWorkers:     make([]fleet.WorkerId, 0),
		UnrecordedWorkers: make([]fleet.WorkerId, 0),
	}
	stopCtx := context.WithoutCancel(ctx)
	lock := sync.Mutex{}
	wg := sync.WaitGroup{}
	start := time.Now()
	for _, id := range workers {
		wg.Add(1)
		go func(id fleet.WorkerId) {
			defer wg.Done()
			err := d.stopWorker(stopCtx, id)
			if err == nil {
				return
			}
			fields := log.Fields{"worker": id}
			lock.Lock()
			defer lock.Unlock()
			var storeErr *StoreError
			if errors.As(err, &storeErr) {
				log.WithFields(fields).WithError(err).Error("Worker stopped but its jobs could not be marked stopped")
				result.UnrecordedWorkers = append(result.UnrecordedWorkers, id)
				return
			}
			log.WithFields(fields).WithError(err).Warn("Worker stop failed")
			result.FailedWorkers = append(result.FailedWorkers, id)
		}(id)
	}
	wg.Wait()
	result.Elapsed = time.Since(start)
	sortWorkers(result.FailedWorkers)
	sortWorkers(result.UnrecordedWorkers)

	log.WithFields(log.Fields{
		"workers":    len(workers),
		"failed":     result.FailedWorkers,
		"unrecorded": result.UnrecordedWorkers,
		"elapsed":    result.Elapsed,
	}).Info("Stopped all workers")
	return result, nil
}

// stopWorker is bounded by the transport timeout, not by ctx.
func (d *Dispatcher) stopWorker(ctx context.Context, id fleet.WorkerId) error {
	worker, err := d.registry.Lookup(id)
	if err != nil {
		return err
	}
	if err = d.send(ctx, worker, d.templates.StopAllCommand()); err != nil {
		return err
	}
	storageCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	defer cancel()
	stopped, err := d.admission.Terminated(storageCtx, id)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"worker": id, "jobs": stopped}).Debug("Worker terminated")
	return nil
}

func sortWorkers(workers []fleet.WorkerId) {
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })
}

// Status reports running jobs of every worker that has any.
func (d *Dispatcher) Status(ctx context.Context) (map[fleet.WorkerId]WorkerStatus, error) {
	storageCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	defer cancel()
	jobs, err := d.storage.ListRunning(storageCtx, d.now())
	if err != nil {
		return nil, &StoreError{"listing running jobs", err}
	}

	status := make(map[fleet.WorkerId]WorkerStatus)
	for _, job := range jobs {
		workerStatus, ok := status[job.Worker]
		if !ok {
			if worker, err := d.registry.Lookup(job.Worker); err == nil {
				workerStatus.Capacity = worker.Capacity
			}
			workerStatus.Jobs = make([]RunningJob, 0)
		}
		workerStatus.Jobs = append(workerStatus.Jobs, RunningJob{job.Id, job.Target, job.Method})
		workerStatus.Used++
		status[job.Worker] = workerStatus
	}
	return status, nil
}

func (d *Dispatcher) GetJob(ctx context.Context, id model.JobId) (model.Job, error) {
	storageCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	defer cancel()
	job, err := d.storage.GetJob(storageCtx, id)
	if err != nil && !errors.Is(err, model.ErrorNotFound) {
		return model.Job{}, &StoreError{"getting job", err}
	}
	return job, err
}

func (d *Dispatcher) send(ctx context.Context, worker fleet.Worker, command string) error {
	response, err := d.sender.Send(ctx, worker, transport.Envelope{Token: d.token, Command: command})
	if err != nil {
		return err
	}
	if !d.acknowledger.Accepted(response) {
		return fmt.Errorf("%w %s: %q", ErrorRejected, worker.Id, truncate(response, 128))
	}
	return nil
}

func truncate(response []byte, limit int) string {
	if len(response) > limit {
		return string(response[:limit]) + "..."
	}
	return string(response)
}

// ListJobs returns the most recently started jobs, failed dispatches included.
func (d *Dispatcher) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	storageCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	defer cancel()
	jobs, err := d.storage.ListJobs(storageCtx, limit)
	if err != nil {
		return nil, &StoreError{"listing jobs", err}
	}
	return jobs, nil
}
