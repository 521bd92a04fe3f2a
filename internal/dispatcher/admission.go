package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-fleet/internal/fleet"
	"go-fleet/internal/model"
)

type workerSlots struct {
	lock     sync.Mutex
	inflight int
	// generation changes whenever a worker-wide termination is accepted.
	generation uint64
}

// Admission serializes capacity checks and commits per worker. Dispatches in
// flight hold a reservation, so the network call happens outside the lock.
type Admission struct {
	storage model.JobStorage
	slots   map[fleet.WorkerId]*workerSlots
	now     func() time.Time
}

func NewAdmission(registry *fleet.Registry, storage model.JobStorage, now func() time.Time) *Admission {
	slots := make(map[fleet.WorkerId]*workerSlots)
	for _, id := range registry.Ids() {
		slots[id] = &workerSlots{}
	}
	if now == nil {
		now = time.Now
	}
	return &Admission{storage, slots, now}
}

// HasCapacity reports whether worker has a free slot without reserving it.
func (a *Admission) HasCapacity(ctx context.Context, worker fleet.Worker) (bool, int, error) {
	slot, err := a.slot(worker.Id)
	if err != nil {
		return false, 0, err
	}
	slot.lock.Lock()
	defer slot.lock.Unlock()

	used, err := a.used(ctx, worker.Id, slot)
	if err != nil {
		return false, 0, err
	}
	return used < worker.Capacity, used, nil
}

func (a *Admission) Reserve(ctx context.Context, worker fleet.Worker) (*Reservation, error) {
	slot, err := a.slot(worker.Id)
	if err != nil {
		return nil, err
	}
	slot.lock.Lock()
	defer slot.lock.Unlock()

	used, err := a.used(ctx, worker.Id, slot)
	if err != nil {
		return nil, err
	}
	if used >= worker.Capacity {
		return nil, &CapacityError{worker.Id, used}
	}
	slot.inflight++
	return &Reservation{admission: a, slot: slot, worker: worker.Id, generation: slot.generation}, nil
}

// Terminated records an accepted worker-wide termination: every committed job
// of worker is stopped and reservations taken before it will commit stopped.
func (a *Admission) Terminated(ctx context.Context, worker fleet.WorkerId) (int64, error) {
	slot, err := a.slot(worker)
	if err != nil {
		return 0, err
	}
	slot.lock.Lock()
	defer slot.lock.Unlock()

	slot.generation++
	affected, err := a.storage.MarkWorkerStopped(ctx, worker, a.now())
	if err != nil {
		return 0, &StoreError{"marking worker jobs stopped", err}
	}
	return affected, nil
}

func (a *Admission) used(ctx context.Context, worker fleet.WorkerId, slot *workerSlots) (int, error) {
	running, err := a.storage.CountRunning(ctx, worker, a.now())
	if err != nil {
		return 0, &StoreError{"counting running jobs", err}
	}
	return running + slot.inflight, nil
}

func (a *Admission) slot(worker fleet.WorkerId) (*workerSlots, error) {
	slot, ok := a.slots[worker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fleet.ErrorUnknownWorker, worker)
	}
	return slot, nil
}

// Reservation holds one slot of a worker until it is committed or released.
type Reservation struct {
	admission  *Admission
	slot       *workerSlots
	worker     fleet.WorkerId
	generation uint64
	done       bool
}

// Commit stores job and frees the reservation. StartedAt is set here, at
// commit time.
func (r *Reservation) Commit(ctx context.Context, job model.Job) (model.Job, error) {
	r.slot.lock.Lock()
	defer r.slot.lock.Unlock()
	if r.done {
		return job, fmt.Errorf("reservation on worker %s already finished", r.worker)
	}
	r.done = true
	r.slot.inflight--

	job.StartedAt = r.admission.now()
	if r.slot.generation != r.generation {
		job.Stopped = true
	}
	if err := r.admission.storage.CreateJob(ctx, job); err != nil {
		return job, &StoreError{"recording job", err}
	}
	return job, nil
}

func (r *Reservation) Release() {
	r.slot.lock.Lock()
	defer r.slot.lock.Unlock()
	if !r.done {
		r.done = true
		r.slot.inflight--
	}
}
