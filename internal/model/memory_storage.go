package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go-fleet/internal/fleet"
)

type memoryJobStorage struct {
	jobs   map[JobId]Job
	rwLock *sync.RWMutex
}

// NewMemoryJobStorage keeps jobs in process memory; state is lost on restart.
func NewMemoryJobStorage() *memoryJobStorage {
	return &memoryJobStorage{make(map[JobId]Job), &sync.RWMutex{}}
}

func (st *memoryJobStorage) CreateJob(_ context.Context, job Job) error {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	if _, exists := st.jobs[job.Id]; exists {
		return fmt.Errorf("failed creating job %s: duplicate id", job.Id)
	}
	st.jobs[job.Id] = job
	return nil
}

func (st *memoryJobStorage) GetJob(_ context.Context, id JobId) (Job, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	job, ok := st.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrorNotFound)
	}
	return job, nil
}

func (st *memoryJobStorage) ListJobs(_ context.Context, limit int) ([]Job, error) {
	jobs := st.filter(func(Job) bool { return true })
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	if limit >= 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (st *memoryJobStorage) CountRunning(_ context.Context, worker fleet.WorkerId, now time.Time) (int, error) {
	return len(st.filter(func(job Job) bool { return job.Worker == worker && IsRunning(job, now) })), nil
}

func (st *memoryJobStorage) ListRunning(_ context.Context, now time.Time) ([]Job, error) {
	jobs := st.filter(func(job Job) bool { return IsRunning(job, now) })
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Worker != jobs[j].Worker {
			return jobs[i].Worker < jobs[j].Worker
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs, nil
}

func (st *memoryJobStorage) RunningWorkers(ctx context.Context, now time.Time) ([]fleet.WorkerId, error) {
	running, _ := st.ListRunning(ctx, now)
	workers := make([]fleet.WorkerId, 0)
	for _, job := range running {
		if len(workers) == 0 || workers[len(workers)-1] != job.Worker {
			workers = append(workers, job.Worker)
		}
	}
	return workers, nil
}

func (st *memoryJobStorage) MarkJobStopped(_ context.Context, id JobId) error {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	job, ok := st.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrorNotFound)
	}
	job.Stopped = true
	st.jobs[id] = job
	return nil
}

func (st *memoryJobStorage) MarkWorkerStopped(_ context.Context, worker fleet.WorkerId, before time.Time) (int64, error) {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	var affected int64
	for id, job := range st.jobs {
		if job.Worker == worker && !job.Stopped && !job.StartedAt.After(before) {
			job.Stopped = true
			st.jobs[id] = job
			affected++
		}
	}
	return affected, nil
}

func (st *memoryJobStorage) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	var affected int64
	for id, job := range st.jobs {
		if job.EndsAt().Before(before) {
			delete(st.jobs, id)
			affected++
		}
	}
	return affected, nil
}

func (st *memoryJobStorage) Close() error {
	return nil
}

func (st *memoryJobStorage) filter(keep func(Job) bool) []Job {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	jobs := make([]Job, 0)
	for _, job := range st.jobs {
		if keep(job) {
			jobs = append(jobs, job)
		}
	}
	return jobs
}
