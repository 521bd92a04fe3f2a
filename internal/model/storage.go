package model

import (
	"context"
	"errors"
	"time"

	"go-fleet/internal/fleet"
)

var ErrorNotFound = errors.New("not found")

type JobId string

type Job struct {
	Id        JobId          `json:"id"`
	Worker    fleet.WorkerId `json:"worker"`
	Target    string         `json:"target"`
	Method    string         `json:"method"`
	Duration  uint           `json:"duration"`
	StartedAt time.Time      `json:"startedAt"`
	Stopped   bool           `json:"stopped"`
	// Failure is set for dispatches the worker never acknowledged.
	Failure string `json:"failure,omitempty"`
}

func (job Job) EndsAt() time.Time {
	return job.StartedAt.Add(time.Duration(job.Duration) * time.Second)
}

// IsRunning is the only definition of an active job.
func IsRunning(job Job, now time.Time) bool {
	return !job.Stopped && job.EndsAt().After(now)
}

type JobStorage interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id JobId) (Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	CountRunning(ctx context.Context, worker fleet.WorkerId, now time.Time) (int, error)
	ListRunning(ctx context.Context, now time.Time) ([]Job, error)
	RunningWorkers(ctx context.Context, now time.Time) ([]fleet.WorkerId, error)
	MarkJobStopped(ctx context.Context, id JobId) error
	// MarkWorkerStopped stops every job of worker started at or before the given time.
	MarkWorkerStopped(ctx context.Context, worker fleet.WorkerId, before time.Time) (int64, error)
	// PurgeExpired deletes jobs that are not running and whose window ended before the given time.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
