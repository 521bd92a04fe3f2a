package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-fleet/internal/fleet"
	"go-fleet/internal/model/sqlquery"
)

type sqlJobStorage struct {
	database   *sql.DB
	driverName string
	rwLock     *sync.RWMutex
}

// NewSQLJobStorage opens the database and creates the schema. Supported
// drivers are "postgres" (lib/pq) and "sqlite" (modernc.org/sqlite); the
// caller imports the driver.
func NewSQLJobStorage(ctx context.Context, driverName, dataSourceName string) (*sqlJobStorage, error) {
	database, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed opening database: %w", err)
	}
	if driverName == "sqlite" {
		database.SetMaxOpenConns(1)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	defer cancel()
	if err = database.PingContext(timeoutCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed checking database availibility: %w", err)
	}

	storage := sqlJobStorage{database, driverName, &sync.RWMutex{}}
	if err = storage.init(timeoutCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed initializing storage: %w", err)
	}
	return &storage, nil
}

func (st *sqlJobStorage) CreateJob(ctx context.Context, job Job) error {
	err := st.updateJobs(
		ctx,
		sqlquery.NewJob,
		string(job.Id),
		string(job.Worker),
		job.Target,
		job.Method,
		int64(job.Duration),
		job.StartedAt.UnixMilli(),
		job.Stopped,
		job.Failure,
	)
	if err != nil {
		return fmt.Errorf("failed creating job %s: %w", job.Id, err)
	}
	return nil
}

func (st *sqlJobStorage) GetJob(ctx context.Context, id JobId) (Job, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	job := Job{}
	err := scanJob(st.database.QueryRowContext(ctx, st.query(sqlquery.GetJob), string(id)), &job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, fmt.Errorf("job %s: %w", id, ErrorNotFound)
		}
		return Job{}, fmt.Errorf("failed getting job by id %s: %w", id, err)
	}
	return job, nil
}

func (st *sqlJobStorage) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	jobs, err := st.queryJobs(ctx, sqlquery.ListJobs, limit)
	if err != nil {
		err = fmt.Errorf("failed listing jobs: %w", err)
	}
	return jobs, err
}

func (st *sqlJobStorage) CountRunning(ctx context.Context, worker fleet.WorkerId, now time.Time) (int, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	var running int
	err := st.database.QueryRowContext(ctx, st.query(sqlquery.CountRunning), string(worker), now.UnixMilli()).Scan(&running)
	if err != nil {
		return 0, fmt.Errorf("failed counting running jobs of worker %s: %w", worker, err)
	}
	return running, nil
}

func (st *sqlJobStorage) ListRunning(ctx context.Context, now time.Time) ([]Job, error) {
	jobs, err := st.queryJobs(ctx, sqlquery.ListRunning, now.UnixMilli())
	if err != nil {
		err = fmt.Errorf("failed listing running jobs: %w", err)
	}
	return jobs, err
}

func (st *sqlJobStorage) RunningWorkers(ctx context.Context, now time.Time) ([]fleet.WorkerId, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	rows, err := st.database.QueryContext(ctx, st.query(sqlquery.RunningWorkers), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed running workers query: %w", err)
	}
	defer rows.Close()

	workers := make([]fleet.WorkerId, 0)
	for rows.Next() {
		var worker fleet.WorkerId
		if err = rows.Scan(&worker); err != nil {
			return nil, fmt.Errorf("failed scanning worker: %w", err)
		}
		workers = append(workers, worker)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading running workers: %w", err)
	}
	return workers, nil
}

func (st *sqlJobStorage) MarkJobStopped(ctx context.Context, id JobId) error {
	affected, err := st.exec(ctx, sqlquery.MarkStopped, string(id))
	if err != nil {
		return fmt.Errorf("failed marking job %s stopped: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrorNotFound)
	}
	return nil
}

func (st *sqlJobStorage) MarkWorkerStopped(ctx context.Context, worker fleet.WorkerId, before time.Time) (int64, error) {
	affected, err := st.exec(ctx, sqlquery.MarkWorker, string(worker), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed marking jobs of worker %s stopped: %w", worker, err)
	}
	return affected, nil
}

func (st *sqlJobStorage) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	affected, err := st.exec(ctx, sqlquery.PurgeExpired, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed purging expired jobs: %w", err)
	}
	return affected, nil
}

func (st *sqlJobStorage) Close() error {
	return st.database.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner, job *Job) error {
	var startedAt int64
	err := sc.Scan(
		&job.Id,
		&job.Worker,
		&job.Target,
		&job.Method,
		&job.Duration,
		&startedAt,
		&job.Stopped,
		&job.Failure,
	)
	if err != nil {
		return err
	}
	job.StartedAt = time.UnixMilli(startedAt)
	return nil
}

func (st *sqlJobStorage) query(query string) string {
	return sqlquery.Rebind(st.driverName, query)
}

func (st *sqlJobStorage) queryJobs(ctx context.Context, query string, params ...any) ([]Job, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	rows, err := st.database.QueryContext(ctx, st.query(query), params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		job := Job{}
		if err = scanJob(rows, &job); err != nil {
			return nil, fmt.Errorf("failed scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (st *sqlJobStorage) updateJobs(ctx context.Context, query string, params ...any) error {
	_, err := st.exec(ctx, query, params...)
	return err
}

func (st *sqlJobStorage) exec(ctx context.Context, query string, params ...any) (int64, error) {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	result, err := st.database.ExecContext(ctx, st.query(query), params...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (st *sqlJobStorage) transact(ctx context.Context, transactionFunc func(context.Context, *sql.Tx) error) error {
	st.rwLock.Lock()
	defer st.rwLock.Unlock()

	tx, err := st.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = transactionFunc(ctx, tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (st *sqlJobStorage) init(ctx context.Context) error {
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlquery.CreateSchema); err != nil {
			return fmt.Errorf("error creating jobs table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlquery.CreateWorkerIndex); err != nil {
			return fmt.Errorf("error creating worker index: %w", err)
		}
		return nil
	}
	return st.transact(ctx, transactionFunc)
}
