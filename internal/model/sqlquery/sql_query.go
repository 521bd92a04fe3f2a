package sqlquery

import (
	"strconv"
	"strings"
	"time"
)

// Queries use ? placeholders; Rebind converts them for drivers using $n.
// Times are milliseconds since the epoch and "now" is always a parameter.
const (
	CreateSchema = `CREATE TABLE IF NOT EXISTS jobs (
	id VARCHAR(64) PRIMARY KEY,
	worker VARCHAR(255) NOT NULL,
	target TEXT NOT NULL,
	method VARCHAR(64) NOT NULL,
	duration BIGINT NOT NULL,
	startedAt BIGINT NOT NULL,
	stopped BOOLEAN NOT NULL DEFAULT FALSE,
	failure TEXT NOT NULL DEFAULT ''
)`
	CreateWorkerIndex = "CREATE INDEX IF NOT EXISTS jobs_worker_idx ON jobs (worker, stopped)"

	NewJob         = "INSERT INTO jobs (id, worker, target, method, duration, startedAt, stopped, failure) values (?, ?, ?, ?, ?, ?, ?, ?)"
	GetJob         = "SELECT id, worker, target, method, duration, startedAt, stopped, failure FROM jobs WHERE id = ?"
	ListJobs       = "SELECT id, worker, target, method, duration, startedAt, stopped, failure FROM jobs ORDER BY startedAt DESC LIMIT ?"
	CountRunning   = "SELECT COUNT(*) FROM jobs WHERE worker = ? AND " + runningCondition
	ListRunning    = "SELECT id, worker, target, method, duration, startedAt, stopped, failure FROM jobs WHERE " + runningCondition + " ORDER BY worker, startedAt"
	RunningWorkers = "SELECT DISTINCT worker FROM jobs WHERE " + runningCondition + " ORDER BY worker"
	MarkStopped    = "UPDATE jobs SET stopped = TRUE WHERE id = ?"
	MarkWorker     = "UPDATE jobs SET stopped = TRUE WHERE worker = ? AND startedAt <= ? AND NOT stopped"
	PurgeExpired   = "DELETE FROM jobs WHERE startedAt + duration * 1000 < ?"

	runningCondition = "NOT stopped AND startedAt + duration * 1000 > ?"

	DatabaseOperationTimeout = time.Second * 5
)

func Rebind(driverName, query string) string {
	if driverName != "postgres" {
		return query
	}
	builder := strings.Builder{}
	builder.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
