package go_fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	nhttp "net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"go-fleet/internal/dispatcher"
	"go-fleet/internal/fleet"
	"go-fleet/internal/http"
	"go-fleet/internal/model"
	"go-fleet/internal/transport"
	"go-fleet/test/data"
	"go-fleet/test/url"
	"go-fleet/test/worker"
)

type testApp struct {
	base    string
	client  *nhttp.Client
	storage model.JobStorage
	workers map[fleet.WorkerId]*worker.Fake
}

const timeout = time.Second * 15

func TestGoFleet(t *testing.T) {
	log.SetLevel(log.WarnLevel)
	background := context.Background()

	t.Run("Test starting jobs and status", func(t *testing.T) {
		app := setupApp(background, t)
		ids := app.startInitialJobs(background, t)

		status, err := app.status(background)
		if err != nil {
			t.Fatal(err)
		}
		requireEqual("workers with running jobs", 2, len(status.Workers), t)
		requireEqual("used slots on srv1", 2, status.Workers["srv1"].Used, t)
		requireEqual("total slots on srv1", 2, status.Workers["srv1"].Capacity, t)
		requireEqual("used slots on srv2", 1, status.Workers["srv2"].Used, t)

		job, err := app.getJob(background, ids[0])
		if err != nil {
			t.Fatal(err)
		}
		requireEqual("target", data.InitialJobs[0].Target, job.Target, t)
		requireEqual("duration", *data.InitialJobs[0].Duration, job.Duration, t)
		requireEqual("method", data.Method, job.Method, t)
		requireEqual("stopped", false, job.Stopped, t)

		commands := app.workers["srv1"].Commands()
		requireEqual(
			"command",
			fmt.Sprintf("run-job --tag job_%s --url http://example.com --seconds 60", ids[0]),
			commands[0],
			t,
		)
		for _, envelope := range app.workers["srv1"].Received() {
			requireEqual("token", data.Token, envelope.Token, t)
		}
	})

	t.Run("Test starting job on full worker", func(t *testing.T) {
		app := setupApp(background, t)
		app.startInitialJobs(background, t)

		_, err := app.startJob(background, &data.InitialJobs[0])
		expectErrorStatusCode(err, nhttp.StatusConflict, t)
	})

	t.Run("Test starting invalid jobs", func(t *testing.T) {
		app := setupApp(background, t)
		for name, job := range data.InvalidJobs {
			job := job
			_, err := app.startJob(background, &job)
			if err == nil {
				t.Fatalf("%s: expected job to be rejected", name)
			}
			expectErrorStatusCode(err, nhttp.StatusUnprocessableEntity, t)
		}
		requireEqual("envelopes sent", 0, len(app.workers["srv1"].Received()), t)
	})

	t.Run("Test starting job rejected by worker", func(t *testing.T) {
		app := setupApp(background, t)
		app.workers["srv1"].SetReply(worker.Failure)

		_, err := app.startJob(background, &data.InitialJobs[0])
		expectErrorStatusCode(err, nhttp.StatusBadGateway, t)

		status, err := app.status(background)
		if err != nil {
			t.Fatal(err)
		}
		requireEqual("workers with running jobs", 0, len(status.Workers), t)
	})

	t.Run("Test stopping job", func(t *testing.T) {
		app := setupApp(background, t)
		ids := app.startInitialJobs(background, t)

		if err := app.stopJob(background, ids[0]); err != nil {
			t.Fatal(err)
		}
		job, err := app.getJob(background, ids[0])
		if err != nil {
			t.Fatal(err)
		}
		requireEqual("stopped", true, job.Stopped, t)

		status, err := app.status(background)
		if err != nil {
			t.Fatal(err)
		}
		requireEqual("used slots on srv1", 1, status.Workers["srv1"].Used, t)
	})

	t.Run("Test stopping nonexistent job", func(t *testing.T) {
		app := setupApp(background, t)
		err := app.stopJob(background, model.JobId(uuid.NewString()))
		expectErrorStatusCode(err, nhttp.StatusNotFound, t)
	})

	t.Run("Test stopping all jobs with failing worker", func(t *testing.T) {
		app := setupApp(background, t)
		ids := app.startInitialJobs(background, t)
		app.workers["srv2"].SetReply(worker.Failure)

		result, err := app.stopAll(background)
		if err != nil {
			t.Fatal(err)
		}
		requireEqual("failed workers", 1, len(result.FailedWorkers), t)
		requireEqual("failed worker", fleet.WorkerId("srv2"), result.FailedWorkers[0], t)

		for i, id := range ids {
			job, err := app.getJob(background, id)
			if err != nil {
				t.Fatal(err)
			}
			requireEqual(fmt.Sprintf("job %d stopped", i), job.Worker == "srv1", job.Stopped, t)
		}
	})

	t.Run("Test listing jobs", func(t *testing.T) {
		app := setupApp(background, t)
		app.startInitialJobs(background, t)

		var jobs []model.Job
		if err := app.get(background, url.ListJobs(app.base)+"?limit=2", &jobs); err != nil {
			t.Fatal(err)
		}
		requireEqual("listed jobs", 2, len(jobs), t)

		err := app.get(background, url.ListJobs(app.base)+"?limit=0", &jobs)
		expectErrorStatusCode(err, nhttp.StatusBadRequest, t)
	})
}

func setupApp(ctx context.Context, t *testing.T) *testApp {
	storage, err := model.NewSQLJobStorage(ctx, "sqlite", filepath.Join(t.TempDir(), "go-fleet.db"))
	if err != nil {
		t.Fatal(fmt.Errorf("could not create job storage: %w", err))
	}
	t.Cleanup(func() { storage.Close() })

	srv1 := worker.Start(t, worker.Success)
	srv2 := worker.Start(t, worker.Success)
	registry, err := fleet.NewRegistry(srv1.Worker("srv1", 2), srv2.Worker("srv2", 1))
	if err != nil {
		t.Fatal(err)
	}
	templates, err := fleet.NewTemplates(data.Commands, "", "")
	if err != nil {
		t.Fatal(err)
	}
	jobDispatcher := dispatcher.New(
		registry,
		templates,
		storage,
		transport.NewClient(time.Second),
		dispatcher.Options{Token: data.Token},
	)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	server, err := http.NewJobServer(jobDispatcher, registry, templates, listener.Addr().String())
	if err != nil {
		t.Fatal(fmt.Errorf("could not create job server: %w", err))
	}
	registerServer(ctx, t, server, listener)

	return &testApp{
		base:    "http://" + listener.Addr().String(),
		client:  nhttp.DefaultClient,
		storage: storage,
		workers: map[fleet.WorkerId]*worker.Fake{"srv1": srv1, "srv2": srv2},
	}
}

func registerServer(ctx context.Context, t *testing.T, server *nhttp.Server, listener net.Listener) {
	go func() {
		if err := server.Serve(listener); err != nil {
			if !errors.Is(err, nhttp.ErrServerClosed) {
				t.Error(fmt.Errorf("error starting server: %w", err))
			}
		}
	}()
	t.Cleanup(func() {
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := server.Shutdown(timeoutCtx); err != nil {
			t.Error(fmt.Errorf("error while shutting down sever: %w", err))
		}
	})
}

func expectErrorStatusCode(err error, errorStatusCode int, t *testing.T) {
	t.Helper()
	if err != nil {
		var statusCodeErr *statusCodeError
		if errors.As(err, &statusCodeErr) {
			if statusCodeErr.receivedStatusCode != errorStatusCode {
				t.Fatalf(
					"expected status code %d, received %d",
					errorStatusCode,
					statusCodeErr.receivedStatusCode,
				)
			}
		} else {
			t.Fatal(err)
		}
	} else {
		t.Fatalf("expected error, got %d", nhttp.StatusOK)
	}
}

func requireEqual[K comparable](name string, first K, second K, t *testing.T) {
	t.Helper()
	if first != second {
		t.Fatalf("expected %s to be equal, instead got %v and %v", name, first, second)
	}
}

type responseStarted struct {
	Id          model.JobId `json:"id"`
	ElapsedTime string      `json:"elapsed_time"`
}

type responseStoppedAll struct {
	ElapsedTime   string           `json:"elapsed_time"`
	FailedWorkers []fleet.WorkerId `json:"failed_workers"`
}

type responseStatus struct {
	Workers map[fleet.WorkerId]dispatcher.WorkerStatus `json:"workers"`
}

type statusCodeError struct {
	expectedStatusCode int
	receivedStatusCode int
	responseBody       string
}

func (e *statusCodeError) Error() string {
	return fmt.Sprintf(
		"expected status code %d, got %d, response body: %s",
		e.expectedStatusCode,
		e.receivedStatusCode,
		e.responseBody,
	)
}

func checkStatusCode(response *nhttp.Response, statusCode int) error {
	if response.StatusCode != statusCode {
		buffer := bytes.Buffer{}
		buffer.ReadFrom(response.Body)
		return &statusCodeError{statusCode, response.StatusCode, buffer.String()}
	}
	return nil
}

func decodeResponse(response *nhttp.Response, v any) error {
	err := json.NewDecoder(response.Body).Decode(v)
	if err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (ta *testApp) do(ctx context.Context, method, target string, body any, v any) error {
	var reader *bytes.Reader
	if body != nil {
		js, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshalling request: %w", err)
		}
		reader = bytes.NewReader(js)
	} else {
		reader = bytes.NewReader(nil)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	request, err := nhttp.NewRequestWithContext(timeoutCtx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := ta.client.Do(request)
	if err != nil {
		return fmt.Errorf("error getting response for %s %s: %w", method, target, err)
	}
	defer response.Body.Close()
	if err = checkStatusCode(response, nhttp.StatusOK); err != nil {
		return fmt.Errorf("error calling %s %s: %w", method, target, err)
	}
	if v == nil {
		return nil
	}
	return decodeResponse(response, v)
}

func (ta *testApp) get(ctx context.Context, target string, v any) error {
	return ta.do(ctx, "GET", target, nil, v)
}

func (ta *testApp) startJob(ctx context.Context, jobData *data.JobRequestData) (model.JobId, error) {
	var started responseStarted
	if err := ta.do(ctx, "POST", url.StartJob(ta.base), jobData, &started); err != nil {
		return "", err
	}
	return started.Id, nil
}

func (ta *testApp) startInitialJobs(ctx context.Context, t *testing.T) []model.JobId {
	ids := make([]model.JobId, 0, len(data.InitialJobs))
	for i := range data.InitialJobs {
		id, err := ta.startJob(ctx, &data.InitialJobs[i])
		if err != nil {
			t.Fatal(fmt.Errorf("error starting initial jobs: %w", err))
		}
		ids = append(ids, id)
	}
	return ids
}

func (ta *testApp) getJob(ctx context.Context, id model.JobId) (*model.Job, error) {
	var job model.Job
	if err := ta.get(ctx, url.GetJob(ta.base, id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (ta *testApp) stopJob(ctx context.Context, id model.JobId) error {
	return ta.do(ctx, "DELETE", url.StopJob(ta.base, id), nil, nil)
}

func (ta *testApp) stopAll(ctx context.Context) (*responseStoppedAll, error) {
	var result responseStoppedAll
	if err := ta.do(ctx, "POST", url.StopAll(ta.base), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (ta *testApp) status(ctx context.Context) (*responseStatus, error) {
	var status responseStatus
	if err := ta.get(ctx, url.Status(ta.base), &status); err != nil {
		return nil, err
	}
	return &status, nil
}
