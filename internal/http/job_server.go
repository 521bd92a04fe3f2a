package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"go-fleet/internal/dispatcher"
	"go-fleet/internal/fleet"
	"go-fleet/internal/http/constants"
	herrors "go-fleet/internal/http/errors"
	"go-fleet/internal/http/validation"
	"go-fleet/internal/model"
	"go-fleet/internal/transport"
)

type JobDispatcher interface {
	StartJob(ctx context.Context, req dispatcher.StartRequest) (dispatcher.StartResult, error)
	StopJob(ctx context.Context, id model.JobId) (dispatcher.StopResult, error)
	StopAll(ctx context.Context) (dispatcher.StopAllResult, error)
	Status(ctx context.Context) (map[fleet.WorkerId]dispatcher.WorkerStatus, error)
	GetJob(ctx context.Context, id model.JobId) (model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
}

type jobServer struct {
	dispatcher JobDispatcher
	validate   *validator.Validate
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error forming response data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

var (
	startJobErrorHandler = herrors.NewErrorHandler("StartJob")
	stopJobErrorHandler  = herrors.NewErrorHandler("StopJob")
	stopAllErrorHandler  = herrors.NewErrorHandler("StopAll")
	statusErrorHandler   = herrors.NewErrorHandler("Status")
	getJobErrorHandler   = herrors.NewErrorHandler("GetJob")
	listJobsErrorHandler = herrors.NewErrorHandler("ListJobs")
)

type requestJob struct {
	Target   string `json:"target" validate:"required,max=2048,httpTarget"`
	Duration *uint  `json:"duration" validate:"required,max=86400"`
	Method   string `json:"method" validate:"required,knownMethod"`
	Worker   string `json:"worker" validate:"required,knownWorker"`
}

type responseJobData struct {
	Target   string `json:"target"`
	Duration uint   `json:"duration"`
	Method   string `json:"method"`
	Worker   string `json:"worker"`
}

type responseStarted struct {
	Id          model.JobId     `json:"id"`
	ElapsedTime string          `json:"elapsed_time"`
	Data        responseJobData `json:"data"`
}

type responseStopped struct {
	Id          model.JobId `json:"id"`
	ElapsedTime string      `json:"elapsed_time"`
}

type responseStoppedAll struct {
	ElapsedTime       string           `json:"elapsed_time"`
	FailedWorkers     []fleet.WorkerId `json:"failed_workers"`
	UnrecordedWorkers []fleet.WorkerId `json:"unrecorded_workers"`
}

type responseStatus struct {
	Workers map[fleet.WorkerId]dispatcher.WorkerStatus `json:"workers"`
}

func elapsedTime(elapsed time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(elapsed)/float64(time.Millisecond))
}

// statusCode maps dispatcher errors to HTTP status codes.
func statusCode(err error) int {
	var storeErr *dispatcher.StoreError
	switch {
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatcher.ErrorCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrorUnknownWorker), errors.Is(err, fleet.ErrorUnknownMethod):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dispatcher.ErrorRejected),
		errors.Is(err, transport.ErrorUnreachable),
		errors.Is(err, transport.ErrorTimeout),
		errors.Is(err, transport.ErrorTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (js *jobServer) startJobHandler(w http.ResponseWriter, req *http.Request) {
	contentType := req.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		startJobErrorHandler.WriteAndLogError(
			w,
			"failed to parse media type",
			err, http.StatusBadRequest,
			log.Fields{"header": contentType},
		)
		return
	}
	if mediaType != "application/json" {
		startJobErrorHandler.WriteAndLogError(
			w,
			"expect application/json Content-Type",
			errors.New("Content-Type error"),
			http.StatusUnsupportedMediaType,
			log.Fields{"media type": mediaType},
		)
		return
	}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	rj := requestJob{}
	if err = dec.Decode(&rj); err != nil {
		startJobErrorHandler.WriteAndLogError(
			w,
			"failed to parse request body",
			err,
			http.StatusBadRequest,
			log.Fields{},
		)
		return
	}

	if err = js.validate.StructCtx(req.Context(), rj); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			startJobErrorHandler.WriteAndLogValidationErrors(w, validationErrors, log.Fields{"request job": rj})
			return
		}
		startJobErrorHandler.WriteAndLogError(w, "failed to validate request", err, http.StatusBadRequest, log.Fields{})
		return
	}

	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.RequestTimeout)
	defer cancel()
	result, err := js.dispatcher.StartJob(timeoutCtx, dispatcher.StartRequest{
		Target:   rj.Target,
		Duration: *rj.Duration,
		Method:   strings.ToUpper(rj.Method),
		Worker:   fleet.WorkerId(rj.Worker),
	})
	if err != nil {
		startJobErrorHandler.WriteAndLogError(
			w,
			"failed to start job",
			err,
			statusCode(err),
			log.Fields{"worker": rj.Worker, "method": rj.Method},
		)
		return
	}
	writeJSON(w, responseStarted{
		result.Id,
		elapsedTime(result.Elapsed),
		responseJobData{rj.Target, *rj.Duration, strings.ToUpper(rj.Method), rj.Worker},
	})
}

func (js *jobServer) stopJobHandler(w http.ResponseWriter, req *http.Request) {
	id := model.JobId(mux.Vars(req)["id"])
	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.RequestTimeout)
	defer cancel()
	result, err := js.dispatcher.StopJob(timeoutCtx, id)
	if err != nil {
		stopJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to stop job %s", id),
			err,
			statusCode(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, responseStopped{result.Id, elapsedTime(result.Elapsed)})
}

func (js *jobServer) stopAllHandler(w http.ResponseWriter, req *http.Request) {
	timeoutCtx, cancel := context.WithTimeout(req.Context(), constants.RequestTimeout)
	defer cancel()
	result, err := js.dispatcher.StopAll(timeoutCtx)
	if err != nil {
		stopAllErrorHandler.WriteAndLogError(w, "failed to stop jobs", err, statusCode(err), log.Fields{})
		return
	}
	writeJSON(w, responseStoppedAll{elapsedTime(result.Elapsed), result.FailedWorkers, result.UnrecordedWorkers})
}

func (js *jobServer) statusHandler(w http.ResponseWriter, req *http.Request) {
	status, err := js.dispatcher.Status(req.Context())
	if err != nil {
		statusErrorHandler.WriteAndLogError(w, "failed to get status", err, statusCode(err), log.Fields{})
		return
	}
	writeJSON(w, responseStatus{status})
}

func (js *jobServer) getJobHandler(w http.ResponseWriter, req *http.Request) {
	id := model.JobId(mux.Vars(req)["id"])
	job, err := js.dispatcher.GetJob(req.Context(), id)
	if err != nil {
		getJobErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to get job by id %s", id),
			err,
			statusCode(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, job)
}

func (js *jobServer) listJobsHandler(w http.ResponseWriter, req *http.Request) {
	limit := constants.DefaultJobLimit
	if rawLimit := req.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > constants.MaxJobLimit {
			listJobsErrorHandler.WriteAndLogErrorMsg(
				w,
				fmt.Sprintf("limit must be a number between 1 and %d", constants.MaxJobLimit),
				http.StatusBadRequest,
				log.Fields{"limit": rawLimit},
			)
			return
		}
		limit = parsed
	}
	jobs, err := js.dispatcher.ListJobs(req.Context(), limit)
	if err != nil {
		listJobsErrorHandler.WriteAndLogError(w, "failed to list jobs", err, statusCode(err), log.Fields{})
		return
	}
	writeJSON(w, jobs)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Infof("%s %s", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func NewJobServer(
	jobDispatcher JobDispatcher,
	registry *fleet.Registry,
	templates *fleet.Templates,
	addr string,
) (*http.Server, error) {
	server := jobServer{jobDispatcher, validator.New()}
	server.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		fullJson := field.Tag.Get("json")
		if fullJson == "-" {
			return ""
		}
		jsonName := strings.SplitN(fullJson, ",", 2)[0]
		if jsonName != "" {
			return jsonName
		}
		return field.Name
	})
	if err := validation.RegisterJobValidation(server.validate, registry, templates); err != nil {
		return nil, fmt.Errorf("error registering job validation: %w", err)
	}

	router := mux.NewRouter()
	router.StrictSlash(true)
	router.HandleFunc("/api/v1/job/", server.startJobHandler).Methods("POST")
	router.HandleFunc("/api/v1/job/", server.listJobsHandler).Methods("GET")
	router.HandleFunc("/api/v1/job/{id:[0-9a-fA-F-]+}/", server.getJobHandler).Methods("GET")
	router.HandleFunc("/api/v1/job/{id:[0-9a-fA-F-]+}/", server.stopJobHandler).Methods("DELETE")
	router.HandleFunc("/api/v1/stop_all/", server.stopAllHandler).Methods("POST")
	router.HandleFunc("/api/v1/status/", server.statusHandler).Methods("GET")
	router.Use(loggingMiddleware)
	return &http.Server{Addr: addr, Handler: router}, nil
}
