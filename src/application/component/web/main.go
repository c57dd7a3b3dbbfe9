package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nl-bioimaging/slurmbridge/src/application"
	"github.com/nl-bioimaging/slurmbridge/src/application/service"
	"github.com/nl-bioimaging/slurmbridge/src/config"
	"github.com/nl-bioimaging/slurmbridge/src/domain"
	"github.com/nl-bioimaging/slurmbridge/src/domain/repository"
)

type Web struct {
	Config config.WebConfig

	Logger       zerolog.Logger
	SlurmService service.SlurmService
	JobService   service.JobService
	Metrics      *application.Metrics
}

func (self *Web) Start(ctx context.Context) error {
	self.Logger.Info().Str("listen", self.Config.Listen).Msg("Starting")

	server := &http.Server{
		Addr:              self.Config.Listen,
		Handler:           self.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			self.Logger.Error().Err(err).Msg("Could not shut down gracefully")
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithMessage(err, "Failed to start web server")
	}
	return nil
}

func (self *Web) Router() http.Handler {
	muxRouter := mux.NewRouter().StrictSlash(true)
	muxRouter.NotFoundHandler = http.NotFoundHandler()

	if self.Metrics != nil {
		muxRouter.Handle("/metrics", promhttp.HandlerFor(self.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	api := muxRouter.PathPrefix("/api").Subrouter()
	api.Use(self.authenticate)

	// sorted alphabetically, please keep it this way
	api.HandleFunc("/job", self.ApiJobGet).Methods(http.MethodGet)
	api.HandleFunc("/job", self.ApiJobPost).Methods(http.MethodPost)
	api.HandleFunc("/job/{id:[0-9]+}", self.ApiJobIdGet).Methods(http.MethodGet)
	api.HandleFunc("/job/{id:[0-9]+}/progress", self.ApiJobIdProgressGet).Methods(http.MethodGet)
	api.HandleFunc("/job/{id:[0-9]+}/status", self.ApiJobIdStatusGet).Methods(http.MethodGet)
	api.HandleFunc("/validate", self.ApiValidateGet).Methods(http.MethodGet)
	api.HandleFunc("/version", self.ApiVersionGet).Methods(http.MethodGet)
	api.HandleFunc("/workflow", self.ApiWorkflowGet).Methods(http.MethodGet)
	api.HandleFunc("/workflow/versions", self.ApiWorkflowVersionsGet).Methods(http.MethodGet)
	api.HandleFunc("/workflow/{name}/versions", self.ApiWorkflowNameVersionsGet).Methods(http.MethodGet)

	return muxRouter
}

func (self *Web) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if len(self.Config.Token) > 0 {
			token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), self.Config.Token) != 1 {
				self.Error(w, HandlerError{errors.New("Invalid or missing bearer token"), http.StatusUnauthorized})
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}

func (self *Web) ApiJobGet(w http.ResponseWriter, req *http.Request) {
	page, err := getPage(req)
	if err != nil {
		self.ClientError(w, err)
		return
	}

	jobs, err := self.JobService.GetAll(page)
	if err != nil {
		self.ServerError(w, err)
		return
	}

	self.json(w, map[string]any{
		"page": page,
		"jobs": jobs,
	}, http.StatusOK)
}

func (self *Web) ApiVersionGet(w http.ResponseWriter, req *http.Request) {
	self.json(w, domain.BuildInfo, http.StatusOK)
}

func (self *Web) ApiJobPost(w http.ResponseWriter, req *http.Request) {
	var workflowReq domain.WorkflowRequest
	if err := json.NewDecoder(req.Body).Decode(&workflowReq); err != nil {
		self.ClientError(w, errors.WithMessage(err, "Could not unmarshal workflow request from request body"))
		return
	}

	job, err := self.JobService.Submit(req.Context(), workflowReq)
	if err != nil {
		if errors.As(err, &domain.UnknownWorkflowError{}) || errors.As(err, &domain.InvalidParamError{}) {
			self.ClientError(w, err)
		} else {
			self.ServerError(w, err)
		}
		return
	}

	self.json(w, job, http.StatusCreated)
}

func (self *Web) ApiJobIdGet(w http.ResponseWriter, req *http.Request) {
	id, ok := self.jobId(w, req)
	if !ok {
		return
	}

	job, err := self.JobService.GetById(id)
	if err != nil {
		if pgxscan.NotFound(err) {
			self.NotFound(w, errors.WithMessagef(err, "No Job with ID %d", id))
		} else {
			self.ServerError(w, err)
		}
		return
	}

	self.json(w, job, http.StatusOK)
}

func (self *Web) ApiJobIdProgressGet(w http.ResponseWriter, req *http.Request) {
	id, ok := self.jobId(w, req)
	if !ok {
		return
	}

	progress, err := self.SlurmService.GetActiveJobProgress(req.Context(), id, req.URL.Query().Get("pattern"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoProgress):
			self.NotFound(w, err)
		case errors.As(err, &domain.InvalidPatternError{}):
			self.ClientError(w, err)
		default:
			self.ServerError(w, err)
		}
		return
	}

	self.json(w, map[string]string{"progress": progress}, http.StatusOK)
}

func (self *Web) ApiJobIdStatusGet(w http.ResponseWriter, req *http.Request) {
	id, ok := self.jobId(w, req)
	if !ok {
		return
	}

	status, err := self.SlurmService.CheckJobStatus(req.Context(), id)
	if err != nil {
		self.ServerError(w, err)
		return
	}

	self.json(w, status, http.StatusOK)
}

func (self *Web) ApiValidateGet(w http.ResponseWriter, req *http.Request) {
	self.json(w, map[string]bool{"valid": self.SlurmService.Validate(req.Context())}, http.StatusOK)
}

func (self *Web) ApiWorkflowGet(w http.ResponseWriter, req *http.Request) {
	self.json(w, self.SlurmService.Workflows(), http.StatusOK)
}

func (self *Web) ApiWorkflowVersionsGet(w http.ResponseWriter, req *http.Request) {
	versions, err := self.SlurmService.GetAllImageVersionsAndDataFiles(req.Context())
	if err != nil {
		self.ServerError(w, err)
		return
	}

	self.json(w, versions, http.StatusOK)
}

func (self *Web) ApiWorkflowNameVersionsGet(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	versions, data, err := self.SlurmService.GetImageVersionsAndDataFiles(req.Context(), name)
	if err != nil {
		if errors.As(err, &domain.UnknownWorkflowError{}) {
			self.NotFound(w, err)
		} else {
			self.ServerError(w, err)
		}
		return
	}

	self.json(w, map[string][]string{
		"versions": versions,
		"data":     data,
	}, http.StatusOK)
}

func (self *Web) jobId(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		self.ClientError(w, errors.WithMessage(err, "Could not parse Job ID"))
		return 0, false
	}
	return id, true
}

func getPage(req *http.Request) (*repository.Page, error) {
	page := &repository.Page{Limit: repository.DefaultPageLimit}
	query := req.URL.Query()

	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return nil, errors.Errorf("Invalid offset %q", v)
		}
		page.Offset = offset
	}

	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			return nil, errors.Errorf("Invalid limit %q", v)
		}
		page.Limit = limit
	}

	return page, nil
}

type HandlerError struct {
	error
	StatusCode int
}

func (self HandlerError) HasError() bool {
	return self.error != nil
}

func (self *Web) ServerError(w http.ResponseWriter, err error) {
	self.Error(w, HandlerError{err, http.StatusInternalServerError})
}

func (self *Web) ClientError(w http.ResponseWriter, err error) {
	self.Error(w, HandlerError{err, http.StatusBadRequest})
}

func (self *Web) NotFound(w http.ResponseWriter, err error) {
	self.Error(w, HandlerError{err, http.StatusNotFound})
}

func (self *Web) Error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	if handlerErr, ok := err.(HandlerError); ok {
		status = handlerErr.StatusCode
		if !handlerErr.HasError() {
			err = nil
		}
	}

	var e *zerolog.Event
	if status >= 500 {
		e = self.Logger.Error()
	} else {
		e = self.Logger.Debug()
	}
	e.Err(err).Int("status", status).Msg("Handler error")

	var msg string
	if err != nil {
		msg = err.Error()
	}

	http.Error(w, msg, status)
}

func (self *Web) json(w http.ResponseWriter, obj any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		self.Logger.Error().Err(err).Msg("Could not encode response")
	}
}
