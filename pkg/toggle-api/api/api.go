// Package api pkg/toggle-api/api/api.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/buildinfo"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/httputil"
	"github.com/skycoin/skywire/pkg/skywire-utilities/pkg/logging"

	"github.com/skycoin/dongle-services/internal/config"
	"github.com/skycoin/dongle-services/internal/dongle"
	"github.com/skycoin/dongle-services/pkg/toggle-api/recovery"
	"github.com/skycoin/dongle-services/pkg/toggle-api/status"
	"github.com/skycoin/dongle-services/pkg/toggle-api/store"
	"github.com/skycoin/dongle-services/pkg/toggle-api/toggle"
)

// Client error codes.
const (
	CodeInvalidSubnet = "INVALID_SUBNET"
	CodeConfigError   = "CONFIG_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
)

// DefaultHistoryLimit is the number of events /history returns without ?limit.
const DefaultHistoryLimit = 20

// API register all the API endpoints.
// It implements a net/http.Handler.
type API struct {
	http.Handler

	conf      *config.Config
	toggles   *toggle.Service
	status    *status.Reconciler
	recovery  *recovery.Operator
	watchdog  *recovery.Watchdog
	history   store.History
	logger    logging.Logger
	startedAt time.Time
}

// Components are the services the API serves.
type Components struct {
	Toggles  *toggle.Service
	Status   *status.Reconciler
	Recovery *recovery.Operator
	Watchdog *recovery.Watchdog
	History  store.History
}

// HealthCheckResponse is struct of /health endpoint
type HealthCheckResponse struct {
	Status    string          `json:"status"`
	BuildInfo *buildinfo.Info `json:"build_info,omitempty"`
	StartedAt time.Time       `json:"started_at,omitempty"`
}

// Error is the object returned to the client when there's an error.
type Error struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	Hint           string `json:"hint,omitempty"`
	CurrentToggles []int  `json:"current_toggles,omitempty"`
	MaxConcurrent  int    `json:"max_concurrent,omitempty"`
}

// HistoryResponse is the body of /history/{subnet}.
type HistoryResponse struct {
	Subnet int            `json:"subnet"`
	Events []dongle.Event `json:"events"`
}

// New returns a new *chi.Mux object, which can be started as a server
func New(conf *config.Config, c Components, logger *logging.Logger) *API {
	api := &API{
		conf:      conf,
		toggles:   c.Toggles,
		status:    c.Status,
		recovery:  c.Recovery,
		watchdog:  c.Watchdog,
		history:   c.History,
		logger:    *logger,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(httputil.SetLoggerMiddleware(logger))
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", api.health)
	r.Get("/status", api.getStatus)
	r.Get("/history/{subnet}", api.getHistory)
	r.Get("/watchdog", api.getWatchdog)

	r.Group(func(r chi.Router) {
		if conf.RateLimit > 0 {
			r.Use(httprate.Limit(conf.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Get("/toggle/{subnet}", api.toggle)
		r.Post("/toggle/{subnet}", api.toggle)
		r.Get("/recover-socks5/{subnet}", api.recoverSOCKS5)
		r.Post("/recover-socks5/{subnet}", api.recoverSOCKS5)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.writeJSON(w, r, http.StatusNotFound, Error{Error: "Not found"})
	})

	api.Handler = r

	return api
}

func (api *API) health(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Get()
	api.writeJSON(w, r, http.StatusOK, HealthCheckResponse{
		Status:    "ok",
		BuildInfo: info,
		StartedAt: api.startedAt,
	})
}

func (api *API) getStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := api.status.GetStatus(r.Context())
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) || errors.Is(err, config.ErrConfigMalformed) {
			api.log(r).WithError(err).Error("Dongle config unusable.")
			api.writeJSON(w, r, http.StatusInternalServerError, Error{
				Error: err.Error(),
				Code:  CodeConfigError,
				Hint:  config.DongleConfigHint,
			})
			return
		}
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, r, http.StatusOK, resp)
}

func (api *API) toggle(w http.ResponseWriter, r *http.Request) {
	subnet, ok := api.subnetParam(w, r)
	if !ok {
		return
	}

	// a client that hangs up must not kill a modem mid-toggle
	o, err := api.toggles.Toggle(context.WithoutCancel(r.Context()), subnet)
	switch {
	case errors.Is(err, toggle.ErrAlreadyInProgress):
		api.writeJSON(w, r, http.StatusConflict, Error{
			Error: fmt.Sprintf("Toggle already in progress for subnet %d", subnet),
			Code:  toggle.CodeInProgress,
		})
		return
	case errors.Is(err, toggle.ErrTooManyConcurrent):
		tr := api.toggles.Tracker()
		active := tr.Active()
		api.writeJSON(w, r, http.StatusTooManyRequests, Error{
			Error:          fmt.Sprintf("Too many concurrent toggles (max: %d, current: %d)", tr.MaxConcurrent(), len(active)),
			Code:           toggle.CodeTooManyToggles,
			CurrentToggles: active,
			MaxConcurrent:  tr.MaxConcurrent(),
		})
		return
	case err != nil:
		api.writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if !o.Success {
		code = http.StatusInternalServerError
	}
	api.writeJSON(w, r, code, o)
}

func (api *API) recoverSOCKS5(w http.ResponseWriter, r *http.Request) {
	subnet, ok := api.subnetParam(w, r)
	if !ok {
		return
	}

	res := api.recovery.Recover(context.WithoutCancel(r.Context()), subnet)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusInternalServerError
	}
	api.writeJSON(w, r, code, res)
}

func (api *API) getHistory(w http.ResponseWriter, r *http.Request) {
	subnet, ok := api.subnetParam(w, r)
	if !ok {
		return
	}
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.writeJSON(w, r, http.StatusBadRequest, Error{Error: "invalid limit"})
			return
		}
		limit = n
	}

	events, err := api.history.Latest(subnet, limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []dongle.Event{}
	}
	api.writeJSON(w, r, http.StatusOK, HistoryResponse{Subnet: subnet, Events: events})
}

func (api *API) getWatchdog(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, r, http.StatusOK, api.watchdog.Snapshot())
}

// subnetParam parses {subnet} and writes a 400 when it is not a valid subnet.
func (api *API) subnetParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	subnet, err := api.conf.Subnets.Parse(chi.URLParam(r, "subnet"))
	if err != nil {
		api.writeJSON(w, r, http.StatusBadRequest, Error{
			Error: fmt.Sprintf("Invalid subnet (%d-%d)", api.conf.Subnets.Min, api.conf.Subnets.Max),
			Code:  CodeInvalidSubnet,
		})
		return 0, false
	}
	return subnet, true
}

func (api *API) writeJSON(w http.ResponseWriter, r *http.Request, code int, object interface{}) {
	jsonObject, err := json.Marshal(object)
	if err != nil {
		api.log(r).WithError(err).Errorf("failed to encode json response")
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_, err = w.Write(jsonObject)
	if err != nil {
		api.log(r).WithError(err).Errorf("failed to write json response")
	}
}

func (api *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int

	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusRequestTimeout
	}

	// we fallback to 500
	if status == 0 {
		status = http.StatusInternalServerError
	}

	api.log(r).Warnf("%d: %s", status, err)
	api.writeJSON(w, r, status, Error{Error: err.Error(), Code: CodeInternal})
}

func (api *API) log(r *http.Request) logrus.FieldLogger {
	return httputil.GetLogger(r)
}
