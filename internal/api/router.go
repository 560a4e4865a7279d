// Package api exposes the payment core over a local HTTP control API used by
// the UI shell and by queuectl.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/api/handlers"
	"github.com/dvloznov/paysync/internal/api/middleware"
	"github.com/dvloznov/paysync/internal/history"
)

// Services are the core components the router dispatches to.
// History is optional.
type Services struct {
	Queue        handlers.QueueService
	Worker       handlers.Worker
	Connectivity handlers.ConnectivityService
	Trackers     handlers.TrackerService
	Session      handlers.SessionService
	History      history.Repository
}

// Options configure the middleware chain.
type Options struct {
	// ControlKey, when set, must be sent as X-Control-Key.
	ControlKey string
	// AllowedOrigin enables CORS for a browser-based UI shell.
	AllowedOrigin string
	Now           func() time.Time
}

// NewRouter builds the control API handler.
func NewRouter(svc Services, opts Options, log zerolog.Logger) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	transactions := handlers.NewTransactionsHandler(svc.Worker)
	queueHandler := handlers.NewQueueHandler(svc.Queue, svc.Worker)
	sessionHandler := handlers.NewSessionHandler(svc.Session, svc.Worker)
	connectivity := handlers.NewConnectivityHandler(svc.Connectivity)
	trackers := handlers.NewTrackersHandler(svc.Trackers)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   opts.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	routes := r.PathPrefix("/api").Subrouter()
	routes.HandleFunc("/transactions", transactions.Submit).Methods(http.MethodPost)

	routes.HandleFunc("/queue", queueHandler.GetStatus).Methods(http.MethodGet)
	routes.HandleFunc("/queue", queueHandler.Clear).Methods(http.MethodDelete)
	routes.HandleFunc("/queue/retry", queueHandler.Retry).Methods(http.MethodPost)
	routes.HandleFunc("/queue/{id}/requeue", queueHandler.Requeue).Methods(http.MethodPost)
	routes.HandleFunc("/queue/{id}", queueHandler.Remove).Methods(http.MethodDelete)

	routes.HandleFunc("/session", sessionHandler.GetSession).Methods(http.MethodGet)
	routes.HandleFunc("/session", sessionHandler.SetToken).Methods(http.MethodPut)
	routes.HandleFunc("/resume", sessionHandler.Resume).Methods(http.MethodPost)

	routes.HandleFunc("/connectivity", connectivity.GetState).Methods(http.MethodGet)

	routes.HandleFunc("/trackers", trackers.ListActive).Methods(http.MethodGet)
	routes.HandleFunc("/trackers/{ref}", trackers.Cancel).Methods(http.MethodDelete)

	if svc.History != nil {
		historyHandler := handlers.NewHistoryHandler(svc.History)
		routes.HandleFunc("/history", historyHandler.ListRecent).Methods(http.MethodGet)
	}

	// Preflight requests are answered before routing.
	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(opts.AllowedOrigin)(
					middleware.ControlKey(opts.ControlKey)(r),
				),
			),
		),
	)
}
