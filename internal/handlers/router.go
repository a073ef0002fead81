package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func SetupRouter(reconciliationHandler *ReconciliationHandler, dataHandler *DataHandler, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware(logger))
	api.Use(jsonContentTypeMiddleware)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/lines", reconciliationHandler.GetStatementLines).Methods(http.MethodGet)
	api.HandleFunc("/lines/load", reconciliationHandler.LoadLines).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}", reconciliationHandler.GetLine).Methods(http.MethodGet)
	api.HandleFunc("/lines/{handle}/mode", reconciliationHandler.ChangeMode).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/search", reconciliationHandler.Search).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/fetch-more", reconciliationHandler.FetchMore).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/partner", reconciliationHandler.ChangePartner).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/quick-create", reconciliationHandler.QuickCreate).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/blur", reconciliationHandler.BlurFocus).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/propositions", reconciliationHandler.AddProposition).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/propositions/{id}", reconciliationHandler.UpdateProposition).Methods(http.MethodPatch)
	api.HandleFunc("/lines/{handle}/propositions/{id}", reconciliationHandler.RemoveProposition).Methods(http.MethodDelete)
	api.HandleFunc("/lines/{handle}/propositions/{id}/partial", reconciliationHandler.PartialReconcile).Methods(http.MethodPost)
	api.HandleFunc("/lines/{handle}/propositions/{id}/partial", reconciliationHandler.PartialPreview).Methods(http.MethodGet)
	api.HandleFunc("/validate", reconciliationHandler.Validate).Methods(http.MethodPost)
	api.HandleFunc("/auto-clear", reconciliationHandler.AutoClear).Methods(http.MethodPost)
	api.HandleFunc("/templates", reconciliationHandler.ListTemplates).Methods(http.MethodGet)

	if dataHandler != nil {
		api.HandleFunc("/ingest/statement-lines", dataHandler.IngestStatementLines).Methods(http.MethodPost)
		api.HandleFunc("/ingest/ledger-lines", dataHandler.IngestLedgerLines).Methods(http.MethodPost)
	}

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	respondWithJSON(w, http.StatusOK, response)
}

type ErrorResponse struct {
	Error string `json:"error"`
}
