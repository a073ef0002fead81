package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"reconciliation-engine/internal/matching"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/services"
)

type ReconciliationHandler struct {
	reconciliationService *services.ReconciliationService
	logger                *zap.Logger
}

func NewReconciliationHandler(reconciliationService *services.ReconciliationService, logger *zap.Logger) *ReconciliationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
		logger:                logger,
	}
}

type LoadLinesRequest struct {
	Type     models.LineType `json:"type"`
	ScopeIDs []int64         `json:"scope_ids"`
}

type LoadLinesResponse struct {
	Handles []models.LineHandle `json:"handles"`
}

func (h *ReconciliationHandler) LoadLines(w http.ResponseWriter, r *http.Request) {
	var request LoadLinesRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if request.Type == "" {
		respondWithError(w, http.StatusBadRequest, "type is required")
		return
	}

	handles, err := h.reconciliationService.LoadLines(r.Context(), request.Type, request.ScopeIDs)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	if handles == nil {
		handles = []models.LineHandle{}
	}
	respondWithJSON(w, http.StatusCreated, LoadLinesResponse{Handles: handles})
}

// GetStatementLines hands out the lines not delivered yet.
func (h *ReconciliationHandler) GetStatementLines(w http.ResponseWriter, r *http.Request) {
	lines := h.reconciliationService.GetStatementLines()
	if lines == nil {
		lines = []*models.Line{}
	}
	respondWithJSON(w, http.StatusOK, lines)
}

func (h *ReconciliationHandler) GetLine(w http.ResponseWriter, r *http.Request) {
	line, err := h.reconciliationService.GetLine(lineHandle(r))
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) ChangeMode(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Mode models.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Mode == "" {
		respondWithError(w, http.StatusBadRequest, "mode is required")
		return
	}
	line, err := h.reconciliationService.ChangeMode(r.Context(), lineHandle(r), request.Mode)
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) Search(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	line, err := h.reconciliationService.Search(r.Context(), lineHandle(r), request.Text)
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) FetchMore(w http.ResponseWriter, r *http.Request) {
	line, err := h.reconciliationService.FetchMore(r.Context(), lineHandle(r))
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) ChangePartner(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PartnerID   int64  `json:"partner_id"`
		PartnerName string `json:"partner_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	line, err := h.reconciliationService.ChangePartner(r.Context(), lineHandle(r), request.PartnerID, request.PartnerName)
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) QuickCreate(w http.ResponseWriter, r *http.Request) {
	var request struct {
		TemplateID int64 `json:"template_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.TemplateID == 0 {
		respondWithError(w, http.StatusBadRequest, "template_id is required")
		return
	}
	line, err := h.reconciliationService.QuickCreateFromModel(r.Context(), lineHandle(r), request.TemplateID)
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) BlurFocus(w http.ResponseWriter, r *http.Request) {
	line, err := h.reconciliationService.BlurFocus(r.Context(), lineHandle(r))
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) AddProposition(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ID models.PropositionID `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.ID.IsZero() {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}
	line, err := h.reconciliationService.AddProposition(r.Context(), lineHandle(r), request.ID)
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) RemoveProposition(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	line, err := h.reconciliationService.RemoveProposition(r.Context(), lineHandle(r), id)
	h.respondWithLine(w, line, err)
}

func (h *ReconciliationHandler) UpdateProposition(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	var update services.PropositionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	line, err := h.reconciliationService.UpdateProposition(r.Context(), lineHandle(r), id, update)
	h.respondWithLine(w, line, err)
}

type PartialResponse struct {
	Line    *models.Line            `json:"line"`
	Outcome matching.PartialOutcome `json:"outcome"`
}

func (h *ReconciliationHandler) PartialReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	var request struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	line, outcome, err := h.reconciliationService.PartialReconcile(r.Context(), lineHandle(r), id, request.Amount)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, PartialResponse{Line: line, Outcome: outcome})
}

func (h *ReconciliationHandler) PartialPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := propositionID(w, r)
	if !ok {
		return
	}
	amount, err := h.reconciliationService.GetPartialReconcileAmount(lineHandle(r), id)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"amount": amount})
}

func (h *ReconciliationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Handles []models.LineHandle `json:"handles"`
	}
	// An empty body validates every line.
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	result, err := h.reconciliationService.Validate(r.Context(), request.Handles)
	h.respondWithResult(w, result, err)
}

func (h *ReconciliationHandler) AutoClear(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciliationService.AutoClearEmpty(r.Context())
	h.respondWithResult(w, result, err)
}

func (h *ReconciliationHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.reconciliationService.ListTemplates(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, templates)
}

func lineHandle(r *http.Request) models.LineHandle {
	return models.LineHandle(mux.Vars(r)["handle"])
}

func propositionID(w http.ResponseWriter, r *http.Request) (models.PropositionID, bool) {
	id, err := models.ParsePropositionID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return models.PropositionID{}, false
	}
	return id, true
}

func (h *ReconciliationHandler) respondWithLine(w http.ResponseWriter, line *models.Line, err error) {
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, line)
}

func (h *ReconciliationHandler) respondWithResult(w http.ResponseWriter, result *services.ValidationResult, err error) {
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	if result.Reconciled == nil {
		result.Reconciled = []models.LineHandle{}
	}
	if result.Updated == nil {
		result.Updated = []models.LineHandle{}
	}
	respondWithJSON(w, http.StatusOK, result)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrLineNotFound),
		errors.Is(err, services.ErrCandidateNotFound),
		errors.Is(err, services.ErrTemplateNotFound),
		errors.Is(err, matching.ErrPropositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrLineBusy),
		errors.Is(err, services.ErrLineReconciled):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidMode),
		errors.Is(err, services.ErrReadOnlyProposition),
		errors.Is(err, models.ErrInvalidPropositionID),
		errors.Is(err, matching.ErrDuplicateProposition),
		errors.Is(err, matching.ErrOrphanLink):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *ReconciliationHandler) respondWithServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
