package handlers

import (
	"encoding/json"
	"net/http"

	"reconciliation-engine/internal/services"
)

type DataHandler struct {
	dataIngestionService *services.DataIngestionService
}

func NewDataHandler(dataIngestionService *services.DataIngestionService) *DataHandler {
	return &DataHandler{
		dataIngestionService: dataIngestionService,
	}
}

func (h *DataHandler) IngestStatementLines(w http.ResponseWriter, r *http.Request) {
	var lines []services.StatementLineInput

	if err := json.NewDecoder(r.Body).Decode(&lines); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(lines) == 0 {
		respondWithError(w, http.StatusBadRequest, "No statement lines provided")
		return
	}

	result, err := h.dataIngestionService.IngestStatementLines(r.Context(), lines)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, ingestionStatus(result), result)
}

func (h *DataHandler) IngestLedgerLines(w http.ResponseWriter, r *http.Request) {
	var entries []services.LedgerLineInput

	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(entries) == 0 {
		respondWithError(w, http.StatusBadRequest, "No ledger entries provided")
		return
	}

	result, err := h.dataIngestionService.IngestLedgerLines(r.Context(), entries)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondWithJSON(w, ingestionStatus(result), result)
}

// ingestionStatus reports a rejected import as 422; nothing was stored.
func ingestionStatus(result *services.IngestionResult) int {
	if !result.Success {
		return http.StatusUnprocessableEntity
	}
	return http.StatusCreated
}
