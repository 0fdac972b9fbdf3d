package server

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/axescan/api/schemas"
	"github.com/xkilldash9x/axescan/internal/scanerr"
	"github.com/xkilldash9x/axescan/internal/scanner"
)

// Client-facing messages. Internal error details never reach the response.
const (
	msgURLRequired  = "URL is required."
	msgInvalidBody  = "Invalid request body."
	msgScanFailed   = "Unable to scan this URL."
	retryAfterValue = "10"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers serves the HTTP routes.
type Handlers struct {
	log     *zap.Logger
	scanner Scanner
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, scanner Scanner) *Handlers {
	return &Handlers{
		log:     logger.Named("handlers"),
		scanner: scanner,
	}
}

// HandleRoot confirms the server is up.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Server is running"))
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleScan runs a synchronous scan of the posted URL.
//
// Status codes only distinguish bad input (400) from scan failure (500). A
// scan refused for capacity additionally carries Retry-After.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req schemas.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, http.StatusRequestEntityTooLarge, msgInvalidBody)
			return
		}
		h.respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	target := scanner.NormalizeURL(req.URL)
	if target == "" {
		h.respondWithError(w, http.StatusBadRequest, msgURLRequired)
		return
	}

	report, err := h.scanner.Scan(r.Context(), target)
	if err != nil {
		switch scanerr.KindOf(err) {
		case scanerr.KindInvalidInput:
			h.respondWithError(w, http.StatusBadRequest, msgURLRequired)
		case scanerr.KindResourceExhausted:
			w.Header().Set("Retry-After", retryAfterValue)
			h.respondWithError(w, http.StatusInternalServerError, msgScanFailed)
		default:
			h.respondWithError(w, http.StatusInternalServerError, msgScanFailed)
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, schemas.ScanResponse{Success: true, Report: report})
}

// respondWithError sends the failure envelope.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithJSON(w, statusCode, schemas.ErrorResponse{Success: false, Error: message})
}

func (h *Handlers) respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
