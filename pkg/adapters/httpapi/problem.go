package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"collie-procedures-backend/pkg/domain"
)

// ProblemTypePrefix antecede al kind en el campo type de los errores.
const ProblemTypePrefix = "urn:collie:procedures:error:"

// ProblemDetail implementa RFC 7807 con el kind de dominio en Code y sus
// metadatos, para que el cliente reconstruya el *domain.Error.
type ProblemDetail struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Code     string            `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StatusForKind traduce un kind de dominio a su código HTTP.
func StatusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindInvalidState,
		domain.KindObsoleteVersion,
		domain.KindSignatureNotRequired,
		domain.KindResponseNotRequired,
		domain.KindObservationPending,
		domain.KindAlreadyResolved,
		domain.KindChallengeMissing:
		return http.StatusConflict
	case domain.KindTermsNotAccepted, domain.KindInvalidCode:
		return http.StatusUnprocessableEntity
	case domain.KindExpiredCode:
		return http.StatusGone
	case domain.KindLockedOut:
		return http.StatusLocked
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeProblem escribe la respuesta application/problem+json.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, metadata map[string]string) {
	problem := &ProblemDetail{
		Type:     ProblemTypePrefix + code,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(RequestIDHeader),
		Code:     code,
		Metadata: metadata,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// writeError escribe err como problem detail. Los errores que no son de
// dominio se registran y nunca se exponen al cliente.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		status := StatusForKind(de.Kind)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", string(de.Kind), "error", err)
		}
		writeProblem(w, r, status, string(de.Kind), de.Message, de.Metadata)
		return
	}
	logger.ErrorContext(r.Context(), "internal server error", "path", r.URL.Path, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "internal", "An unexpected error occurred. Please try again later.", nil)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, string(domain.KindValidation), detail, nil)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	writeProblem(w, r, http.StatusUnauthorized, "unauthenticated", detail, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
