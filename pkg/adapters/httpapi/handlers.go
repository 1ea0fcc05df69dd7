package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"

	"github.com/go-chi/chi/v5"
)

// Cuerpos de petición y respuesta compartidos con pkg/client.

type UploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
}

type RespondRequest struct {
	Accepts bool   `json:"accepts"`
	Comment string `json:"comment,omitempty"`
}

type AnnulRequest struct {
	Reason string `json:"reason"`
}

type VerifyRequest struct {
	Code         string `json:"code"`
	AcceptsTerms bool   `json:"acceptsTerms"`
	Platform     string `json:"platform,omitempty"`
	Language     string `json:"language,omitempty"`
}

type CreateObservationRequest struct {
	Category domain.ObservationCategory `json:"category"`
	Body     string                     `json:"body"`
}

type ResolveObservationRequest struct {
	Resolution string                `json:"resolution"`
	Resend     *domain.ResendPayload `json:"resend,omitempty"`
}

type UnresolvedResponse struct {
	Unresolved bool `json:"unresolved"`
}

type DownloadURLResponse struct {
	URL string `json:"url"`
}

// readJSON decodifica el cuerpo; si falla ya escribió la respuesta.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, string(domain.KindValidation), "request body too large", nil)
			return false
		}
		writeBadRequest(w, r, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *handler) registerUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if !readJSON(w, r, &req) {
		return
	}
	ticket, err := h.svc.Documents.RegisterUpload(r.Context(), ActorFrom(r.Context()), req.FileName, req.ContentType)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req ports.DispatchRequest
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.svc.Procedures.Dispatch(r.Context(), ActorFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) fetchProcedure(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Procedures.FetchProcedure(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	h.writeProcedure(w, r, p, err)
}

func (h *handler) openProcedure(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Procedures.OpenProcedure(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	h.writeProcedure(w, r, p, err)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Procedures.MarkProcedureRead(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	h.writeProcedure(w, r, p, err)
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.svc.Procedures.RespondProcedure(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"), req.Accepts, req.Comment)
	h.writeProcedure(w, r, p, err)
}

func (h *handler) annul(w http.ResponseWriter, r *http.Request) {
	var req AnnulRequest
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.svc.Procedures.AnnulProcedure(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"), req.Reason)
	h.writeProcedure(w, r, p, err)
}

func (h *handler) resend(w http.ResponseWriter, r *http.Request) {
	var req domain.ResendPayload
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.svc.Procedures.ResendProcedure(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) writeProcedure(w http.ResponseWriter, r *http.Request, p *domain.Procedure, err error) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) requestCode(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.svc.Signatures.RequestCode(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *handler) verifySignature(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !readJSON(w, r, &req) {
		return
	}
	env := domain.ClientEnvironment{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Platform:  req.Platform,
		Language:  req.Language,
	}
	if env.Language == "" {
		env.Language = firstLanguage(r.Header.Get("Accept-Language"))
	}
	res, err := h.svc.Signatures.VerifyAndSign(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"), strings.TrimSpace(req.Code), req.AcceptsTerms, env)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listObservations(w http.ResponseWriter, r *http.Request) {
	obs, err := h.svc.Observations.List(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if obs == nil {
		obs = []domain.Observation{}
	}
	writeJSON(w, http.StatusOK, obs)
}

func (h *handler) createObservation(w http.ResponseWriter, r *http.Request) {
	var req CreateObservationRequest
	if !readJSON(w, r, &req) {
		return
	}
	o, err := h.svc.Observations.Create(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"), req.Category, req.Body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *handler) hasUnresolved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "procedure_id")
	// La consulta no valida partes; se exige que el actor pueda leer el trámite.
	if _, err := h.svc.Procedures.FetchProcedure(ctx, ActorFrom(ctx), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	unresolved, err := h.svc.Observations.HasUnresolvedObservation(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UnresolvedResponse{Unresolved: unresolved})
}

func (h *handler) resolveObservation(w http.ResponseWriter, r *http.Request) {
	var req ResolveObservationRequest
	if !readJSON(w, r, &req) {
		return
	}
	o, err := h.svc.Observations.Resolve(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "observation_id"), req.Resolution, req.Resend)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *handler) documentContent(w http.ResponseWriter, r *http.Request) {
	rc, ref, err := h.svc.Documents.OpenContent(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", ref.ContentType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "failed to stream document content", "procedure_id", chi.URLParam(r, "procedure_id"), "error", err)
	}
}

func (h *handler) documentDownloadURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.Documents.DownloadURL(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "procedure_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DownloadURLResponse{URL: url})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// firstLanguage devuelve la primera etiqueta de Accept-Language.
func firstLanguage(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}
