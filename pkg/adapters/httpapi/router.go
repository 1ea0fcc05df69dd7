// Package httpapi expone los servicios de trámites sobre HTTP con chi. Los
// errores viajan como application/problem+json.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"collie-procedures-backend/pkg/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader lleva el ID de la petición en la respuesta.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes limita el cuerpo JSON de las peticiones.
const maxBodyBytes = 1 << 20

// Services agrupa los puertos primarios que expone la API.
type Services struct {
	Procedures   ports.ProcedureService
	Signatures   ports.SignatureService
	Observations ports.ObservationService
	Documents    ports.DocumentService
}

// Options configura el router.
type Options struct {
	Validator *TokenValidator
	Logger    *slog.Logger
	// TrustProxy toma la IP del cliente de X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

type handler struct {
	svc    Services
	logger *slog.Logger
}

// NewRouter arma el router con todas las rutas de la API.
func NewRouter(svc Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(authMiddleware(opts.Validator))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Post("/documents", h.registerUpload)

	r.Route("/procedures", func(api chi.Router) {
		api.Post("/", h.dispatch)
		api.Route("/{procedure_id}", func(p chi.Router) {
			p.Get("/", h.fetchProcedure)
			p.Post("/open", h.openProcedure)
			p.Post("/read", h.markRead)
			p.Post("/respond", h.respond)
			p.Post("/annul", h.annul)
			p.Post("/resend", h.resend)

			p.Post("/signature/code", h.requestCode)
			p.Post("/signature/verify", h.verifySignature)

			p.Get("/observations", h.listObservations)
			p.Post("/observations", h.createObservation)
			p.Get("/observations/unresolved", h.hasUnresolved)

			p.Get("/document/content", h.documentContent)
			p.Get("/document/download-url", h.documentDownloadURL)
		})
	})

	r.Post("/observations/{observation_id}/resolve", h.resolveObservation)

	return r
}

// requestID asigna un ID a cada petición y lo devuelve en la cabecera.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = "req_" + uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", w.Header().Get(RequestIDHeader),
			)
		})
	}
}
