package reader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

// SessionOptions configura una sesión de lectura.
type SessionOptions struct {
	Threshold float64
	// OnReadThresholdReached se llama una vez, con el trámite que devolvió
	// la autoridad tras marcarlo leído.
	OnReadThresholdReached func(p *domain.Procedure)
	// OnDownload se llama tras cada descarga confirmada.
	OnDownload func(p *domain.Procedure, url string)
	// OnError recibe los fallos de las llamadas disparadas por eventos.
	OnError func(err error)
	Logger  *slog.Logger
}

// Session es la medición efímera de una visualización de documento. El
// trámite local solo cambia con respuestas confirmadas por la autoridad.
type Session struct {
	authority  ports.Authority
	totalPages int
	opts       SessionOptions
	seen       *PageSet
	logger     *slog.Logger

	opened atomic.Bool
	marked atomic.Bool
	// openMu serializa la apertura: la marca espera a un Open en curso.
	openMu sync.Mutex

	mu        sync.Mutex
	procedure *domain.Procedure
	tracker   *Tracker
}

// NewSession crea la sesión sobre el último estado confirmado del trámite.
func NewSession(authority ports.Authority, p *domain.Procedure, totalPages int, opts SessionOptions) *Session {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		authority:  authority,
		totalPages: totalPages,
		opts:       opts,
		seen:       NewPageSet(),
		logger:     logger,
		procedure:  p,
	}
}

// Procedure devuelve el último trámite confirmado.
func (s *Session) Procedure() *domain.Procedure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procedure
}

func (s *Session) setProcedure(p *domain.Procedure) {
	if p == nil {
		return
	}
	s.mu.Lock()
	s.procedure = p
	s.mu.Unlock()
}

// ReadOnly indica que el trámite es una versión obsoleta o está anulado:
// se muestra pero no se marca.
func (s *Session) ReadOnly() bool {
	p := s.Procedure()
	return p.IsObsolete() || p.State == domain.StateAnnulled
}

// PercentRead devuelve la fracción de páginas vistas en la sesión.
func (s *Session) PercentRead() float64 {
	return PercentRead(s.seen.Len(), s.totalPages)
}

// SeenPages devuelve las páginas vistas en orden.
func (s *Session) SeenPages() []int { return s.seen.Pages() }

// Marked indica si la sesión ya disparó la marca de lectura.
func (s *Session) Marked() bool { return s.marked.Load() }

// Open dispara la apertura automática una sola vez por sesión, aunque se
// llame de forma concurrente.
func (s *Session) Open(ctx context.Context) (*domain.Procedure, error) {
	p := s.Procedure()
	if p.State != domain.StateSent || p.IsObsolete() {
		return p, nil
	}
	if !s.opened.CompareAndSwap(false, true) {
		return p, nil
	}
	return s.ensureOpened(ctx)
}

// ensureOpened abre el trámite si sigue en SENT. Si otra llamada ya lo está
// abriendo, espera su resultado en lugar de repetirla.
func (s *Session) ensureOpened(ctx context.Context) (*domain.Procedure, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	p := s.Procedure()
	if p.State != domain.StateSent || p.IsObsolete() {
		return p, nil
	}
	s.opened.Store(true)
	opened, err := s.authority.OpenProcedure(ctx, p.ID)
	if err != nil {
		return p, err
	}
	s.setProcedure(opened)
	return opened, nil
}

// Attach observa las páginas del viewport. Solo aplica a documentos que el
// visor puede mostrar; el resto se marca con Download.
func (s *Session) Attach(ctx context.Context, viewport Viewport, pages []int) error {
	p := s.Procedure()
	if !p.Document.Viewable() {
		return domain.NewError(domain.KindValidation, "document %s is not viewable, it is read on download", p.Document.FileName)
	}
	tracker := NewTracker(viewport, s.seen)
	s.mu.Lock()
	if s.tracker != nil {
		s.mu.Unlock()
		tracker.Teardown()
		return domain.NewError(domain.KindInvalidState, "session already attached to a viewport")
	}
	s.tracker = tracker
	s.mu.Unlock()
	return tracker.Observe(pages, func(int) { s.evaluate(ctx) })
}

// PageVisible registra una página vista sin pasar por un Viewport.
func (s *Session) PageVisible(ctx context.Context, page int) {
	if page < 1 || page > s.totalPages {
		return
	}
	s.seen.Add(page)
	s.evaluate(ctx)
}

// evaluate dispara la marca al cruzar el umbral. El guard se fija antes
// de la llamada para que dos cruces simultáneos no la repitan.
func (s *Session) evaluate(ctx context.Context) {
	if s.marked.Load() {
		return
	}
	if !HasCrossedThreshold(s.PercentRead(), s.opts.Threshold) {
		return
	}
	if s.ReadOnly() {
		return
	}
	if !s.marked.CompareAndSwap(false, true) {
		return
	}
	// Sin apertura confirmada la marca no se envía; el próximo evento reintenta.
	if _, err := s.ensureOpened(ctx); err != nil {
		s.marked.Store(false)
		s.report(err)
		return
	}
	p, err := s.markRead(ctx)
	if err != nil {
		s.report(err)
		return
	}
	if s.opts.OnReadThresholdReached != nil {
		s.opts.OnReadThresholdReached(p)
	}
}

// RetryMarkRead reintenta la marca después de un fallo. Es una acción
// explícita del usuario; la sesión nunca reintenta sola.
func (s *Session) RetryMarkRead(ctx context.Context) (*domain.Procedure, error) {
	if !HasCrossedThreshold(s.PercentRead(), s.opts.Threshold) && s.Procedure().Document.Viewable() {
		return s.Procedure(), domain.NewError(domain.KindInvalidState, "read threshold not reached")
	}
	if s.ReadOnly() {
		return s.Procedure(), domain.NewError(domain.KindInvalidState, "procedure %s is read only", s.Procedure().ID)
	}
	s.marked.Store(true)
	if _, err := s.ensureOpened(ctx); err != nil {
		return s.Procedure(), err
	}
	return s.markRead(ctx)
}

func (s *Session) markRead(ctx context.Context) (*domain.Procedure, error) {
	p, err := s.authority.MarkProcedureRead(ctx, s.Procedure().ID)
	if err != nil {
		return nil, err
	}
	s.setProcedure(p)
	s.logger.DebugContext(ctx, "procedure marked as read", "procedure_id", p.ID, "percent", s.PercentRead())
	return p, nil
}

// Download obtiene la URL de descarga. Para documentos no visualizables la
// primera descarga confirmada marca el trámite como leído.
func (s *Session) Download(ctx context.Context) (string, error) {
	p := s.Procedure()
	url, err := s.authority.FetchDocumentDownloadURL(ctx, p.ID)
	if err != nil {
		return "", err
	}
	if !p.Document.Viewable() && !s.ReadOnly() && s.marked.CompareAndSwap(false, true) {
		if _, err := s.ensureOpened(ctx); err != nil {
			s.marked.Store(false)
			return url, err
		}
		marked, err := s.markRead(ctx)
		if err != nil {
			return url, err
		}
		p = marked
	}
	if s.opts.OnDownload != nil {
		s.opts.OnDownload(p, url)
	}
	return url, nil
}

// Close libera la observación del viewport.
func (s *Session) Close() {
	s.mu.Lock()
	t := s.tracker
	s.mu.Unlock()
	if t != nil {
		t.Teardown()
	}
}

func (s *Session) report(err error) {
	s.logger.Warn("read session call failed", "error", err)
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}
