// Package signflow modela el flujo de firma del cliente: aceptar términos,
// pedir el código y verificarlo. Nunca reintenta por su cuenta.
package signflow

import (
	"context"
	"sync"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

// Phase identifica la variante activa del flujo.
type Phase int

const (
	PhaseTerms Phase = iota
	PhaseVerification
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseTerms:
		return "terms"
	case PhaseVerification:
		return "verification"
	case PhaseCompleted:
		return "completed"
	}
	return "unknown"
}

// State es la unión de Terms, Verification y Completed. Cada variante
// lleva solo los datos válidos en esa fase.
type State interface {
	Phase() Phase
}

// Terms es la fase inicial.
type Terms struct {
	Accepted bool
}

// Verification existe solo con un desafío emitido.
type Verification struct {
	Ticket domain.ChallengeTicket
}

// Completed guarda el resultado de la firma.
type Completed struct {
	Result ports.SignatureResult
}

func (Terms) Phase() Phase        { return PhaseTerms }
func (Verification) Phase() Phase { return PhaseVerification }
func (Completed) Phase() Phase    { return PhaseCompleted }

// Flow es el flujo de firma de un trámite.
type Flow struct {
	authority   ports.Authority
	procedureID string
	now         func() time.Time

	mu       sync.Mutex
	state    State
	inFlight bool
	// gen cambia con Close; las respuestas de una generación anterior se descartan.
	gen int
}

// Option configura un Flow.
type Option func(*Flow)

// WithClock reemplaza el reloj de la cuenta regresiva.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// New crea el flujo en la fase de términos.
func New(authority ports.Authority, procedureID string, opts ...Option) *Flow {
	f := &Flow{authority: authority, procedureID: procedureID, now: time.Now, state: Terms{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State devuelve la variante actual.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// AcceptTerms registra la aceptación o el rechazo de los términos.
func (f *Flow) AcceptTerms(accepts bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state.(Terms); !ok {
		return wrongPhase("accept terms", f.state)
	}
	f.state = Terms{Accepted: accepts}
	return nil
}

// RequestCode pide un desafío y pasa a la fase de verificación.
func (f *Flow) RequestCode(ctx context.Context) (domain.ChallengeTicket, error) {
	f.mu.Lock()
	t, ok := f.state.(Terms)
	if !ok {
		st := f.state
		f.mu.Unlock()
		return domain.ChallengeTicket{}, wrongPhase("request a code", st)
	}
	if !t.Accepted {
		f.mu.Unlock()
		return domain.ChallengeTicket{}, domain.NewError(domain.KindTermsNotAccepted, "the terms must be accepted before requesting a code")
	}
	gen, err := f.beginLocked()
	if err != nil {
		f.mu.Unlock()
		return domain.ChallengeTicket{}, err
	}
	f.mu.Unlock()

	ticket, err := f.authority.RequestSignatureCode(ctx, f.procedureID)

	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.finishLocked(gen)
	if err != nil {
		return domain.ChallengeTicket{}, err
	}
	if current {
		f.state = Verification{Ticket: *ticket}
	}
	return *ticket, nil
}

// ResendCode emite un nuevo desafío; el anterior deja de ser válido.
func (f *Flow) ResendCode(ctx context.Context) (domain.ChallengeTicket, error) {
	f.mu.Lock()
	if _, ok := f.state.(Verification); !ok {
		st := f.state
		f.mu.Unlock()
		return domain.ChallengeTicket{}, wrongPhase("resend the code", st)
	}
	gen, err := f.beginLocked()
	if err != nil {
		f.mu.Unlock()
		return domain.ChallengeTicket{}, err
	}
	f.mu.Unlock()

	ticket, err := f.authority.RequestSignatureCode(ctx, f.procedureID)

	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.finishLocked(gen)
	if err != nil {
		return domain.ChallengeTicket{}, err
	}
	if _, ok := f.state.(Verification); ok && current {
		f.state = Verification{Ticket: *ticket}
	}
	return *ticket, nil
}

// Verify envía el código. Un error deja el flujo en verificación para que
// el usuario reintente, pida otro código o espere el bloqueo.
func (f *Flow) Verify(ctx context.Context, code string, env domain.ClientEnvironment) (*ports.SignatureResult, error) {
	f.mu.Lock()
	if _, ok := f.state.(Verification); !ok {
		st := f.state
		f.mu.Unlock()
		return nil, wrongPhase("verify", st)
	}
	gen, err := f.beginLocked()
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	res, err := f.authority.VerifySignatureCode(ctx, f.procedureID, code, true, env)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(gen)
	if err != nil {
		return nil, err
	}
	f.state = Completed{Result: *res}
	return res, nil
}

// Close abandona el flujo. El desafío sigue vivo en la autoridad hasta que
// venza, pero el flujo lo olvida: al reabrir hay que pedir otro código.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.state.(Completed); done {
		return
	}
	f.gen++
	f.state = Terms{}
}

// Countdown devuelve el tiempo restante del código vigente. Es solo
// informativo: el vencimiento lo decide la autoridad.
func (f *Flow) Countdown() (time.Duration, bool) {
	f.mu.Lock()
	v, ok := f.state.(Verification)
	f.mu.Unlock()
	if !ok {
		return 0, false
	}
	remaining := v.Ticket.ExpiresAt.Sub(f.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

func (f *Flow) beginLocked() (int, error) {
	if f.inFlight {
		return 0, domain.NewError(domain.KindInvalidState, "a signature request is already in progress")
	}
	f.inFlight = true
	return f.gen, nil
}

// finishLocked libera el flujo y dice si la respuesta sigue siendo vigente.
func (f *Flow) finishLocked(gen int) bool {
	f.inFlight = false
	return gen == f.gen
}

func wrongPhase(op string, st State) error {
	return domain.NewError(domain.KindInvalidState, "cannot %s in the %s phase", op, st.Phase()).
		WithMetadata("phase", st.Phase().String())
}
