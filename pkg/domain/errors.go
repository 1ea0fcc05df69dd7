package domain

import (
	"errors"
	"fmt"
)

// Kind clasifica los errores de dominio para que la UI pueda ofrecer la
// siguiente acción correcta.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindValidation           Kind = "validation"
	KindInvalidState         Kind = "invalid_state"
	KindObsoleteVersion      Kind = "obsolete_version"
	KindSignatureNotRequired Kind = "signature_not_required"
	KindResponseNotRequired  Kind = "response_not_required"
	KindObservationPending   Kind = "observation_pending"
	KindAlreadyResolved      Kind = "already_resolved"
	KindTermsNotAccepted     Kind = "terms_not_accepted"
	KindChallengeMissing     Kind = "challenge_missing"
	KindInvalidCode          Kind = "invalid_code"
	KindExpiredCode          Kind = "expired_code"
	KindLockedOut            Kind = "locked_out"
	KindRateLimited          Kind = "rate_limited"
	KindUnavailable          Kind = "unavailable"
)

// ErrRevisionConflict lo devuelven los repositorios cuando la revisión
// esperada ya no coincide con la almacenada.
var ErrRevisionConflict = errors.New("procedure revision conflict")

// Error es el error de dominio con metadatos estructurados.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is compara por Kind, así errors.Is(err, &Error{Kind: KindExpiredCode}) funciona.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable indica si el error proviene de un fallo transitorio.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// NewError crea un error de dominio simple.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata agrega un par clave/valor y devuelve el mismo error.
func (e *Error) WithMetadata(key, value string) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// KindOf extrae el Kind de cualquier error de la cadena, o "" si no hay.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind es un atajo para KindOf(err) == kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
