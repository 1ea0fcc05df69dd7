package domain

import "time"

// SignerSnapshot conserva la identidad del firmante tal como era al firmar.
type SignerSnapshot struct {
	WorkerID string `json:"workerId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// ClientEnvironment describe el entorno desde el que se firmó.
type ClientEnvironment struct {
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform,omitempty"`
	Language  string `json:"language,omitempty"`
}

// ElectronicSignature es el registro inmutable de la firma de un trámite.
type ElectronicSignature struct {
	ID           string            `json:"id"`
	ProcedureID  string            `json:"procedureId"`
	Signer       SignerSnapshot    `json:"signer"`
	SignedAt     time.Time         `json:"signedAt"`
	Environment  ClientEnvironment `json:"environment"`
	AcceptsTerms bool              `json:"acceptsTerms"`
	ChallengeID  string            `json:"challengeId"`
}

// VerificationChallenge es un código de verificación pendiente. Solo el
// hash del código se almacena.
type VerificationChallenge struct {
	ID          string    `json:"id"`
	ProcedureID string    `json:"procedureId"`
	Destination string    `json:"destination"`
	CodeHash    []byte    `json:"codeHash"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired indica si el código venció en el instante now.
func (c *VerificationChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ChallengeTicket es lo único que el cliente recibe de un desafío.
type ChallengeTicket struct {
	ChallengeID       string    `json:"challengeId"`
	MaskedDestination string    `json:"maskedDestination"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// ConformityResponse es la respuesta de conformidad del destinatario.
type ConformityResponse struct {
	Accepts     bool      `json:"accepts"`
	Comment     string    `json:"comment,omitempty"`
	ResponderID string    `json:"responderId"`
	RespondedAt time.Time `json:"respondedAt"`
}

// LockoutPolicy define cuántos intentos fallidos se toleran antes de
// bloquear temporalmente la verificación de un trámite.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultLockoutPolicy: 5 intentos en 15 minutos, 15 minutos de bloqueo.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute}
}
