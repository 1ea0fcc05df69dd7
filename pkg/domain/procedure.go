package domain

import (
	"strconv"
	"strings"
	"time"
)

// State es el estado del ciclo de vida de un trámite.
type State string

const (
	StateSent      State = "SENT"
	StateOpened    State = "OPENED"
	StateRead      State = "READ"
	StateSigned    State = "SIGNED"
	StateResponded State = "RESPONDED"
	StateAnnulled  State = "ANNULLED"
)

// rank ordena los estados del camino principal para detectar no-ops.
func (s State) rank() int {
	switch s {
	case StateSent:
		return 0
	case StateOpened:
		return 1
	case StateRead:
		return 2
	case StateSigned, StateResponded:
		return 3
	}
	return -1
}

// Terminal indica si ya no se admiten transiciones.
func (s State) Terminal() bool {
	return s == StateSigned || s == StateResponded || s == StateAnnulled
}

// VersionRef apunta a otra versión del mismo trámite.
type VersionRef struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// Procedure representa un trámite: un documento enviado de un remitente a
// un destinatario. Solo se modifica mediante los métodos de transición.
type Procedure struct {
	ID                string               `json:"id"`
	Code              string               `json:"code"`
	Subject           string               `json:"subject"`
	State             State                `json:"state"`
	RequiresSignature bool                 `json:"requiresSignature"`
	RequiresResponse  bool                 `json:"requiresResponse"`
	Version           int                  `json:"version"`
	IsResend          bool                 `json:"isResend"`
	PreviousVersionID string               `json:"previousVersionId,omitempty"`
	SupersededBy      *VersionRef          `json:"supersededBy,omitempty"`
	Document          DocumentRef          `json:"document"`
	SenderID          string               `json:"senderId"`
	RecipientID       string               `json:"recipientId"`
	SentAt            time.Time            `json:"sentAt"`
	OpenedAt          *time.Time           `json:"openedAt,omitempty"`
	ReadAt            *time.Time           `json:"readAt,omitempty"`
	SignedAt          *time.Time           `json:"signedAt,omitempty"`
	RespondedAt       *time.Time           `json:"respondedAt,omitempty"`
	AnnulledAt        *time.Time           `json:"annulledAt,omitempty"`
	AnnulReason       string               `json:"annulReason,omitempty"`
	OpenObservationID string               `json:"openObservationId,omitempty"`
	Signature         *ElectronicSignature `json:"signature,omitempty"`
	Response          *ConformityResponse  `json:"response,omitempty"`
	Revision          int64                `json:"revision"`
}

// IsObsolete indica si el trámite fue reemplazado por un reenvío.
func (p *Procedure) IsObsolete() bool {
	return p.SupersededBy != nil
}

// HasUnresolvedObservation indica si hay una observación abierta.
func (p *Procedure) HasUnresolvedObservation() bool {
	return p.OpenObservationID != ""
}

// CheckCurrent devuelve un error obsolete_version si el trámite fue reenviado.
func (p *Procedure) CheckCurrent() error {
	if p.SupersededBy == nil {
		return nil
	}
	return NewError(KindObsoleteVersion,
		"procedure %s version %d is obsolete: superseded by version %d",
		p.Code, p.Version, p.SupersededBy.Version).
		WithMetadata("superseded_by", p.SupersededBy.ID).
		WithMetadata("superseded_by_version", strconv.Itoa(p.SupersededBy.Version))
}

func (p *Procedure) wrongState(op string, want State) *Error {
	return NewError(KindInvalidState, "cannot %s procedure %s: state is %s, expected %s", op, p.Code, p.State, want).
		WithMetadata("state", string(p.State))
}

// Open pasa de SENT a OPENED. Si ya fue abierto es un no-op.
func (p *Procedure) Open(now time.Time) (bool, error) {
	if p.State == StateAnnulled {
		return false, p.wrongState("open", StateSent)
	}
	if p.State != StateSent {
		return false, nil
	}
	p.State = StateOpened
	p.OpenedAt = &now
	return true, nil
}

// MarkRead pasa de OPENED a READ. Repetirlo sobre un trámite ya leído es un no-op.
func (p *Procedure) MarkRead(now time.Time) (bool, error) {
	if p.State == StateAnnulled || p.State == StateSent {
		return false, p.wrongState("mark as read", StateOpened)
	}
	if p.State.rank() >= StateRead.rank() {
		return false, nil
	}
	p.State = StateRead
	p.ReadAt = &now
	return true, nil
}

// Sign pasa de READ a SIGNED y guarda la firma electrónica.
func (p *Procedure) Sign(sig *ElectronicSignature) error {
	if !p.RequiresSignature {
		return NewError(KindSignatureNotRequired, "procedure %s does not require a signature", p.Code)
	}
	if p.State != StateRead {
		return p.wrongState("sign", StateRead)
	}
	if sig == nil || !sig.AcceptsTerms {
		return NewError(KindTermsNotAccepted, "signature requires accepting the terms")
	}
	at := sig.SignedAt
	p.State = StateSigned
	p.SignedAt = &at
	p.Signature = sig
	return nil
}

// CanSign valida las precondiciones de firma sin modificar el trámite.
func (p *Procedure) CanSign() error {
	if err := p.CheckCurrent(); err != nil {
		return err
	}
	if !p.RequiresSignature {
		return NewError(KindSignatureNotRequired, "procedure %s does not require a signature", p.Code)
	}
	if p.State != StateRead {
		return p.wrongState("sign", StateRead)
	}
	return nil
}

// Respond pasa de READ a RESPONDED con la respuesta de conformidad.
func (p *Procedure) Respond(resp *ConformityResponse) error {
	if !p.RequiresResponse {
		return NewError(KindResponseNotRequired, "procedure %s does not require a response", p.Code)
	}
	if p.State != StateRead {
		return p.wrongState("respond", StateRead)
	}
	at := resp.RespondedAt
	p.State = StateResponded
	p.RespondedAt = &at
	p.Response = resp
	return nil
}

// Annul lleva el trámite a ANNULLED desde cualquier estado no terminal.
func (p *Procedure) Annul(reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewError(KindValidation, "an annulment reason is required")
	}
	if p.State.Terminal() {
		return NewError(KindInvalidState, "cannot annul procedure %s: state %s is terminal", p.Code, p.State).
			WithMetadata("state", string(p.State))
	}
	p.State = StateAnnulled
	p.AnnulledAt = &now
	p.AnnulReason = reason
	return nil
}

// NextVersion construye el reenvío que reemplaza a p y marca p como obsoleto.
// subject vacío conserva el asunto original.
func (p *Procedure) NextVersion(id string, doc DocumentRef, subject string, now time.Time) (*Procedure, error) {
	if err := p.CheckCurrent(); err != nil {
		return nil, err
	}
	if p.State == StateAnnulled {
		return nil, NewError(KindInvalidState, "cannot resend annulled procedure %s", p.Code).
			WithMetadata("state", string(p.State))
	}
	if strings.TrimSpace(subject) == "" {
		subject = p.Subject
	}
	next := &Procedure{
		ID:                id,
		Code:              p.Code,
		Subject:           subject,
		State:             StateSent,
		RequiresSignature: p.RequiresSignature,
		RequiresResponse:  p.RequiresResponse,
		Version:           p.Version + 1,
		IsResend:          true,
		PreviousVersionID: p.ID,
		Document:          doc,
		SenderID:          p.SenderID,
		RecipientID:       p.RecipientID,
		SentAt:            now,
	}
	p.SupersededBy = &VersionRef{ID: next.ID, Version: next.Version}
	return next, nil
}
