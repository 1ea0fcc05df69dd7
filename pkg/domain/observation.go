package domain

import "time"

// ObservationCategory clasifica una observación.
type ObservationCategory string

const (
	CategoryQuery              ObservationCategory = "QUERY"
	CategoryCorrectionRequired ObservationCategory = "CORRECTION_REQUIRED"
	CategoryAdditionalInfo     ObservationCategory = "ADDITIONAL_INFO"
)

// Valid indica si la categoría es conocida.
func (c ObservationCategory) Valid() bool {
	switch c {
	case CategoryQuery, CategoryCorrectionRequired, CategoryAdditionalInfo:
		return true
	}
	return false
}

// Observation es una consulta o pedido de corrección del destinatario.
type Observation struct {
	ID          string              `json:"id"`
	ProcedureID string              `json:"procedureId"`
	AuthorID    string              `json:"authorId"`
	Category    ObservationCategory `json:"category"`
	Body        string              `json:"body"`
	Resolved    bool                `json:"resolved"`
	Resolution  string              `json:"resolution,omitempty"`
	ResolverID  string              `json:"resolverId,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	ResolvedAt  *time.Time          `json:"resolvedAt,omitempty"`
}

// ResendPayload acompaña la resolución cuando se corrige el documento.
type ResendPayload struct {
	DocumentID string `json:"documentId"`
	Subject    string `json:"subject,omitempty"`
}
