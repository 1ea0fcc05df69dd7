package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Worker struct {
	ID       string
	Name     string
	Email    string
	Status   string
	LinkDate time.Time
	AreaID   string
}

// Snapshot copia los datos del firmante al momento de la firma.
func (w Worker) Snapshot() SignerSnapshot {
	return SignerSnapshot{WorkerID: w.ID, Name: w.Name, Email: w.Email}
}

// Actor es la identidad autenticada que invoca una operación.
type Actor struct {
	ID string
}

// MaskEmail oculta la parte local de un correo: "jperez@x.com" -> "j*****@x.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return strings.Repeat("*", utf8.RuneCountInString(email))
	}
	local := []rune(email[:at])
	return string(local[0]) + strings.Repeat("*", len(local)-1) + email[at:]
}
