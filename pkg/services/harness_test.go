package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	challengememory "collie-procedures-backend/pkg/adapters/challenge/memory"
	filememory "collie-procedures-backend/pkg/adapters/filestorage/memory"
	"collie-procedures-backend/pkg/adapters/storage/memory"
	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
	"collie-procedures-backend/pkg/services"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	senderID    = "w-sender"
	recipientID = "w-recipient"
	strangerID  = "w-stranger"
)

var (
	sender    = domain.Actor{ID: senderID}
	recipient = domain.Actor{ID: recipientID}
	stranger  = domain.Actor{ID: strangerID}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type codeRecorder struct {
	mu    sync.Mutex
	codes []string
	dest  []string
}

func (r *codeRecorder) SendSignatureCode(_ context.Context, destination, code string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
	r.dest = append(r.dest, destination)
	return nil
}

func (r *codeRecorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		return ""
	}
	return r.codes[len(r.codes)-1]
}

type notifierRecorder struct {
	mu     sync.Mutex
	events []string
}

func (n *notifierRecorder) ObservationCreated(_ context.Context, p *domain.Procedure, o *domain.Observation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, p.SenderID+":"+o.ID)
	return nil
}

func (n *notifierRecorder) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type harness struct {
	store        *memory.Store
	files        *filememory.FileStorage
	clock        *clock
	codes        *codeRecorder
	notes        *notifierRecorder
	procedures   ports.ProcedureService
	signatures   ports.SignatureService
	observations ports.ObservationService
	documents    ports.DocumentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store: memory.NewStore(),
		files: filememory.NewFileStorage("https://files.test"),
		clock: &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		codes: &codeRecorder{},
		notes: &notifierRecorder{},
	}
	h.store.PutWorker(domain.Worker{ID: senderID, Name: "Sandra Ruiz", Email: "sruiz@collie.test", Status: "ACTIVE"})
	h.store.PutWorker(domain.Worker{ID: recipientID, Name: "Jorge Perez", Email: "jperez@collie.test", Status: "ACTIVE"})

	for _, doc := range []domain.Document{
		{ID: "doc-1", FileName: "contrato.pdf", ContentType: domain.ContentTypePDF},
		{ID: "doc-2", FileName: "contrato-v2.pdf", ContentType: domain.ContentTypePDF},
		{ID: "doc-3", FileName: "planilla.xlsx", ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	} {
		doc.S3Key = "documents/" + doc.ID + "/" + doc.FileName
		doc.OwnerID = senderID
		doc.UploadDate = h.clock.Now()
		require.NoError(t, h.store.Documents().Save(ctx, &doc))
		h.files.Put(doc.S3Key, []byte("%PDF-1.7 "+doc.ID))
	}

	opts := []services.Option{
		services.WithClock(h.clock.Now),
		services.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	sigCfg := services.DefaultSignatureConfig()
	sigCfg.BcryptCost = bcrypt.MinCost

	h.procedures = services.NewProcedureService(h.store.Procedures(), h.store.Documents(), opts...)
	h.signatures = services.NewSignatureService(
		h.store.Procedures(),
		h.store.Workers(),
		challengememory.NewChallengeStore(),
		challengememory.NewAttemptLimiter(domain.DefaultLockoutPolicy(), h.clock.Now),
		h.codes,
		sigCfg,
		opts...,
	)
	h.observations = services.NewObservationService(h.store.Procedures(), h.store.Observations(), h.store.Documents(), h.notes, opts...)
	h.documents = services.NewDocumentService(h.files, h.store.Documents(), h.store.Procedures(), opts...)
	return h
}

func (h *harness) dispatch(t *testing.T, requiresSignature, requiresResponse bool) *domain.Procedure {
	t.Helper()
	p, err := h.procedures.Dispatch(context.Background(), sender, ports.DispatchRequest{
		Subject:           "Contrato de servicios 2026",
		DocumentID:        "doc-1",
		RecipientID:       recipientID,
		RequiresSignature: requiresSignature,
		RequiresResponse:  requiresResponse,
	})
	require.NoError(t, err)
	return p
}

// read lleva el trámite a READ como lo haría el visor.
func (h *harness) read(t *testing.T, id string) *domain.Procedure {
	t.Helper()
	ctx := context.Background()
	_, err := h.procedures.OpenProcedure(ctx, recipient, id)
	require.NoError(t, err)
	p, err := h.procedures.MarkProcedureRead(ctx, recipient, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateRead, p.State)
	return p
}

func requireKind(t *testing.T, err error, kind domain.Kind) *domain.Error {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "unexpected error: %v", err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	return de
}
