// Package memory implementa los repositorios en memoria para pruebas y
// ejecución local. Todas las lecturas devuelven copias.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
)

// Store comparte un único candado entre trámites y observaciones para que
// las escrituras compuestas sean atómicas.
type Store struct {
	mu           sync.Mutex
	procedures   map[string]*domain.Procedure
	observations map[string]*domain.Observation
	documents    map[string]*domain.Document
	workers      map[string]*domain.Worker
}

func NewStore() *Store {
	return &Store{
		procedures:   make(map[string]*domain.Procedure),
		observations: make(map[string]*domain.Observation),
		documents:    make(map[string]*domain.Document),
		workers:      make(map[string]*domain.Worker),
	}
}

// Procedures devuelve la vista ports.ProcedureRepository del store.
func (s *Store) Procedures() ports.ProcedureRepository { return procedureRepository{s} }

// Observations devuelve la vista ports.ObservationRepository del store.
func (s *Store) Observations() ports.ObservationRepository { return observationRepository{s} }

// Documents devuelve la vista ports.DocumentRepository del store.
func (s *Store) Documents() ports.DocumentRepository { return documentRepository{s} }

// Workers devuelve la vista ports.WorkerDirectory del store.
func (s *Store) Workers() ports.WorkerDirectory { return workerDirectory{s} }

// PutWorker registra un trabajador en el directorio.
func (s *Store) PutWorker(w domain.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = &w
}

type procedureRepository struct{ s *Store }

func (r procedureRepository) Create(_ context.Context, p *domain.Procedure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.procedures[p.ID]; ok {
		return fmt.Errorf("procedure %s already exists", p.ID)
	}
	r.s.procedures[p.ID] = cloneProcedure(p)
	return nil
}

func (r procedureRepository) FindByID(_ context.Context, id string) (*domain.Procedure, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.procedures[id]
	if !ok {
		return nil, nil
	}
	return cloneProcedure(p), nil
}

func (r procedureRepository) Update(_ context.Context, p *domain.Procedure, expectedRevision int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkRevision(p.ID, expectedRevision); err != nil {
		return err
	}
	r.s.procedures[p.ID] = cloneProcedure(p)
	return nil
}

func (r procedureRepository) Supersede(_ context.Context, original *domain.Procedure, expectedRevision int64, next *domain.Procedure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkRevision(original.ID, expectedRevision); err != nil {
		return err
	}
	if _, ok := r.s.procedures[next.ID]; ok {
		return fmt.Errorf("procedure %s already exists", next.ID)
	}
	r.s.procedures[original.ID] = cloneProcedure(original)
	r.s.procedures[next.ID] = cloneProcedure(next)
	return nil
}

// checkRevision requiere que el llamador tenga el candado.
func (s *Store) checkRevision(id string, expected int64) error {
	cur, ok := s.procedures[id]
	if !ok {
		return fmt.Errorf("procedure %s not found", id)
	}
	if cur.Revision != expected {
		return domain.ErrRevisionConflict
	}
	return nil
}

type observationRepository struct{ s *Store }

func (r observationRepository) FindByID(_ context.Context, id string) (*domain.Observation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.observations[id]
	if !ok {
		return nil, nil
	}
	return cloneObservation(o), nil
}

func (r observationRepository) ListByProcedure(_ context.Context, procedureID string) ([]domain.Observation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Observation
	for _, o := range r.s.observations {
		if o.ProcedureID == procedureID {
			out = append(out, *cloneObservation(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r observationRepository) Open(_ context.Context, o *domain.Observation, p *domain.Procedure, expectedRevision int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkRevision(p.ID, expectedRevision); err != nil {
		return err
	}
	r.s.observations[o.ID] = cloneObservation(o)
	r.s.procedures[p.ID] = cloneProcedure(p)
	return nil
}

func (r observationRepository) Resolve(_ context.Context, o *domain.Observation, p *domain.Procedure, expectedRevision int64, next *domain.Procedure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkRevision(p.ID, expectedRevision); err != nil {
		return err
	}
	if next != nil {
		if _, ok := r.s.procedures[next.ID]; ok {
			return fmt.Errorf("procedure %s already exists", next.ID)
		}
		r.s.procedures[next.ID] = cloneProcedure(next)
	}
	r.s.observations[o.ID] = cloneObservation(o)
	r.s.procedures[p.ID] = cloneProcedure(p)
	return nil
}

type documentRepository struct{ s *Store }

func (r documentRepository) Save(_ context.Context, doc *domain.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d := *doc
	r.s.documents[doc.ID] = &d
	return nil
}

func (r documentRepository) FindByID(_ context.Context, id string) (*domain.Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.documents[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

type workerDirectory struct{ s *Store }

func (r workerDirectory) FindByID(_ context.Context, id string) (*domain.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.workers[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func cloneProcedure(p *domain.Procedure) *domain.Procedure {
	cp := *p
	cp.OpenedAt = cloneTime(p.OpenedAt)
	cp.ReadAt = cloneTime(p.ReadAt)
	cp.SignedAt = cloneTime(p.SignedAt)
	cp.RespondedAt = cloneTime(p.RespondedAt)
	cp.AnnulledAt = cloneTime(p.AnnulledAt)
	if p.SupersededBy != nil {
		ref := *p.SupersededBy
		cp.SupersededBy = &ref
	}
	if p.Signature != nil {
		sig := *p.Signature
		cp.Signature = &sig
	}
	if p.Response != nil {
		resp := *p.Response
		cp.Response = &resp
	}
	return &cp
}

func cloneObservation(o *domain.Observation) *domain.Observation {
	cp := *o
	cp.ResolvedAt = cloneTime(o.ResolvedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var (
	_ ports.ProcedureRepository   = procedureRepository{}
	_ ports.ObservationRepository = observationRepository{}
	_ ports.DocumentRepository    = documentRepository{}
	_ ports.WorkerDirectory       = workerDirectory{}
)
