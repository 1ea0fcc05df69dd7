// Package reader mide cuánto de un documento paginado vio el destinatario
// y dispara la marca de lectura una sola vez por sesión.
package reader

import (
	"errors"
	"sort"
	"sync"
)

// VisibleRatio es la fracción mínima de una página dentro del viewport
// para considerarla vista.
const VisibleRatio = 0.5

// VisibilityEvent informa la fracción visible de una página.
type VisibilityEvent struct {
	Page  int
	Ratio float64
}

// Viewport es la capacidad de observar la visibilidad de superficies. Los
// eventos pueden llegar desde cualquier goroutine, desordenados y repetidos.
type Viewport interface {
	Watch(pages []int, fn func(VisibilityEvent)) (stop func(), err error)
}

// PageSet es el conjunto de páginas vistas. Solo crece.
type PageSet struct {
	mu    sync.Mutex
	pages map[int]struct{}
}

func NewPageSet() *PageSet {
	return &PageSet{pages: make(map[int]struct{})}
}

// Add agrega page y devuelve true si no estaba.
func (s *PageSet) Add(page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[page]; ok {
		return false
	}
	s.pages[page] = struct{}{}
	return true
}

func (s *PageSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

func (s *PageSet) Contains(page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pages[page]
	return ok
}

// Pages devuelve las páginas vistas en orden ascendente.
func (s *PageSet) Pages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.pages))
	for p := range s.pages {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// ErrTrackerClosed se devuelve al observar con un tracker ya liberado.
var ErrTrackerClosed = errors.New("visibility tracker is torn down")

// Tracker acumula en un PageSet las páginas que alcanzan VisibleRatio.
type Tracker struct {
	viewport Viewport
	seen     *PageSet

	mu     sync.Mutex
	stops  []func()
	closed bool
	once   sync.Once
}

// NewTracker crea un tracker que acumula en seen.
func NewTracker(viewport Viewport, seen *PageSet) *Tracker {
	if seen == nil {
		seen = NewPageSet()
	}
	return &Tracker{viewport: viewport, seen: seen}
}

// Seen devuelve el conjunto acumulado.
func (t *Tracker) Seen() *PageSet { return t.seen }

// Observe registra las páginas y llama a onVisible cada vez que una de
// ellas alcanza VisibleRatio. Sin páginas no observa nada.
func (t *Tracker) Observe(pages []int, onVisible func(page int)) error {
	if len(pages) == 0 {
		return nil
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTrackerClosed
	}
	registered := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		registered[p] = struct{}{}
	}
	stop, err := t.viewport.Watch(pages, func(ev VisibilityEvent) {
		if _, ok := registered[ev.Page]; !ok || ev.Ratio < VisibleRatio {
			return
		}
		t.seen.Add(ev.Page)
		if onVisible != nil {
			onVisible(ev.Page)
		}
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		stop()
		return ErrTrackerClosed
	}
	t.stops = append(t.stops, stop)
	t.mu.Unlock()
	return nil
}

// Teardown libera la observación. Es idempotente.
func (t *Tracker) Teardown() {
	t.once.Do(func() {
		t.mu.Lock()
		stops := t.stops
		t.stops = nil
		t.closed = true
		t.mu.Unlock()
		for _, stop := range stops {
			if stop != nil {
				stop()
			}
		}
	})
}
