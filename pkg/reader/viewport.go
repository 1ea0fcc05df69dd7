package reader

import (
	"fmt"
	"sync"
)

// ScrollViewport calcula la visibilidad con la posición de scroll y las
// alturas de las páginas, apiladas una tras otra desde la página 1.
type ScrollViewport struct {
	mu       sync.Mutex
	heights  []float64
	height   float64
	offset   float64
	nextID   int
	watchers map[int]*watcher
}

type watcher struct {
	pages map[int]struct{}
	last  map[int]float64
	fn    func(VisibilityEvent)
}

// NewScrollViewport crea un viewport de la altura dada sobre páginas con
// las alturas indicadas.
func NewScrollViewport(viewportHeight float64, pageHeights []float64) *ScrollViewport {
	return &ScrollViewport{
		heights:  append([]float64(nil), pageHeights...),
		height:   viewportHeight,
		watchers: make(map[int]*watcher),
	}
}

// UniformScrollViewport crea un viewport sobre n páginas de igual altura.
func UniformScrollViewport(viewportHeight, pageHeight float64, n int) *ScrollViewport {
	heights := make([]float64, n)
	for i := range heights {
		heights[i] = pageHeight
	}
	return NewScrollViewport(viewportHeight, heights)
}

// Watch implementa Viewport. Entrega de inmediato la visibilidad actual.
func (v *ScrollViewport) Watch(pages []int, fn func(VisibilityEvent)) (func(), error) {
	w := &watcher{pages: make(map[int]struct{}, len(pages)), last: make(map[int]float64), fn: fn}
	v.mu.Lock()
	for _, p := range pages {
		if p < 1 || p > len(v.heights) {
			v.mu.Unlock()
			return nil, fmt.Errorf("page %d out of range 1..%d", p, len(v.heights))
		}
		w.pages[p] = struct{}{}
	}
	id := v.nextID
	v.nextID++
	v.watchers[id] = w
	events := v.diffLocked(w)
	v.mu.Unlock()

	deliver(fn, events)
	return func() {
		v.mu.Lock()
		delete(v.watchers, id)
		v.mu.Unlock()
	}, nil
}

// Scroll mueve el borde superior del viewport a offset y notifica los
// cambios de visibilidad.
func (v *ScrollViewport) Scroll(offset float64) {
	v.mu.Lock()
	v.offset = offset
	type batch struct {
		fn     func(VisibilityEvent)
		events []VisibilityEvent
	}
	var batches []batch
	for _, w := range v.watchers {
		if events := v.diffLocked(w); len(events) > 0 {
			batches = append(batches, batch{fn: w.fn, events: events})
		}
	}
	v.mu.Unlock()

	for _, b := range batches {
		deliver(b.fn, b.events)
	}
}

// ScrollToPage alinea el borde superior del viewport con la página.
func (v *ScrollViewport) ScrollToPage(page int) {
	v.mu.Lock()
	top := v.pageTopLocked(page)
	v.mu.Unlock()
	v.Scroll(top)
}

// Ratio devuelve la fracción visible de la página.
func (v *ScrollViewport) Ratio(page int) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ratioLocked(page)
}

func (v *ScrollViewport) pageTopLocked(page int) float64 {
	var top float64
	for i := 0; i < page-1 && i < len(v.heights); i++ {
		top += v.heights[i]
	}
	return top
}

func (v *ScrollViewport) ratioLocked(page int) float64 {
	if page < 1 || page > len(v.heights) {
		return 0
	}
	h := v.heights[page-1]
	if h <= 0 {
		return 0
	}
	top := v.pageTopLocked(page)
	bottom := top + h
	visible := min(bottom, v.offset+v.height) - max(top, v.offset)
	if visible <= 0 {
		return 0
	}
	return min(visible/h, 1)
}

// diffLocked devuelve los eventos de las páginas cuya fracción cambió.
func (v *ScrollViewport) diffLocked(w *watcher) []VisibilityEvent {
	var events []VisibilityEvent
	for p := range w.pages {
		r := v.ratioLocked(p)
		if prev, ok := w.last[p]; ok && prev == r {
			continue
		}
		w.last[p] = r
		events = append(events, VisibilityEvent{Page: p, Ratio: r})
	}
	return events
}

func deliver(fn func(VisibilityEvent), events []VisibilityEvent) {
	if fn == nil {
		return
	}
	for _, ev := range events {
		fn(ev)
	}
}
