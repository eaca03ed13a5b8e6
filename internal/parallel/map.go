package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over an input sequence with bounded parallelism and
// yields results as they complete. Used to fan out multi-job runs without
// exceeding a limit. Map is context aware, a canceled context ends the
// processing. Typical usage:
//
//	for result, err := range m.Iter(input) {}
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       make(chan result[D], limit),
		mapFunc:      mapFunc,
	}
}

func (m *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	m.g.Go(func() error {
		for entry, nerr := range seq {
			if nerr != nil {
				continue
			}
			m.g.Go(func() error {
				d, err := m.mapFunc(m.gctx, entry)
				select {
				case <-m.gctx.Done():
					return m.gctx.Err()
				default:
					m.mapped <- result[D]{d: d, e: err}
				}
				return nil
			})
		}
		return nil
	})
}

func (m *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer m.cancelParent()
		m.goWorkers(seq)

		go func() {
			_ = m.g.Wait()
			close(m.mapped)
		}()

		for r := range m.mapped {
			if m.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}

// Collect drains Iter over a plain slice input and returns all results,
// dropping per-item errors already reported through D.
func Collect[E, D any](m *Map[E, D], input []E) []D {
	seq := func(yield func(E, error) bool) {
		for _, e := range input {
			if !yield(e, nil) {
				return
			}
		}
	}
	var out []D
	for d := range m.Iter(seq) {
		out = append(out, d)
	}
	return out
}
