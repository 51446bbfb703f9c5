package detmodel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"grism/internal/array"
	"grism/internal/diag"
	"grism/internal/disperse"
	"grism/internal/pipeline"
	"grism/internal/templates"
	"grism/internal/trace"
)

// ObjectRequest selects how ComputeForObject models one object.
type ObjectRequest struct {
	// Mag is compared with each order's faint limit; zero computes every
	// order.
	Mag float64
	// Spectrum is the template to disperse; nil means flat f_λ.
	Spectrum *templates.Spectrum
	// Store keeps the beams in the registry. Otherwise only the template is
	// kept and beams are rebuilt when needed.
	Store bool
	// InPlace composites into the detector model. Otherwise a fresh
	// detector-sized array holding only this object is returned and neither
	// the registry nor the detector model changes.
	InPlace bool
	// Orders restricts the build to these orders and returns the beams
	// without compositing anything.
	Orders []string
}

// ObjectResult is the outcome of ComputeForObject.
type ObjectResult struct {
	ID     int
	Status Status
	Beams  []*disperse.Beam
	// Model is the object-only detector array when the request was not in
	// place.
	Model    *array.Array2D
	Failures []BeamFailure
	// OffDetector lists orders whose footprint missed the detector.
	OffDetector []string
}

// ComputeForObject builds (or reuses) the beams of id, computes their model
// for req.Spectrum and composites them. An object already in the registry
// has its previous contribution subtracted first.
func (m *Model) ComputeForObject(ctx context.Context, id int, req ObjectRequest) (ObjectResult, error) {
	if err := ctx.Err(); err != nil {
		return ObjectResult{}, err
	}
	if req.Spectrum != nil {
		if err := req.Spectrum.Validate(); err != nil {
			return ObjectResult{ID: id}, err
		}
	}
	_, span := trace.Start(ctx, trace.ScopeObject, "object:"+strconv.Itoa(id))
	defer span.End("")
	start := time.Now()
	name := strconv.Itoa(id)
	pipeline.Emit(m.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageBuild, Status: pipeline.StatusWorking})

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(req.Orders) > 0 {
		res := m.build(id, req.Mag, req.Orders, req.Spectrum, m.catalog)
		m.report(res.Diags)
		m.emitDone(name, res.Status, start)
		return ObjectResult{ID: id, Status: res.Status, Beams: res.Beams, Failures: res.Failures}, nil
	}

	old, registered := m.registry[id]
	var (
		beams []*disperse.Beam
		mag   = req.Mag
		res   = ObjectResult{ID: id, Status: StatusComputed}
	)
	switch e := old.(type) {
	case Computed:
		beams, mag = e.Beams, e.Mag
		if !req.InPlace {
			beams = cloneBeams(beams)
		}
	default:
		var b built
		if u, ok := old.(Uncomputed); ok {
			// Rebuild exactly what was composited so it can be subtracted.
			b, mag = m.rebuild(id, u, m.catalog), u.Mag
		} else {
			b = m.build(id, mag, nil, nil, m.catalog)
		}
		m.report(b.Diags)
		res.Status, res.Failures = b.Status, b.Failures
		if b.Status != StatusComputed {
			m.emitDone(name, b.Status, start)
			span.WithExtra("status", b.Status.String())
			return res, nil
		}
		beams = b.Beams
	}

	// Every new model is rendered before the detector array is touched.
	models := make([]*array.Array2D, len(beams))
	for i, b := range beams {
		mdl, err := b.RenderModel(req.Spectrum, nil)
		if err != nil {
			return res, fmt.Errorf("object %d order %s: %w", id, b.Order(), err)
		}
		models[i] = mdl
	}

	out := m.full
	if !req.InPlace {
		out = array.Zeros(m.full.Shape())
	}
	for i, b := range beams {
		if registered && req.InPlace {
			if err := b.SubtractFromFullImage(b.Model(), out); err != nil && !errors.Is(err, disperse.ErrOutOfBounds) {
				return res, err
			}
		}
		if err := b.SetModel(models[i], req.Spectrum); err != nil {
			return res, err
		}
		if err := b.AddToFullImage(b.Model(), out); err != nil {
			if !errors.Is(err, disperse.ErrOutOfBounds) {
				return res, err
			}
			res.OffDetector = append(res.OffDetector, b.Order())
			m.opts.Reporter.Report(diag.NewWarning(diag.ModOffDetector, diag.Subject{ID: id, Order: b.Order()}, "footprint misses the detector"))
		}
	}
	res.Beams = beams

	if req.InPlace {
		if req.Store {
			m.registry[id] = Computed{Beams: beams, Mag: mag}
		} else {
			m.registry[id] = Uncomputed{Spectrum: copySpectrum(req.Spectrum), Mag: mag, Orders: orderNames(beams)}
		}
	} else {
		res.Model = out
	}
	m.opts.Logger.Debug("object modelled",
		zap.Int("id", id),
		zap.Int("beams", len(beams)),
		zap.Bool("replaced", registered),
		zap.Bool("in_place", req.InPlace),
	)
	m.emitDone(name, res.Status, start)
	return res, nil
}

// Upsert registers beams for id, whose models must already be computed. The
// previous contribution of id is subtracted first, so the detector model
// stays the sum of the registry.
func (m *Model) Upsert(id int, beams []*disperse.Beam) error {
	for _, b := range beams {
		if b == nil || b.ID() != id {
			return fmt.Errorf("detmodel: upsert %d: beam belongs to another object", id)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.commitLocked(id, beams, true, 0)
	return err
}

// Remove subtracts the contribution of id and drops it from the registry.
func (m *Model) Remove(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registry[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrObjectNotFound, id)
	}
	if err := m.subtractLocked(id); err != nil {
		return err
	}
	delete(m.registry, id)
	return nil
}

// subtractLocked removes the registered contribution of id from the
// detector model. Uncomputed entries are rebuilt with their template first.
func (m *Model) subtractLocked(id int) error {
	e, ok := m.registry[id]
	if !ok {
		return nil
	}
	var beams []*disperse.Beam
	switch e := e.(type) {
	case Computed:
		beams = e.Beams
	case Uncomputed:
		beams = m.rebuild(id, e, m.catalog).Beams
	}
	for _, b := range beams {
		if err := b.SubtractFromFullImage(b.Model(), m.full); err != nil && !errors.Is(err, disperse.ErrOutOfBounds) {
			return err
		}
	}
	return nil
}

func (m *Model) report(diags []diag.Diagnostic) {
	for _, d := range diags {
		m.opts.Reporter.Report(d)
	}
}

func (m *Model) emitDone(name string, st Status, start time.Time) {
	status := pipeline.StatusDone
	if st != StatusComputed {
		status = pipeline.StatusSkipped
	}
	pipeline.Emit(m.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageBuild, Status: status, Elapsed: time.Since(start)})
}

func cloneBeams(in []*disperse.Beam) []*disperse.Beam {
	out := make([]*disperse.Beam, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

func copySpectrum(s *templates.Spectrum) *templates.Spectrum {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
