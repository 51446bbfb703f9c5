// Package detmodel maintains the full-detector grism model: a registry of
// per-object beams whose dispersed models always sum to the detector array.
//
// Every mutation of the detector array is a subtract-old/add-new transaction
// keyed by object id and serialized by the Model's lock. Beam construction is
// pure and may run in parallel (ComputeFull); compositing never does.
package detmodel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/diag"
	"grism/internal/disperse"
	"grism/internal/pipeline"
	"grism/internal/templates"
)

// ErrObjectNotFound is returned by lookups of ids that are not registered.
// During model building an absent object is a Status, not an error.
var ErrObjectNotFound = errors.New("detmodel: object not found")

// ThumbOptions are the thresholds used to size direct-image thumbnails from
// the segmentation footprint.
type ThumbOptions struct {
	// Margin is added to the largest centroid-to-edge distance of the segment.
	Margin int
	// MinSize is the smallest half-size tried.
	MinSize int
	// Edge is kept between the thumbnail and the direct-image border.
	Edge int
	// MinUsable is the smallest half-size worth dispersing after clamping.
	MinUsable int
}

// DefaultThumbOptions returns the thresholds used when none are configured.
func DefaultThumbOptions() ThumbOptions {
	return ThumbOptions{Margin: 4, MinSize: 26, Edge: 2, MinUsable: 4}
}

// Options configure a Model.
type Options struct {
	// Grow is the oversampling factor of the dispersed frame.
	Grow  int
	Thumb ThumbOptions
	// Jobs bounds parallel beam construction in ComputeFull; <=0 means one
	// worker per object.
	Jobs int

	Logger   *zap.Logger
	Progress pipeline.ProgressSink
	Reporter diag.Reporter
}

func (o *Options) normalize() {
	if o.Grow < 1 {
		o.Grow = 1
	}
	def := DefaultThumbOptions()
	if o.Thumb.Margin < 0 {
		o.Thumb.Margin = def.Margin
	}
	if o.Thumb.MinSize <= 0 {
		o.Thumb.MinSize = def.MinSize
	}
	if o.Thumb.Edge < 0 {
		o.Thumb.Edge = def.Edge
	}
	if o.Thumb.MinUsable <= 0 {
		o.Thumb.MinUsable = def.MinUsable
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Reporter == nil {
		o.Reporter = diag.NopReporter{}
	}
}

// Entry is a registry record. It is either Uncomputed or Computed.
type Entry interface {
	isEntry()
}

// Uncomputed records only the template an object was last modelled with;
// its beams are rebuilt from geometry when needed.
type Uncomputed struct {
	// Spectrum is nil for a flat f_λ model.
	Spectrum *templates.Spectrum
	Mag      float64
	// Orders are the orders that were composited. Rebuilding uses exactly
	// these; when empty the faint cut on Mag selects them.
	Orders []string
}

// Computed holds the beams of an object, in calibration order.
type Computed struct {
	Beams []*disperse.Beam
	// Mag is the magnitude the beams were selected with, 0 when they were
	// supplied ready-made.
	Mag float64
}

func (Uncomputed) isEntry() {}
func (Computed) isEntry()   {}

// Model is the detector model cache. The zero value is not usable; call New.
type Model struct {
	mu sync.Mutex

	direct array.ImageData
	seg    *array.Int2D
	solver calib.TraceSolver
	opts   Options

	full     *array.Array2D
	registry map[int]Entry
	catalog  map[int][2]float64
}

// New returns an empty model over the direct image and its segmentation.
// The detector array has the shape of the (padded) direct image; direct.Pad
// is the padding shared by both frames.
func New(direct array.ImageData, seg *array.Int2D, solver calib.TraceSolver, opts Options) (*Model, error) {
	if err := direct.Validate(); err != nil {
		return nil, err
	}
	if seg == nil || seg.Shape() != direct.Shape() {
		return nil, fmt.Errorf("%w: segmentation does not match direct image %v", array.ErrShape, direct.Shape())
	}
	if solver == nil {
		return nil, fmt.Errorf("%w: no calibration", calib.ErrConfigurationMissing)
	}
	opts.normalize()
	return &Model{
		direct:   direct,
		seg:      seg,
		solver:   solver,
		opts:     opts,
		full:     array.Zeros(direct.Shape()),
		registry: make(map[int]Entry),
	}, nil
}

// SetCatalog replaces the catalog positions. Objects listed override their
// segmentation centroid; when a catalog is set, ids missing from it are not
// found. Positions are (row, col) in the direct-image frame.
func (m *Model) SetCatalog(pos map[int][2]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos == nil {
		m.catalog = nil
		return
	}
	m.catalog = make(map[int][2]float64, len(pos))
	for id, p := range pos {
		m.catalog[id] = p
	}
}

// Shape returns the detector array shape.
func (m *Model) Shape() array.Shape { return m.full.Shape() }

// Direct returns the direct image the model was built over.
func (m *Model) Direct() array.ImageData { return m.direct }

// Segmentation returns the segmentation image.
func (m *Model) Segmentation() *array.Int2D { return m.seg }

// Solver returns the calibration.
func (m *Model) Solver() calib.TraceSolver { return m.solver }

// Full returns a copy of the detector model.
func (m *Model) Full() *array.Array2D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full.Clone()
}

// Entry returns the registry record for id.
func (m *Model) Entry(id int) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[id]
	return e, ok
}

// IDs returns the registered ids in ascending order.
func (m *Model) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Beams returns the beams of id. Uncomputed entries are rebuilt from the
// segmentation geometry with their stored template; the registry is not
// changed. The returned beams are independent of the registry.
func (m *Model) Beams(id int) ([]*disperse.Beam, error) {
	m.mu.Lock()
	e, ok := m.registry[id]
	catalog := m.catalog
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrObjectNotFound, id)
	}
	switch e := e.(type) {
	case Computed:
		out := make([]*disperse.Beam, len(e.Beams))
		for i, b := range e.Beams {
			out[i] = b.Clone()
		}
		return out, nil
	case Uncomputed:
		res := m.rebuild(id, e, catalog)
		if res.Status != StatusComputed {
			return nil, fmt.Errorf("%w: id %d %s", ErrObjectNotFound, id, res.Status)
		}
		return res.Beams, nil
	}
	return nil, fmt.Errorf("detmodel: unknown entry %T", e)
}

// Restore replaces the detector array and registry, for instance from a
// snapshot. full must have the detector shape.
func (m *Model) Restore(full *array.Array2D, entries map[int]Entry) error {
	if full == nil || full.Shape() != m.full.Shape() {
		return fmt.Errorf("%w: restored model does not match detector %v", array.ErrShape, m.full.Shape())
	}
	reg := make(map[int]Entry, len(entries))
	for id, e := range entries {
		if c, ok := e.(Computed); ok {
			for _, b := range c.Beams {
				if b.ID() != id {
					return fmt.Errorf("detmodel: beam of object %d registered under %d", b.ID(), id)
				}
			}
		}
		reg[id] = e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.full = full.Clone()
	m.registry = reg
	return nil
}

// Entries returns a shallow copy of the registry.
func (m *Model) Entries() map[int]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]Entry, len(m.registry))
	for id, e := range m.registry {
		out[id] = e
	}
	return out
}

// rebuild reconstructs the beams an Uncomputed entry composited.
func (m *Model) rebuild(id int, u Uncomputed, catalog map[int][2]float64) built {
	if len(u.Orders) > 0 {
		return m.build(id, 0, u.Orders, u.Spectrum, catalog)
	}
	return m.build(id, u.Mag, nil, u.Spectrum, catalog)
}

func orderNames(beams []*disperse.Beam) []string {
	out := make([]string, len(beams))
	for i, b := range beams {
		out[i] = b.Order()
	}
	return out
}
