// Package snapshot persists a detector model: the full model array, the
// segmentation image and, per object, the minimal parameters needed to
// rebuild its beams bit-for-bit from the same calibration.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fortio.org/safecast"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"grism/internal/array"
	"grism/internal/detmodel"
	"grism/internal/disperse"
	"grism/internal/templates"
)

// SchemaVersion is bumped whenever Payload changes shape.
const SchemaVersion uint16 = 2

var (
	// ErrSchema is returned for files written with another schema.
	ErrSchema = errors.New("snapshot: unsupported schema")
	// ErrStale is returned when the snapshot was made with another
	// calibration or segmentation than the model it is restored into.
	ErrStale = errors.New("snapshot: stale")
)

// Payload is the on-disk form of a detector model.
type Payload struct {
	Schema  uint16
	Session string
	Created int64 // unix seconds
	// Calibration is the digest of the calibration the beams were built with.
	Calibration string

	Rows, Cols int32
	Full       []float64
	Seg        []int32

	Objects []ObjectRecord
}

// ObjectRecord is one registry entry.
type ObjectRecord struct {
	ID       int64
	Computed bool
	Mag      float64
	// Spectrum and Orders describe Uncomputed entries.
	Spectrum *SpectrumRecord
	Orders   []string
	Beams    []BeamRecord
}

// BeamRecord holds disperse.Params in fixed-width form.
type BeamRecord struct {
	Order     string
	Origin    [2]int32
	Center    [2]float64
	Pad, Grow int32
	Rows      int32
	Cols      int32
	Thumb     []float64
	Seg       []int32
	Spectrum  *SpectrumRecord
}

// SpectrumRecord is a serialized templates.Spectrum.
type SpectrumRecord struct {
	Name string
	Line bool
	Wave []float64
	Flux []float64
}

// Capture converts the current state of m into a payload.
func Capture(m *detmodel.Model, calibration string) (*Payload, error) {
	full := m.Full()
	sh := full.Shape()
	rows, err := safecast.Conv[int32](sh.Rows)
	if err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	cols, err := safecast.Conv[int32](sh.Cols)
	if err != nil {
		return nil, fmt.Errorf("cols: %w", err)
	}
	p := &Payload{
		Schema:      SchemaVersion,
		Session:     uuid.NewString(),
		Created:     time.Now().Unix(),
		Calibration: calibration,
		Rows:        rows,
		Cols:        cols,
		Full:        full.Data(),
		Seg:         append([]int32(nil), m.Segmentation().Data()...),
	}

	entries := m.Entries()
	ids := make([]int, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		rec := ObjectRecord{ID: int64(id)}
		switch e := entries[id].(type) {
		case detmodel.Computed:
			rec.Computed = true
			rec.Mag = e.Mag
			for _, b := range e.Beams {
				br, err := beamRecord(b.Params())
				if err != nil {
					return nil, fmt.Errorf("object %d order %s: %w", id, b.Order(), err)
				}
				rec.Beams = append(rec.Beams, br)
			}
		case detmodel.Uncomputed:
			rec.Mag = e.Mag
			rec.Spectrum = spectrumRecord(e.Spectrum)
			rec.Orders = e.Orders
		}
		p.Objects = append(p.Objects, rec)
	}
	return p, nil
}

func beamRecord(p disperse.Params) (BeamRecord, error) {
	var (
		r   BeamRecord
		err error
	)
	r.Order = p.Order
	r.Center = p.Center
	for i := range 2 {
		if r.Origin[i], err = safecast.Conv[int32](p.Origin[i]); err != nil {
			return r, fmt.Errorf("origin: %w", err)
		}
	}
	if r.Pad, err = safecast.Conv[int32](p.Pad); err != nil {
		return r, fmt.Errorf("pad: %w", err)
	}
	if r.Grow, err = safecast.Conv[int32](p.Grow); err != nil {
		return r, fmt.Errorf("grow: %w", err)
	}
	sh := p.Thumb.Shape()
	if r.Rows, err = safecast.Conv[int32](sh.Rows); err != nil {
		return r, fmt.Errorf("thumb rows: %w", err)
	}
	if r.Cols, err = safecast.Conv[int32](sh.Cols); err != nil {
		return r, fmt.Errorf("thumb cols: %w", err)
	}
	r.Thumb = append([]float64(nil), p.Thumb.Data()...)
	r.Seg = append([]int32(nil), p.Seg.Data()...)
	r.Spectrum = spectrumRecord(p.Spectrum)
	return r, nil
}

func spectrumRecord(s *templates.Spectrum) *SpectrumRecord {
	if s == nil {
		return nil
	}
	return &SpectrumRecord{Name: s.Name, Line: s.Line, Wave: s.Wave, Flux: s.Flux}
}

func (r *SpectrumRecord) spectrum() *templates.Spectrum {
	if r == nil {
		return nil
	}
	return &templates.Spectrum{Name: r.Name, Line: r.Line, Wave: r.Wave, Flux: r.Flux}
}

// Write encodes p to path atomically.
func Write(path string, p *Payload) error {
	if err := WriteMsgpack(path, p); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// WriteMsgpack encodes v to path atomically: a temporary file in the same
// directory is renamed over path once fully written.
func WriteMsgpack(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if _, statErr := os.Stat(tmp); statErr == nil {
			_ = os.Remove(tmp)
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read decodes a payload and checks its schema.
func Read(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var p Payload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %s has schema %d, want %d", ErrSchema, path, p.Schema, SchemaVersion)
	}
	return &p, nil
}

// Restore rebuilds the beams recorded in p and installs them, with the
// stored full model, into m. calibration must match the digest the snapshot
// was written with, and m must use the same segmentation image.
func Restore(p *Payload, m *detmodel.Model, calibration string) error {
	if p.Calibration != calibration {
		return fmt.Errorf("%w: calibration %.12s, snapshot %.12s", ErrStale, calibration, p.Calibration)
	}
	full, err := array.FromSlice(int(p.Rows), int(p.Cols), p.Full)
	if err != nil {
		return fmt.Errorf("full model: %w", err)
	}
	seg, err := array.IntFromSlice(int(p.Rows), int(p.Cols), p.Seg)
	if err != nil {
		return fmt.Errorf("segmentation: %w", err)
	}
	if !seg.Equal(m.Segmentation()) {
		return fmt.Errorf("%w: segmentation image differs", ErrStale)
	}

	entries := make(map[int]detmodel.Entry, len(p.Objects))
	for _, rec := range p.Objects {
		id := int(rec.ID)
		if !rec.Computed {
			entries[id] = detmodel.Uncomputed{Spectrum: rec.Spectrum.spectrum(), Mag: rec.Mag, Orders: rec.Orders}
			continue
		}
		beams := make([]*disperse.Beam, 0, len(rec.Beams))
		for _, br := range rec.Beams {
			params, err := br.params(id)
			if err != nil {
				return fmt.Errorf("object %d order %s: %w", id, br.Order, err)
			}
			b, err := disperse.Rebuild(params, m.Solver())
			if err != nil {
				return fmt.Errorf("object %d order %s: %w", id, br.Order, err)
			}
			beams = append(beams, b)
		}
		entries[id] = detmodel.Computed{Beams: beams, Mag: rec.Mag}
	}
	return m.Restore(full, entries)
}

func (r BeamRecord) params(id int) (disperse.Params, error) {
	thumb, err := array.FromSlice(int(r.Rows), int(r.Cols), r.Thumb)
	if err != nil {
		return disperse.Params{}, err
	}
	seg, err := array.IntFromSlice(int(r.Rows), int(r.Cols), r.Seg)
	if err != nil {
		return disperse.Params{}, err
	}
	return disperse.Params{
		ID:       id,
		Order:    r.Order,
		Origin:   [2]int{int(r.Origin[0]), int(r.Origin[1])},
		Center:   r.Center,
		Pad:      int(r.Pad),
		Grow:     int(r.Grow),
		Thumb:    thumb,
		Seg:      seg,
		Spectrum: r.Spectrum.spectrum(),
	}, nil
}

// Save captures m and writes it to path.
func Save(path string, m *detmodel.Model, calibration string) (*Payload, error) {
	p, err := Capture(m, calibration)
	if err != nil {
		return nil, err
	}
	return p, Write(path, p)
}

// Load reads path and restores it into m.
func Load(path string, m *detmodel.Model, calibration string) (*Payload, error) {
	p, err := Read(path)
	if err != nil {
		return nil, err
	}
	return p, Restore(p, m, calibration)
}
