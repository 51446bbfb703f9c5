// Package scene stores the images a grism model is built from: the direct
// (or reference) image, its segmentation, the grism exposure and optional
// catalog positions, all in the padded model frame.
package scene

import (
	"errors"
	"fmt"
	"os"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"grism/internal/array"
	"grism/internal/calib"
	"grism/internal/detmodel"
	"grism/internal/snapshot"
)

// SchemaVersion is bumped whenever the file layout changes.
const SchemaVersion uint16 = 1

// ErrSchema is returned for files written with another schema.
var ErrSchema = errors.New("scene: unsupported schema")

// Truth records what a synthetic object was made of.
type Truth struct {
	ID       int     `msgpack:"id" json:"id" yaml:"id"`
	Z        float64 `msgpack:"z" json:"z" yaml:"z"`
	Line     string  `msgpack:"line" json:"line" yaml:"line"`
	LineFlux float64 `msgpack:"line_flux" json:"line_flux" yaml:"line_flux"`
	Beta     float64 `msgpack:"beta" json:"beta" yaml:"beta"`
}

// Scene is a direct image, its segmentation and a grism exposure sharing
// the same padded frame.
type Scene struct {
	Direct array.ImageData
	Seg    *array.Int2D
	Grism  array.ImageData
	// Catalog positions (row, col) override segmentation centroids.
	Catalog map[int][2]float64
	Truth   []Truth
}

// Validate checks that every plane shares one shape.
func (s *Scene) Validate() error {
	if err := s.Direct.Validate(); err != nil {
		return fmt.Errorf("direct: %w", err)
	}
	if err := s.Grism.Validate(); err != nil {
		return fmt.Errorf("grism: %w", err)
	}
	if s.Seg == nil || s.Seg.Shape() != s.Direct.Shape() {
		return fmt.Errorf("%w: segmentation does not match direct image %v", array.ErrShape, s.Direct.Shape())
	}
	if s.Grism.Shape() != s.Direct.Shape() {
		return fmt.Errorf("%w: grism %v, direct %v", array.ErrShape, s.Grism.Shape(), s.Direct.Shape())
	}
	return nil
}

// Model returns an empty detector model over the scene.
func (s *Scene) Model(solver calib.TraceSolver, opts detmodel.Options) (*detmodel.Model, error) {
	m, err := detmodel.New(s.Direct, s.Seg, solver, opts)
	if err != nil {
		return nil, err
	}
	if len(s.Catalog) > 0 {
		m.SetCatalog(s.Catalog)
	}
	return m, nil
}

type file struct {
	Schema     uint16
	Rows, Cols int32
	Pad        int32

	Instrument string
	Filter     string
	PhotFlam   float64
	PhotPlam   float64

	DirectSci []float64
	DirectRef []float64
	Seg       []int32

	GrismSci []float64
	GrismErr []float64
	GrismDQ  []int32

	Catalog []position
	Truth   []Truth
}

type position struct {
	ID       int64
	Row, Col float64
}

// Write stores s at path atomically.
func Write(path string, s *Scene) error {
	if err := s.Validate(); err != nil {
		return err
	}
	sh := s.Direct.Shape()
	f := file{
		Schema:     SchemaVersion,
		Instrument: s.Grism.Instrument,
		Filter:     s.Grism.Filter,
		PhotFlam:   s.Direct.PhotFlam,
		PhotPlam:   s.Direct.PhotPlam,
		DirectSci:  s.Direct.Sci.Data(),
		Seg:        s.Seg.Data(),
		GrismSci:   s.Grism.Sci.Data(),
		Truth:      s.Truth,
	}
	var err error
	if f.Rows, err = safecast.Conv[int32](sh.Rows); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	if f.Cols, err = safecast.Conv[int32](sh.Cols); err != nil {
		return fmt.Errorf("cols: %w", err)
	}
	if f.Pad, err = safecast.Conv[int32](s.Direct.Pad); err != nil {
		return fmt.Errorf("pad: %w", err)
	}
	if s.Direct.Ref != nil {
		f.DirectRef = s.Direct.Ref.Data()
	}
	if s.Grism.Err != nil {
		f.GrismErr = s.Grism.Err.Data()
	}
	if s.Grism.DQ != nil {
		f.GrismDQ = s.Grism.DQ.Data()
	}
	for id, p := range s.Catalog {
		f.Catalog = append(f.Catalog, position{ID: int64(id), Row: p[0], Col: p[1]})
	}
	if err := snapshot.WriteMsgpack(path, &f); err != nil {
		return fmt.Errorf("write scene: %w", err)
	}
	return nil
}

// Read loads a scene written by Write.
func Read(path string) (*Scene, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	var f file
	if err := msgpack.NewDecoder(fh).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode scene %s: %w", path, err)
	}
	if f.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %s has schema %d, want %d", ErrSchema, path, f.Schema, SchemaVersion)
	}
	rows, cols := int(f.Rows), int(f.Cols)

	plane := func(name string, data []float64) (*array.Array2D, error) {
		a, err := array.FromSlice(rows, cols, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return a, nil
	}
	s := &Scene{}
	sci, err := plane("direct", f.DirectSci)
	if err != nil {
		return nil, err
	}
	s.Direct = array.NewImageData(sci)
	s.Direct.Pad = int(f.Pad)
	s.Direct.PhotFlam, s.Direct.PhotPlam = f.PhotFlam, f.PhotPlam
	if f.DirectRef != nil {
		if s.Direct.Ref, err = plane("reference", f.DirectRef); err != nil {
			return nil, err
		}
	}
	if s.Seg, err = array.IntFromSlice(rows, cols, f.Seg); err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}

	gsci, err := plane("grism", f.GrismSci)
	if err != nil {
		return nil, err
	}
	s.Grism = array.NewImageData(gsci)
	s.Grism.Pad = int(f.Pad)
	s.Grism.Instrument, s.Grism.Filter = f.Instrument, f.Filter
	if f.GrismErr != nil {
		if s.Grism.Err, err = plane("grism error", f.GrismErr); err != nil {
			return nil, err
		}
	}
	if f.GrismDQ != nil {
		if s.Grism.DQ, err = array.IntFromSlice(rows, cols, f.GrismDQ); err != nil {
			return nil, fmt.Errorf("grism dq: %w", err)
		}
	}
	if len(f.Catalog) > 0 {
		s.Catalog = make(map[int][2]float64, len(f.Catalog))
		for _, p := range f.Catalog {
			s.Catalog[int(p.ID)] = [2]float64{p.Row, p.Col}
		}
	}
	s.Truth = f.Truth
	return s, s.Validate()
}
