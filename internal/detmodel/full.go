package detmodel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grism/internal/diag"
	"grism/internal/disperse"
	"grism/internal/pipeline"
	"grism/internal/trace"
)

// FullRequest selects the objects of ComputeFull.
type FullRequest struct {
	// IDs to model; nil means every label of the segmentation image.
	IDs []int
	// Mags gives one magnitude per id, or a single value for all ids. Nil
	// derives each magnitude from the segment flux and the direct-image
	// zeropoint.
	Mags []float64
	// Store keeps beams in the registry; otherwise only templates are kept.
	Store bool
}

// FullResult summarizes a ComputeFull run. Objects are listed in the order
// they were composited.
type FullResult struct {
	Objects  []ObjectResult
	Computed int
	Skipped  int
	NotFound int
	Failed   int
	Timings  pipeline.Timings
}

// ComputeFull models every requested object with a flat spectrum. Beams are
// built in parallel; they are composited one object at a time in request
// order, so the detector model does not depend on scheduling.
func (m *Model) ComputeFull(ctx context.Context, req FullRequest) (FullResult, error) {
	ctx, span := trace.Start(ctx, trace.ScopeStage, "compute_full")
	defer span.End("")

	ids := req.IDs
	if ids == nil {
		ids = m.seg.Labels()
	}
	mags, err := m.magnitudes(ids, req.Mags)
	if err != nil {
		return FullResult{}, err
	}

	m.mu.Lock()
	catalog := m.catalog
	m.mu.Unlock()

	var res FullResult
	for _, id := range ids {
		pipeline.Emit(m.opts.Progress, pipeline.Event{Object: strconv.Itoa(id), Stage: pipeline.StageBuild, Status: pipeline.StatusQueued})
	}

	buildStart := time.Now()
	results := make([]built, len(ids))
	if len(ids) > 0 {
		jobs := m.opts.Jobs
		if jobs <= 0 {
			jobs = runtime.GOMAXPROCS(0)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(jobs, len(ids)))
		for i, id := range ids {
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				name := strconv.Itoa(id)
				_, objSpan := trace.Start(gctx, trace.ScopeObject, "build:"+name)
				start := time.Now()
				pipeline.Emit(m.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageBuild, Status: pipeline.StatusWorking})
				results[i] = m.build(id, mags[i], nil, nil, catalog)
				objSpan.WithExtra("status", results[i].Status.String()).End("")
				st := pipeline.StatusDone
				if results[i].Status != StatusComputed {
					st = pipeline.StatusSkipped
				}
				pipeline.Emit(m.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageBuild, Status: st, Elapsed: time.Since(start)})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return FullResult{}, err
		}
	}
	res.Timings.Set(pipeline.StageBuild, time.Since(buildStart))

	compStart := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range results {
		name := strconv.Itoa(b.ID)
		m.report(b.Diags)
		obj := ObjectResult{ID: b.ID, Status: b.Status, Beams: b.Beams, Failures: b.Failures}
		if len(b.Failures) > 0 {
			res.Failed++
		}
		switch {
		case b.Status == StatusComputed:
			res.Computed++
		case b.Status == StatusNotFound:
			res.NotFound++
		default:
			res.Skipped++
		}
		if b.Status == StatusComputed {
			off, err := m.commitLocked(b.ID, b.Beams, req.Store, mags[i])
			if err != nil {
				pipeline.Emit(m.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageComposite, Status: pipeline.StatusError, Err: err})
				return res, fmt.Errorf("object %d: %w", b.ID, err)
			}
			obj.OffDetector = off
			pipeline.Emit(m.opts.Progress, pipeline.Event{Object: name, Stage: pipeline.StageComposite, Status: pipeline.StatusDone})
		}
		res.Objects = append(res.Objects, obj)
	}
	res.Timings.Set(pipeline.StageComposite, time.Since(compStart))

	m.opts.Logger.Info("full model computed",
		zap.Int("objects", len(ids)),
		zap.Int("computed", res.Computed),
		zap.Int("skipped", res.Skipped),
		zap.Int("not_found", res.NotFound),
		zap.Int("failed", res.Failed),
		zap.Duration("build", res.Timings.Duration(pipeline.StageBuild)),
		zap.Duration("composite", res.Timings.Duration(pipeline.StageComposite)),
	)
	span.WithExtra("objects", strconv.Itoa(len(ids)))
	return res, nil
}

// commitLocked replaces the contribution of id with beams, whose models are
// already computed. It returns the orders that missed the detector.
func (m *Model) commitLocked(id int, beams []*disperse.Beam, store bool, mag float64) ([]string, error) {
	if err := m.subtractLocked(id); err != nil {
		return nil, err
	}
	var off []string
	for _, b := range beams {
		if err := b.AddToFullImage(b.Model(), m.full); err != nil {
			if !errors.Is(err, disperse.ErrOutOfBounds) {
				return off, err
			}
			off = append(off, b.Order())
			m.opts.Reporter.Report(diag.NewWarning(diag.ModOffDetector, diag.Subject{ID: id, Order: b.Order()}, "footprint misses the detector"))
		}
	}
	if store {
		m.registry[id] = Computed{Beams: beams, Mag: mag}
	} else {
		m.registry[id] = Uncomputed{Mag: mag, Orders: orderNames(beams)}
	}
	return off, nil
}

// magnitudes expands the request magnitudes to one per id.
func (m *Model) magnitudes(ids []int, mags []float64) ([]float64, error) {
	out := make([]float64, len(ids))
	switch {
	case mags == nil:
		for i, id := range ids {
			mag, err := m.Magnitude(id)
			if err != nil {
				return nil, fmt.Errorf("magnitude of %d: %w", id, err)
			}
			out[i] = mag
		}
	case len(mags) == 1:
		for i := range out {
			out[i] = mags[0]
		}
	case len(mags) == len(ids):
		copy(out, mags)
	default:
		return nil, fmt.Errorf("detmodel: %d ids but %d magnitudes", len(ids), len(mags))
	}
	return out, nil
}
