package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"grism/internal/cutout"
	"grism/internal/diag"
	"grism/internal/fit"
)

var fitCmd = &cobra.Command{
	Use:   "fit [flags] <scene.mp>",
	Short: "Fit the redshift of one object",
	Long: `Cut the object's beam out of the grism exposure, subtract the
contamination of its neighbours from the saved detector model and search a
redshift grid with continuum and emission-line templates`,
	Args: cobra.ExactArgs(1),
	RunE: runFit,
}

func init() {
	addObjectFlags(fitCmd)
	fitCmd.Flags().String("format", "pretty", "output format (pretty|json|yaml)")
	fitCmd.Flags().Bool("grid", false, "include the chi-square grid in the output")
}

// addObjectFlags registers the flags of commands that work on one object
// of a saved model.
func addObjectFlags(cmd *cobra.Command) {
	addInputFlags(cmd)
	cmd.Flags().String("snapshot", "", "detector model written by `grism model`")
	cmd.Flags().Int("id", 0, "object id")
	cmd.Flags().String("order", "", "spectral order (default: first calibrated order)")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("id")
}

type objectFlags struct {
	snapshot string
	id       int
	order    string
}

func readObjectFlags(cmd *cobra.Command) (objectFlags, error) {
	var (
		f   objectFlags
		err error
	)
	if f.snapshot, err = cmd.Flags().GetString("snapshot"); err != nil {
		return f, fmt.Errorf("failed to get snapshot flag: %w", err)
	}
	if f.id, err = cmd.Flags().GetInt("id"); err != nil {
		return f, fmt.Errorf("failed to get id flag: %w", err)
	}
	if f.order, err = cmd.Flags().GetString("order"); err != nil {
		return f, fmt.Errorf("failed to get order flag: %w", err)
	}
	return f, nil
}

// engineFor restores the model and prepares a fit engine for one order of
// the object.
func engineFor(cmd *cobra.Command, in *inputs, f objectFlags, polyOrder int, bag *diag.Bag) (*fit.Engine, error) {
	m, err := objectModel(cmd.Context(), in, f.snapshot, f.id)
	if err != nil {
		return nil, err
	}
	order := f.order
	if order == "" {
		orders := in.calib.Orders()
		if len(orders) == 0 {
			return nil, fmt.Errorf("calibration has no orders")
		}
		order = orders[0]
	}
	c, err := cutout.FromModel(m, f.id, order, in.scene.Grism, in.config.cutoutOptions())
	if err != nil {
		return nil, err
	}
	solver, err := fit.NewSolver(in.config.Fit.Solver)
	if err != nil {
		return nil, err
	}
	return fit.New(c, fit.Options{
		PolyOrder:  polyOrder,
		Solver:     solver,
		MinSupport: in.config.Fit.MinSupport,
		Jobs:       in.config.Model.Jobs,
		Logger:     logger(),
		Reporter:   diag.BagReporter{Bag: bag},
	})
}

type fitReport struct {
	ID         int             `json:"id" yaml:"id"`
	Order      string          `json:"order" yaml:"order"`
	Z          float64         `json:"z" yaml:"z"`
	Chi2       float64         `json:"chi2" yaml:"chi2"`
	DoF        int             `json:"dof" yaml:"dof"`
	CoarseZ    float64         `json:"coarse_z" yaml:"coarse_z"`
	CoarseChi2 float64         `json:"coarse_chi2" yaml:"coarse_chi2"`
	Peaks      int             `json:"peaks" yaml:"peaks"`
	Threshold  float64         `json:"threshold" yaml:"threshold"`
	Solver     string          `json:"solver" yaml:"solver"`
	Lines      []fit.LineFlux  `json:"lines" yaml:"lines"`
	Templates  []templateState `json:"templates" yaml:"templates"`
	Grid       []gridRow       `json:"grid,omitempty" yaml:"grid,omitempty"`
	Notes      []string        `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

type templateState struct {
	Name   string  `json:"name" yaml:"name"`
	Coeff  float64 `json:"coeff" yaml:"coeff"`
	Status string  `json:"status" yaml:"status"`
}

type gridRow struct {
	Z    float64 `json:"z" yaml:"z"`
	Chi2 float64 `json:"chi2" yaml:"chi2"`
	Zoom bool    `json:"zoom,omitempty" yaml:"zoom,omitempty"`
}

func runFit(cmd *cobra.Command, args []string) error {
	f, err := readObjectFlags(cmd)
	if err != nil {
		return err
	}
	formatStr, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format, err := readFormat(formatStr)
	if err != nil {
		return err
	}
	withGrid, err := cmd.Flags().GetBool("grid")
	if err != nil {
		return fmt.Errorf("failed to get grid flag: %w", err)
	}

	in, err := loadInputs(cmd, args[0])
	if err != nil {
		return err
	}
	bag := diag.NewBag(100)
	e, err := engineFor(cmd, in, f, in.config.Fit.PolyOrder, bag)
	if err != nil {
		return err
	}
	continua, err := in.continua()
	if err != nil {
		return err
	}
	coarse, final, err := fit.Library(continua, in.config.Fit.FWHM)
	if err != nil {
		return err
	}
	filter := in.calib.Instrument.Filter
	if filter == "" {
		filter = in.scene.Grism.Filter
	}
	rng, err := in.config.searchRange(filter)
	if err != nil {
		return err
	}

	phase := timer().Begin("fit")
	res, err := e.Search(cmd.Context(), fit.SearchOptions{
		Range:      rng,
		ZoomFactor: in.config.Fit.ZoomFactor,
		ZoomGrow:   in.config.Fit.ZoomGrow,
		Coarse:     coarse,
		Final:      final,
	})
	if err != nil {
		timer().End(phase, "failed")
		return err
	}
	timer().End(phase, fmt.Sprintf("%d grid points", len(res.Grid)))

	report := newFitReport(f.id, e, res, withGrid, bag)
	report.Solver = in.config.Fit.Solver
	if format != formatPretty {
		return encode(cmd.OutOrStdout(), format, report)
	}
	renderFitPretty(cmd.OutOrStdout(), report)
	return nil
}

func newFitReport(id int, e *fit.Engine, res *fit.Redshift, withGrid bool, bag *diag.Bag) fitReport {
	r := fitReport{
		ID:         id,
		Order:      e.Cutout().Beam.Order(),
		Z:          res.Best.Z,
		Chi2:       res.Best.Chi2,
		DoF:        res.DoF,
		CoarseZ:    res.CoarseBest.Z,
		CoarseChi2: res.CoarseBest.Chi2,
		Peaks:      res.Peaks,
		Threshold:  res.Threshold,
		Lines:      res.Lines,
	}
	nsimple := e.Poly().NSimple()
	for i, col := range res.Fit.Columns {
		r.Templates = append(r.Templates, templateState{
			Name:   col.Name,
			Coeff:  res.Fit.Coeffs[nsimple+i],
			Status: col.Excluded.String(),
		})
	}
	if withGrid {
		for _, p := range res.Grid {
			r.Grid = append(r.Grid, gridRow{Z: p.Z, Chi2: p.Chi2, Zoom: p.Zoom})
		}
	}
	bag.Sort()
	if bag.Len() > 0 {
		r.Notes = strings.Split(diag.FormatShort(bag.Items(), false), "\n")
	}
	return r
}

func renderFitPretty(w io.Writer, r fitReport) {
	headColor.Fprintf(w, "object %d order %s\n", r.ID, r.Order)
	goodColor.Fprintf(w, "  z = %.4f", r.Z)
	fmt.Fprintf(w, "  chi2 = %.2f over %s pixels (coarse z = %.4f, %d peaks)\n", r.Chi2, count(r.DoF), r.CoarseZ, r.Peaks)
	for _, t := range r.Templates {
		if t.Status != "included" {
			warnColor.Fprintf(w, "  %-16s excluded: %s\n", t.Name, t.Status)
			continue
		}
		fmt.Fprintf(w, "  %-16s %12.5g\n", t.Name, t.Coeff)
	}
	if len(r.Lines) > 0 {
		headColor.Fprintln(w, "line fluxes")
		for _, l := range r.Lines {
			fmt.Fprintf(w, "  %-16s %12.5g\n", l.Name, l.Flux)
		}
	}
	for _, n := range r.Notes {
		fmt.Fprintln(w, n)
	}
	for _, g := range r.Grid {
		mark := ""
		if g.Zoom {
			mark = " *"
		}
		fmt.Fprintf(w, "%.5f %.4f%s\n", g.Z, g.Chi2, mark)
	}
}
