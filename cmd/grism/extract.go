package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"grism/internal/cutout"
)

var extractCmd = &cobra.Command{
	Use:   "extract [flags] <scene.mp>",
	Short: "Optimally extract the 1D spectra of one object",
	Long: `Subtract the contamination of neighbouring objects and extract each
order of the object with its own dispersed profile as weights`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	addObjectFlags(extractCmd)
	extractCmd.Flags().Int("bin", 1, "bin the extracted spectrum by this many pixels")
	extractCmd.Flags().String("format", "pretty", "output format (pretty|json|yaml)")
}

type extractedOrder struct {
	Order string    `json:"order" yaml:"order"`
	Wave  []float64 `json:"wave" yaml:"wave"`
	Flux  []float64 `json:"flux" yaml:"flux"`
	Err   []float64 `json:"err" yaml:"err"`
}

type extractReport struct {
	ID     int              `json:"id" yaml:"id"`
	Bin    int              `json:"bin" yaml:"bin"`
	Orders []extractedOrder `json:"orders" yaml:"orders"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	f, err := readObjectFlags(cmd)
	if err != nil {
		return err
	}
	bin, err := cmd.Flags().GetInt("bin")
	if err != nil {
		return fmt.Errorf("failed to get bin flag: %w", err)
	}
	if bin < 1 {
		return fmt.Errorf("--bin must be at least 1")
	}
	formatStr, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format, err := readFormat(formatStr)
	if err != nil {
		return err
	}

	in, err := loadInputs(cmd, args[0])
	if err != nil {
		return err
	}
	m, err := objectModel(cmd.Context(), in, f.snapshot, f.id)
	if err != nil {
		return err
	}
	beams, err := m.Beams(f.id)
	if err != nil {
		return err
	}

	phase := timer().Begin("extract")
	report := extractReport{ID: f.id, Bin: bin}
	for _, b := range beams {
		if f.order != "" && b.Order() != f.order {
			continue
		}
		c, err := cutout.New(b, in.scene.Grism, m.Full(), true, in.config.cutoutOptions())
		if err != nil && !errors.Is(err, cutout.ErrNoFitPixels) {
			timer().End(phase, "failed")
			return fmt.Errorf("order %s: %w", b.Order(), err)
		}
		ext, err := c.Extract(bin)
		if err != nil {
			timer().End(phase, "failed")
			return fmt.Errorf("order %s: %w", b.Order(), err)
		}
		report.Orders = append(report.Orders, extractedOrder{Order: b.Order(), Wave: ext.Wave, Flux: ext.Flux, Err: ext.Err})
	}
	timer().End(phase, fmt.Sprintf("%d orders", len(report.Orders)))
	if len(report.Orders) == 0 {
		return fmt.Errorf("object %d has no order %q", f.id, f.order)
	}

	if format != formatPretty {
		return encode(cmd.OutOrStdout(), format, report)
	}
	renderExtractPretty(cmd.OutOrStdout(), report)
	return nil
}

func renderExtractPretty(w io.Writer, r extractReport) {
	for _, o := range r.Orders {
		headColor.Fprintf(w, "# object %d order %s (%s samples, bin %d)\n", r.ID, o.Order, count(len(o.Wave)), r.Bin)
		fmt.Fprintln(w, "# wave flux err")
		for i := range o.Wave {
			fmt.Fprintf(w, "%.2f %.6g %.6g\n", o.Wave[i], o.Flux[i], o.Err[i])
		}
	}
}
