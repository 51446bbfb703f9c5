package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"grism/internal/diag"
	"grism/internal/fit"
)

var lineFitCmd = &cobra.Command{
	Use:   "linefit [flags] <scene.mp>",
	Short: "Scan one object for a single emission line",
	Long: `Fit a continuum polynomial plus one Gaussian line at every centre of
a wavelength grid and report the centre with the lowest chi-square`,
	Args: cobra.ExactArgs(1),
	RunE: runLineFit,
}

func init() {
	addObjectFlags(lineFitCmd)
	lineFitCmd.Flags().String("format", "pretty", "output format (pretty|json|yaml)")
	lineFitCmd.Flags().Bool("scan", false, "include the chi-square of every centre")
}

type lineFitReport struct {
	ID     int       `json:"id" yaml:"id"`
	Order  string    `json:"order" yaml:"order"`
	Center float64   `json:"center" yaml:"center"`
	Flux   float64   `json:"flux" yaml:"flux"`
	Chi2   float64   `json:"chi2" yaml:"chi2"`
	DoF    int       `json:"dof" yaml:"dof"`
	FWHM   float64   `json:"fwhm" yaml:"fwhm"`
	Scan   []scanRow `json:"scan,omitempty" yaml:"scan,omitempty"`
	Notes  []string  `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

type scanRow struct {
	Center float64 `json:"center" yaml:"center"`
	Chi2   float64 `json:"chi2" yaml:"chi2"`
}

func runLineFit(cmd *cobra.Command, args []string) error {
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
	withScan, err := cmd.Flags().GetBool("scan")
	if err != nil {
		return fmt.Errorf("failed to get scan flag: %w", err)
	}

	in, err := loadInputs(cmd, args[0])
	if err != nil {
		return err
	}
	bag := diag.NewBag(100)
	e, err := engineFor(cmd, in, f, in.config.LineFit.PolyOrder, bag)
	if err != nil {
		return err
	}

	phase := timer().Begin("linefit")
	scan, err := e.LineSearch(cmd.Context(), fit.LineOptions{
		Grid: in.config.lineGrid(),
		FWHM: in.config.LineFit.FWHM,
	})
	if err != nil {
		timer().End(phase, "failed")
		return err
	}
	timer().End(phase, fmt.Sprintf("%d centres", len(scan.Centers)))

	report := lineFitReport{
		ID:     f.id,
		Order:  e.Cutout().Beam.Order(),
		Center: scan.Center,
		Flux:   scan.Flux,
		Chi2:   scan.Chi2[scan.Best],
		DoF:    e.DoF(),
		FWHM:   in.config.LineFit.FWHM,
	}
	if withScan {
		for i, c := range scan.Centers {
			report.Scan = append(report.Scan, scanRow{Center: c, Chi2: scan.Chi2[i]})
		}
	}
	bag.Sort()
	if bag.Len() > 0 {
		report.Notes = strings.Split(diag.FormatShort(bag.Items(), false), "\n")
	}
	if format != formatPretty {
		return encode(cmd.OutOrStdout(), format, report)
	}
	renderLineFitPretty(cmd.OutOrStdout(), report)
	return nil
}

func renderLineFitPretty(w io.Writer, r lineFitReport) {
	headColor.Fprintf(w, "object %d order %s\n", r.ID, r.Order)
	goodColor.Fprintf(w, "  line at %.1f Å", r.Center)
	fmt.Fprintf(w, "  flux %.5g  chi2 %.2f over %s pixels\n", r.Flux, r.Chi2, count(r.DoF))
	for _, n := range r.Notes {
		fmt.Fprintln(w, n)
	}
	for _, s := range r.Scan {
		fmt.Fprintf(w, "%.1f %.4f\n", s.Center, s.Chi2)
	}
}
