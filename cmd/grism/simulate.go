package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"grism/internal/scene"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [flags]",
	Short: "Write a synthetic scene",
	Long: `Place Gaussian sources with power-law continua and one emission line
at random redshifts, disperse them with the calibration and add noise. The
redshifts used are stored in the scene for later comparison`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	addInputFlags(simulateCmd)
	def := scene.DefaultSynthOptions()
	simulateCmd.Flags().StringP("out", "o", "", "scene output path")
	simulateCmd.Flags().Int("rows", def.Rows, "image rows before padding")
	simulateCmd.Flags().Int("cols", def.Cols, "image columns before padding")
	simulateCmd.Flags().Int("pad", def.Pad, "padding around the image")
	simulateCmd.Flags().Int("sources", def.Sources, "number of sources")
	simulateCmd.Flags().Uint64("seed", def.Seed, "random seed")
	simulateCmd.Flags().Float64("zmin", def.ZMin, "lowest source redshift")
	simulateCmd.Flags().Float64("zmax", def.ZMax, "highest source redshift")
	simulateCmd.Flags().String("line", def.Line, "emission line or complex of every source")
	simulateCmd.Flags().Float64("noise", 0, "per-pixel noise (0 = 1e-3 of the brightest pixel)")
	_ = simulateCmd.MarkFlagRequired("out")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	opts := scene.DefaultSynthOptions()
	flags := cmd.Flags()
	out, err := flags.GetString("out")
	if err != nil {
		return fmt.Errorf("failed to get out flag: %w", err)
	}
	if opts.Rows, err = flags.GetInt("rows"); err != nil {
		return fmt.Errorf("failed to get rows flag: %w", err)
	}
	if opts.Cols, err = flags.GetInt("cols"); err != nil {
		return fmt.Errorf("failed to get cols flag: %w", err)
	}
	if opts.Pad, err = flags.GetInt("pad"); err != nil {
		return fmt.Errorf("failed to get pad flag: %w", err)
	}
	if opts.Sources, err = flags.GetInt("sources"); err != nil {
		return fmt.Errorf("failed to get sources flag: %w", err)
	}
	if opts.Seed, err = flags.GetUint64("seed"); err != nil {
		return fmt.Errorf("failed to get seed flag: %w", err)
	}
	if opts.ZMin, err = flags.GetFloat64("zmin"); err != nil {
		return fmt.Errorf("failed to get zmin flag: %w", err)
	}
	if opts.ZMax, err = flags.GetFloat64("zmax"); err != nil {
		return fmt.Errorf("failed to get zmax flag: %w", err)
	}
	if opts.Line, err = flags.GetString("line"); err != nil {
		return fmt.Errorf("failed to get line flag: %w", err)
	}
	if opts.Sigma, err = flags.GetFloat64("noise"); err != nil {
		return fmt.Errorf("failed to get noise flag: %w", err)
	}
	if opts.ZMax <= opts.ZMin {
		return fmt.Errorf("--zmax %g must exceed --zmin %g", opts.ZMax, opts.ZMin)
	}

	in, err := loadInputs(cmd, "")
	if err != nil {
		return err
	}
	opts.Instrument = in.calib.Instrument.Name
	if in.calib.Instrument.Filter != "" {
		opts.Filter = in.calib.Instrument.Filter
	}
	opts.Logger = logger()

	phase := timer().Begin("simulate")
	s, err := scene.Synthesize(cmd.Context(), in.calib, opts)
	timer().End(phase, fmt.Sprintf("%d sources", opts.Sources))
	if err != nil {
		return err
	}
	if err := scene.Write(out, s); err != nil {
		return err
	}
	logger().Info("scene written", zap.String("path", out), zap.Int("objects", len(s.Truth)))

	w := cmd.OutOrStdout()
	headColor.Fprintf(w, "scene %s: %s objects dispersed\n", out, count(len(s.Truth)))
	for _, t := range s.Truth {
		fmt.Fprintf(w, "  %4d  z=%.4f  %s flux %.4g\n", t.ID, t.Z, t.Line, t.LineFlux)
	}
	return nil
}
