package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"grism/internal/detmodel"
	"grism/internal/diag"
	"grism/internal/pipeline"
	"grism/internal/snapshot"
)

var modelCmd = &cobra.Command{
	Use:   "model [flags] <scene.mp>",
	Short: "Compute the full detector model of a scene",
	Long: `Disperse every object of the scene's segmentation image with a flat
spectrum, composite the beams into a detector model and save it as a
snapshot for the fit, linefit and extract commands`,
	Args: cobra.ExactArgs(1),
	RunE: runModel,
}

func init() {
	addInputFlags(modelCmd)
	modelCmd.Flags().StringP("out", "o", "", "snapshot output path")
	modelCmd.Flags().IntSlice("id", nil, "model only these object ids")
	modelCmd.Flags().Float64Slice("mag", nil, "one magnitude for all ids or one per id")
	modelCmd.Flags().Bool("store", false, "keep beams in the snapshot instead of rebuilding them")
	modelCmd.Flags().String("format", "pretty", "summary format (pretty|json|yaml)")
	modelCmd.Flags().Int("max-diagnostics", 100, "maximum number of diagnostics to keep")
	_ = modelCmd.MarkFlagRequired("out")
}

type modelSummary struct {
	Objects  int      `json:"objects" yaml:"objects"`
	Computed int      `json:"computed" yaml:"computed"`
	Skipped  int      `json:"skipped" yaml:"skipped"`
	NotFound int      `json:"not_found" yaml:"not_found"`
	Failed   int      `json:"failed" yaml:"failed"`
	Snapshot string   `json:"snapshot" yaml:"snapshot"`
	Session  string   `json:"session" yaml:"session"`
	Notes    []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

func runModel(cmd *cobra.Command, args []string) error {
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return fmt.Errorf("failed to get out flag: %w", err)
	}
	ids, err := cmd.Flags().GetIntSlice("id")
	if err != nil {
		return fmt.Errorf("failed to get id flag: %w", err)
	}
	mags, err := cmd.Flags().GetFloat64Slice("mag")
	if err != nil {
		return fmt.Errorf("failed to get mag flag: %w", err)
	}
	store, err := cmd.Flags().GetBool("store")
	if err != nil {
		return fmt.Errorf("failed to get store flag: %w", err)
	}
	formatStr, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format, err := readFormat(formatStr)
	if err != nil {
		return err
	}
	maxDiagnostics, err := cmd.Flags().GetInt("max-diagnostics")
	if err != nil {
		return fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	tui, err := useTUI(cmd)
	if err != nil {
		return err
	}
	if format != formatPretty {
		tui = false
	}

	in, err := loadInputs(cmd, args[0])
	if err != nil {
		return err
	}
	bag := diag.NewBag(maxDiagnostics)
	req := detmodel.FullRequest{IDs: ids, Mags: mags, Store: store || in.config.Model.Store}

	ctx := cmd.Context()
	var res detmodel.FullResult
	if tui {
		events := make(chan pipeline.Event, 256)
		m, err := in.model(bag, pipeline.ChannelSink{Ch: events})
		if err != nil {
			return err
		}
		objects := ids
		if objects == nil {
			objects = in.scene.Seg.Labels()
		}
		names := make([]string, len(objects))
		for i, id := range objects {
			names[i] = strconv.Itoa(id)
		}
		res, err = runFullWithUI(ctx, "modelling "+args[0], names, m, req, events)
		if err != nil {
			return err
		}
		return saveModel(cmd.OutOrStdout(), format, m, in.digest, out, res, bag)
	}

	m, err := in.model(bag, nil)
	if err != nil {
		return err
	}
	res, err = m.ComputeFull(ctx, req)
	if err != nil {
		return err
	}
	return saveModel(cmd.OutOrStdout(), format, m, in.digest, out, res, bag)
}

func saveModel(w io.Writer, format outputFormat, m *detmodel.Model, digest, out string, res detmodel.FullResult, bag *diag.Bag) error {
	timer().RecordStages(res.Timings, pipeline.StageGeometry, pipeline.StageBuild, pipeline.StageComposite)
	phase := timer().Begin("save")
	p, err := snapshot.Save(out, m, digest)
	timer().End(phase, out)
	if err != nil {
		return err
	}
	logger().Info("detector model saved",
		zap.String("path", out),
		zap.String("session", p.Session),
		zap.Int("computed", res.Computed),
		zap.Int("skipped", res.Skipped),
	)

	bag.Sort()
	summary := modelSummary{
		Objects:  len(res.Objects),
		Computed: res.Computed,
		Skipped:  res.Skipped,
		NotFound: res.NotFound,
		Failed:   res.Failed,
		Snapshot: out,
		Session:  p.Session,
	}
	for _, d := range bag.Items() {
		summary.Notes = append(summary.Notes, diag.FormatShort([]diag.Diagnostic{d}, false))
	}
	if format != formatPretty {
		return encode(w, format, summary)
	}
	renderModelSummary(w, summary, bag)
	return nil
}

func renderModelSummary(w io.Writer, s modelSummary, bag *diag.Bag) {
	headColor.Fprintf(w, "detector model: %s objects\n", count(s.Objects))
	goodColor.Fprintf(w, "  computed   %s\n", count(s.Computed))
	if s.Skipped > 0 {
		warnColor.Fprintf(w, "  skipped    %s\n", count(s.Skipped))
	}
	if s.NotFound > 0 {
		warnColor.Fprintf(w, "  not found  %s\n", count(s.NotFound))
	}
	if s.Failed > 0 {
		errorColor.Fprintf(w, "  failed     %s\n", count(s.Failed))
	}
	fmt.Fprintf(w, "snapshot %s (session %s)\n", s.Snapshot, s.Session)
	if bag.Len() > 0 {
		fmt.Fprintln(w, diag.FormatShort(bag.Items(), true))
	}
}
