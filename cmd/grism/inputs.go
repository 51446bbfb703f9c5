package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"grism/internal/calib"
	"grism/internal/detmodel"
	"grism/internal/diag"
	"grism/internal/pipeline"
	"grism/internal/scene"
	"grism/internal/snapshot"
	"grism/internal/templates"
)

// inputs are the files shared by every command that works on a scene.
type inputs struct {
	scene  *scene.Scene
	calib  *calib.Config
	digest string
	config runConfig
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("calib", "", "instrument calibration file (TOML)")
	cmd.Flags().String("config", "", "run configuration file (grism.toml)")
	_ = cmd.MarkFlagRequired("calib")
}

func loadInputs(cmd *cobra.Command, scenePath string) (*inputs, error) {
	calibPath, err := cmd.Flags().GetString("calib")
	if err != nil {
		return nil, fmt.Errorf("failed to get calib flag: %w", err)
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	phase := timer().Begin("load")
	defer timer().End(phase, scenePath)

	in := &inputs{}
	if in.config, err = loadRunConfig(configPath); err != nil {
		return nil, err
	}
	if in.calib, err = calib.Load(calibPath); err != nil {
		return nil, err
	}
	if in.digest, err = in.calib.Digest(); err != nil {
		return nil, err
	}
	if scenePath != "" {
		if in.scene, err = scene.Read(scenePath); err != nil {
			return nil, err
		}
		in.scene.Direct = in.config.applyZeropoint(in.scene.Direct)
	}
	return in, nil
}

// model returns an empty detector model over the scene.
func (in *inputs) model(bag *diag.Bag, progress pipeline.ProgressSink) (*detmodel.Model, error) {
	opts := in.config.modelOptions()
	opts.Logger = logger()
	opts.Progress = progress
	if bag != nil {
		opts.Reporter = diag.NewDedupReporter(diag.BagReporter{Bag: bag})
	}
	return in.scene.Model(in.calib, opts)
}

// restore loads a snapshot written by `grism model` into a fresh model.
func (in *inputs) restore(path string) (*detmodel.Model, error) {
	m, err := in.model(nil, nil)
	if err != nil {
		return nil, err
	}
	phase := timer().Begin("snapshot")
	defer timer().End(phase, path)
	p, err := snapshot.Load(path, m, in.digest)
	if err != nil {
		return nil, err
	}
	logger().Debug("snapshot restored",
		zap.String("session", p.Session),
		zap.Int("objects", len(p.Objects)),
	)
	return m, nil
}

// continua loads the configured continuum templates, or a flat and a blue
// power law when none are configured.
func (in *inputs) continua() ([]templates.Spectrum, error) {
	if len(in.config.Fit.Templates) == 0 {
		return []templates.Spectrum{
			templates.PowerLaw("flat", 0, 1000, 30000, 10),
			templates.PowerLaw("blue", -2, 1000, 30000, 10),
		}, nil
	}
	out := make([]templates.Spectrum, 0, len(in.config.Fit.Templates))
	for _, path := range in.config.Fit.Templates {
		s, err := templates.Load(path, path)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// objectModel restores the snapshot and checks that id has beams.
func objectModel(ctx context.Context, in *inputs, snapshotPath string, id int) (*detmodel.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := in.restore(snapshotPath)
	if err != nil {
		return nil, err
	}
	if _, ok := m.Entry(id); !ok {
		return nil, fmt.Errorf("object %d: %w", id, detmodel.ErrObjectNotFound)
	}
	return m, nil
}
