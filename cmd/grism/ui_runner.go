package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"grism/internal/detmodel"
	"grism/internal/pipeline"
	"grism/internal/ui"
)

type fullOutcome struct {
	result detmodel.FullResult
	err    error
}

// runFullWithUI runs ComputeFull on m while a progress view follows its
// events. m must have been built with a ChannelSink on events.
func runFullWithUI(ctx context.Context, title string, objects []string, m *detmodel.Model, req detmodel.FullRequest, events chan pipeline.Event) (detmodel.FullResult, error) {
	outcomeCh := make(chan fullOutcome, 1)
	go func() {
		res, err := m.ComputeFull(ctx, req)
		outcomeCh <- fullOutcome{result: res, err: err}
		close(events)
	}()

	ui.SortObjects(objects)
	model := ui.NewProgressModel(title, objects, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
