package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"rendez/internal/stress"
	"rendez/internal/trace"
	"rendez/internal/ui"
)

type stressOutcome struct {
	results []stress.Result
	err     error
}

func runStressWithUI(ctx context.Context, title string, profile *stress.Profile, tracer trace.Tracer) ([]stress.Result, error) {
	events := make(chan stress.Event, 256)
	outcomeCh := make(chan stressOutcome, 1)

	go func() {
		results, err := stress.Run(ctx, profile, tracer, stress.ChannelSink{Ch: events})
		outcomeCh <- stressOutcome{results: results, err: err}
		close(events)
	}()

	names := make([]string, 0, len(profile.Scenarios))
	for _, sc := range profile.Scenarios {
		names = append(names, sc.Name)
	}
	model := ui.NewProgressModel(title, names, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
