package stress

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rendez/internal/trace"
)

func TestRunSmallProfileClean(t *testing.T) {
	profile := &Profile{
		Jobs: 2,
		Seed: 1,
		Scenarios: []ScenarioConfig{
			{Name: "cancel", Ops: 200, Workers: 4},
			{Name: "admission", Ops: 200, Workers: 4},
			{Name: "fifo", Ops: 400, Workers: 4},
			{Name: "churn", Ops: 100, Workers: 4},
		},
	}

	results, err := Run(context.Background(), profile, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(results) != len(profile.Scenarios) {
		t.Fatalf("want %d results, got %d", len(profile.Scenarios), len(results))
	}
	for i, res := range results {
		if res.Scenario != profile.Scenarios[i].Name {
			t.Fatalf("result %d out of profile order: got %q, want %q", i, res.Scenario, profile.Scenarios[i].Name)
		}
		if res.Violations != 0 {
			t.Fatalf("scenario %q observed %d violations", res.Scenario, res.Violations)
		}
		if res.Err != nil {
			t.Fatalf("scenario %q failed: %v", res.Scenario, res.Err)
		}
	}
}

func TestRunUnknownScenario(t *testing.T) {
	profile := &Profile{
		Jobs:      1,
		Seed:      1,
		Scenarios: []ScenarioConfig{{Name: "nosuch", Ops: 10, Workers: 1}},
	}
	results, err := Run(context.Background(), profile, nil, nil)
	if err == nil {
		t.Fatalf("unknown scenario must fail the run")
	}
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("result must carry the scenario error, got %+v", results)
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	profile := &Profile{
		Jobs:      1,
		Seed:      1,
		Scenarios: []ScenarioConfig{{Name: "cancel", Ops: 50, Workers: 2}},
	}
	ch := make(chan Event, 16)
	if _, err := Run(context.Background(), profile, nil, ChannelSink{Ch: ch}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	close(ch)

	var statuses []Status
	for ev := range ch {
		if ev.Scenario != "cancel" {
			t.Fatalf("unexpected scenario in event: %q", ev.Scenario)
		}
		statuses = append(statuses, ev.Status)
	}
	want := []Status{StatusQueued, StatusWorking, StatusDone}
	if len(statuses) != len(want) {
		t.Fatalf("want %d events, got %d", len(want), len(statuses))
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, statuses[i], want[i])
		}
	}
}

func TestFindProfileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := filepath.Join(root, ProfileFileName)
	if err := os.WriteFile(manifest, []byte("jobs = 1\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	found, ok, err := FindProfile(nested)
	if err != nil {
		t.Fatalf("FindProfile failed: %v", err)
	}
	if !ok {
		t.Fatalf("manifest not found from nested directory")
	}
	if found != manifest {
		t.Fatalf("found %q, want %q", found, manifest)
	}
}

func TestLoadProfileFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ProfileFileName)
	content := `
seed = 42

[[scenario]]
name = "fifo"
ops = 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.Seed != 42 {
		t.Fatalf("seed = %d, want 42", p.Seed)
	}
	if p.Jobs != DefaultProfile().Jobs {
		t.Fatalf("jobs must default, got %d", p.Jobs)
	}
	if len(p.Scenarios) != 1 || p.Scenarios[0].Name != "fifo" {
		t.Fatalf("unexpected scenarios: %+v", p.Scenarios)
	}
	if p.Scenarios[0].Workers != 4 {
		t.Fatalf("workers must default to 4, got %d", p.Scenarios[0].Workers)
	}
}

func TestRunFillsUnsetScenarioLimits(t *testing.T) {
	// Built-in-code profiles can omit ops or workers entirely; the run
	// must fall back to sane limits instead of sizing a pool at zero.
	profile := &Profile{
		Jobs: 1,
		Seed: 1,
		Scenarios: []ScenarioConfig{
			{Name: "cancel", Ops: 50},
			{Name: "fifo", Workers: 2},
			{Name: "churn", Ops: 50},
		},
	}

	results, err := Run(context.Background(), profile, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("scenario %q failed: %v", res.Scenario, res.Err)
		}
		if res.Violations != 0 {
			t.Fatalf("scenario %q observed %d violations", res.Scenario, res.Violations)
		}
		if res.Ops <= 0 {
			t.Fatalf("scenario %q reports %d ops; limits were not filled in", res.Scenario, res.Ops)
		}
	}
}

func TestRunEmitsComponentTraces(t *testing.T) {
	ring := trace.NewRingTracer(1<<16, trace.LevelDebug)
	profile := &Profile{
		Jobs: 1,
		Seed: 1,
		Scenarios: []ScenarioConfig{
			{Name: "fifo", Ops: 50, Workers: 2},
			{Name: "admission", Ops: 50, Workers: 2},
			{Name: "churn", Ops: 20, Workers: 2},
		},
	}

	if _, err := Run(context.Background(), profile, ring, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	seen := map[string]bool{}
	for _, ev := range ring.Snapshot() {
		seen[ev.Name] = true
	}
	for _, name := range []string{"serialq.drain", "admission.try_add", "sched.run"} {
		if !seen[name] {
			t.Fatalf("run must surface %s events through the tracer", name)
		}
	}
}
