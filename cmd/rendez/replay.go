package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rendez/internal/trace"
)

var replayCmd = &cobra.Command{
	Use:   "replay [flags] <file.trace|file.ndjson>",
	Short: "Render a recorded trace file",
	Long:  `Decode a binary or NDJSON trace file and print its events, optionally aggregating span statistics`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().String("filter", "", "only show events whose name contains this substring")
	replayCmd.Flags().Bool("stats", false, "print per-span-name duration statistics instead of events")
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]

	filter, err := cmd.Flags().GetString("filter")
	if err != nil {
		return fmt.Errorf("failed to get filter flag: %w", err)
	}
	stats, err := cmd.Flags().GetBool("stats")
	if err != nil {
		return fmt.Errorf("failed to get stats flag: %w", err)
	}

	events, err := readTraceFile(path)
	if err != nil {
		return err
	}
	if filter != "" {
		filtered := events[:0]
		for _, ev := range events {
			if strings.Contains(ev.Name, filter) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	out := cmd.OutOrStdout()
	if stats {
		printTraceStats(out, events)
		return nil
	}
	printTraceEvents(out, events)
	return nil
}

func readTraceFile(path string) ([]trace.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch trace.DetectFormat(path) {
	case trace.FormatBinary:
		return trace.NewDecoder(f).ReadAll()
	case trace.FormatNDJSON:
		return readNDJSON(f)
	default:
		return nil, fmt.Errorf("cannot replay %q: expected a .trace or .ndjson file", path)
	}
}

// ndjsonEvent mirrors the NDJSON shape the tracer writes.
type ndjsonEvent struct {
	Time     string            `json:"time"`
	Seq      uint64            `json:"seq"`
	Kind     string            `json:"kind"`
	Scope    string            `json:"scope"`
	SpanID   uint64            `json:"span_id"`
	ParentID uint64            `json:"parent_id"`
	GID      uint64            `json:"gid"`
	Name     string            `json:"name"`
	Detail   string            `json:"detail"`
	Extra    map[string]string `json:"extra"`
}

func readNDJSON(r io.Reader) ([]trace.Event, error) {
	var events []trace.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var j ndjsonEvent
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return events, fmt.Errorf("line %d: failed to decode trace event: %w", line, err)
		}
		ts, err := time.Parse("2006-01-02T15:04:05.000000Z07:00", j.Time)
		if err != nil {
			return events, fmt.Errorf("line %d: failed to parse event time: %w", line, err)
		}
		events = append(events, trace.Event{
			Time:     ts,
			Seq:      j.Seq,
			Kind:     parseKind(j.Kind),
			Scope:    parseScope(j.Scope),
			SpanID:   j.SpanID,
			ParentID: j.ParentID,
			GID:      j.GID,
			Name:     j.Name,
			Detail:   j.Detail,
			Extra:    j.Extra,
		})
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read trace file: %w", err)
	}
	return events, nil
}

func parseKind(s string) trace.Kind {
	switch s {
	case "begin":
		return trace.KindSpanBegin
	case "end":
		return trace.KindSpanEnd
	case "point":
		return trace.KindPoint
	case "heartbeat":
		return trace.KindHeartbeat
	default:
		return 0
	}
}

func parseScope(s string) trace.Scope {
	switch s {
	case "runtime":
		return trace.ScopeRuntime
	case "component":
		return trace.ScopeComponent
	case "entry":
		return trace.ScopeEntry
	default:
		return 0
	}
}

func printTraceEvents(out io.Writer, events []trace.Event) {
	beginColor := color.New(color.FgCyan)
	endColor := color.New(color.FgGreen)
	pointColor := color.New(color.FgYellow)
	dimColor := color.New(color.Faint)

	for i := range events {
		ev := &events[i]
		var mark string
		switch ev.Kind {
		case trace.KindSpanBegin:
			mark = beginColor.Sprint("→")
		case trace.KindSpanEnd:
			mark = endColor.Sprint("←")
		case trace.KindHeartbeat:
			mark = dimColor.Sprint("♡")
		default:
			mark = pointColor.Sprint("•")
		}
		fmt.Fprintf(out, "[%8d] %s %s", ev.Seq, mark, ev.Name)
		if ev.Detail != "" {
			fmt.Fprintf(out, " (%s)", ev.Detail)
		}
		if ev.GID != 0 {
			fmt.Fprint(out, dimColor.Sprintf("  gid=%d", ev.GID))
		}
		fmt.Fprintln(out)
	}
}

// spanStat accumulates begin/end pairs by span name.
type spanStat struct {
	name  string
	count int
	total time.Duration
}

func printTraceStats(out io.Writer, events []trace.Event) {
	begins := make(map[uint64]trace.Event)
	byName := make(map[string]*spanStat)
	for _, ev := range events {
		switch ev.Kind {
		case trace.KindSpanBegin:
			begins[ev.SpanID] = ev
		case trace.KindSpanEnd:
			begin, ok := begins[ev.SpanID]
			if !ok {
				continue
			}
			delete(begins, ev.SpanID)
			st := byName[ev.Name]
			if st == nil {
				st = &spanStat{name: ev.Name}
				byName[ev.Name] = st
			}
			st.count++
			st.total += ev.Time.Sub(begin.Time)
		}
	}

	stats := make([]*spanStat, 0, len(byName))
	for _, st := range byName {
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].total > stats[j].total })

	nameColor := color.New(color.Bold)
	fmt.Fprintf(out, "%-32s %8s %12s %12s\n", "span", "count", "total ms", "mean ms")
	for _, st := range stats {
		totalMS := float64(st.total) / float64(time.Millisecond)
		meanMS := totalMS / float64(st.count)
		fmt.Fprintf(out, "%-32s %8d %12.2f %12.3f\n", nameColor.Sprint(st.name), st.count, totalMS, meanMS)
	}
	if len(begins) > 0 {
		fmt.Fprintf(out, "(%d spans never ended)\n", len(begins))
	}
}
