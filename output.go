package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"marketrefresh/internal/models"
	"marketrefresh/internal/refresh"
)

// Output formats
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// dryRunPreview bounds how many instruments a human readable dry run lists
const dryRunPreview = 20

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// encode writes v as JSON or YAML
func encode(w io.Writer, format string, v any) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderResults writes per-kind results in run order
func renderResults(w io.Writer, format string, results map[refresh.Kind]refresh.Result) error {
	if format != formatText {
		return encode(w, format, results)
	}

	t := newTable(w)
	t.SetTitle("Refresh results")
	t.AppendHeader(table.Row{"Kind", "Total", "Success", "Failed", "Skipped", "Rate", "Duration", "Records"})

	var total refresh.Result
	for _, kind := range refresh.Kinds {
		r, ok := results[kind]
		if !ok {
			continue
		}
		name := string(kind)
		if r.Interrupted {
			name += " (interrupted)"
		}
		t.AppendRow(table.Row{name, r.Total, r.Success, r.Failed, r.Skipped,
			fmt.Sprintf("%.1f%%", r.SuccessRate()), r.Duration.Round(100 * time.Millisecond).String(), r.RecordsCreated})

		total.Total += r.Total
		total.Success += r.Success
		total.Failed += r.Failed
		total.Skipped += r.Skipped
		total.Duration += r.Duration
		total.RecordsCreated += r.RecordsCreated
	}
	t.AppendFooter(table.Row{"Overall", total.Total, total.Success, total.Failed, total.Skipped,
		fmt.Sprintf("%.1f%%", total.SuccessRate()), total.Duration.Round(100 * time.Millisecond).String(), total.RecordsCreated})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()

	for _, kind := range refresh.Kinds {
		r, ok := results[kind]
		if !ok || len(r.Errors) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s errors (first %d):\n", kind, min(5, len(r.Errors)))
		for _, e := range r.Errors[:min(5, len(r.Errors))] {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	return nil
}

// plannedKind describes one kind a dry run would refresh
type plannedKind struct {
	Kind       refresh.Kind `json:"kind" yaml:"kind"`
	Parameters string       `json:"parameters" yaml:"parameters"`
}

// dryRun is the structured form of a dry run
type dryRun struct {
	DryRun          bool          `json:"dryRun" yaml:"dryRun"`
	InstrumentCount int           `json:"instrumentCount" yaml:"instrumentCount"`
	Instruments     []string      `json:"instruments" yaml:"instruments"`
	Kinds           []plannedKind `json:"kinds" yaml:"kinds"`
}

func newDryRun(instruments []models.Instrument, kinds []refresh.Kind, cfg refresh.CoordinatorConfig) dryRun {
	d := dryRun{
		DryRun:          true,
		InstrumentCount: len(instruments),
		Instruments:     make([]string, 0, len(instruments)),
		Kinds:           make([]plannedKind, 0, len(kinds)),
	}
	for _, inst := range instruments {
		d.Instruments = append(d.Instruments, inst.Symbol)
	}
	for _, k := range kinds {
		d.Kinds = append(d.Kinds, plannedKind{Kind: k, Parameters: cfg.Describe(k)})
	}
	return d
}

// renderDryRun lists what a run would do without doing it
func renderDryRun(w io.Writer, format string, instruments []models.Instrument, kinds []refresh.Kind, cfg refresh.CoordinatorConfig) error {
	if format != formatText {
		return encode(w, format, newDryRun(instruments, kinds, cfg))
	}

	fmt.Fprintf(w, "Dry run: %d instruments\n", len(instruments))
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Symbol", "Name", "Sector"})
	for i, inst := range instruments[:min(dryRunPreview, len(instruments))] {
		t.AppendRow(table.Row{i + 1, inst.Symbol, orNA(inst.Name), orNA(inst.Sector)})
	}
	t.Render()
	if n := len(instruments) - dryRunPreview; n > 0 {
		fmt.Fprintf(w, "... and %d more\n", n)
	}

	fmt.Fprintln(w, "\nData kinds that would be refreshed:")
	for _, k := range kinds {
		fmt.Fprintf(w, "  - %s (%s)\n", k, cfg.Describe(k))
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
