package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"wavectl/internal/api"
	"wavectl/internal/run"
	"wavectl/internal/scheduler"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Printer renders command results.
type Printer struct {
	Format OutputFormat
	Out    io.Writer
	Quiet  bool
}

// NewPrinter creates a printer writing to stdout.
func NewPrinter(format OutputFormat) *Printer {
	return &Printer{Format: format, Out: os.Stdout}
}

// structured writes v as JSON or YAML. It reports false for table output.
func (p *Printer) structured(v interface{}) (bool, error) {
	switch p.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to convert to YAML: %w", err)
		}
		_, err = p.Out.Write(data)
		return true, err
	default:
		return false, nil
	}
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.Out)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

// Message prints an informational line unless Quiet is set.
func (p *Printer) Message(format string, args ...interface{}) {
	if p.Quiet || p.Format != OutputFormatTable {
		return
	}
	fmt.Fprintf(p.Out, format+"\n", args...)
}

// RunStarted prints the ID of a new run.
func (p *Printer) RunStarted(id string) error {
	if ok, err := p.structured(api.StartRunResponse{RunID: id}); ok {
		return err
	}
	fmt.Fprintln(p.Out, id)
	return nil
}

// Run prints a run with its per-component breakdown.
func (p *Printer) Run(r *run.DeploymentRun) error {
	if ok, err := p.structured(r); ok {
		return err
	}

	stage := r.Stage
	if stage == "" {
		stage = "all"
	}
	fmt.Fprintf(p.Out, "%s %s  %s %s  %s %s\n",
		text.FgHiBlue.Sprint("Run:"), r.ID,
		text.FgHiBlue.Sprint("Stage:"), stage,
		text.FgHiBlue.Sprint("Status:"), formatStatus(r.Status))
	if r.Error != "" {
		fmt.Fprintf(p.Out, "%s %s\n", text.FgHiBlue.Sprint("Error:"), text.FgRed.Sprint(r.Error))
	}

	t := p.newTable()
	t.AppendHeader(header("WAVE", "COMPONENT", "STATE", "ATTEMPT", "PROBES", "DETAIL"))
	for _, cs := range r.Ordered() {
		t.AppendRow(table.Row{
			cs.Wave,
			cs.Name,
			formatState(cs.State),
			cs.Attempt,
			cs.ProbeCycles,
			detail(cs),
		})
	}
	t.Render()
	return nil
}

// Runs prints a run listing.
func (p *Printer) Runs(runs []run.Summary) error {
	if runs == nil {
		runs = []run.Summary{}
	}
	if ok, err := p.structured(runs); ok {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(p.Out, text.FgYellow.Sprint("No runs found"))
		return nil
	}
	t := p.newTable()
	t.AppendHeader(header("ID", "STAGE", "STATUS", "STARTED", "DURATION"))
	for _, s := range runs {
		duration := "-"
		if s.FinishedAt != nil {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{s.ID, s.Stage, formatStatus(s.Status), s.StartedAt.Local().Format(time.DateTime), duration})
	}
	t.Render()
	fmt.Fprintf(p.Out, "\n%s %d runs\n", text.FgHiBlue.Sprint("Total:"), len(runs))
	return nil
}

// Plan prints the waves and groups of a plan.
func (p *Printer) Plan(plan *scheduler.Plan) error {
	if ok, err := p.structured(plan); ok {
		return err
	}
	if plan.Len() == 0 {
		fmt.Fprintln(p.Out, text.FgYellow.Sprint("Nothing to deploy"))
		return nil
	}
	t := p.newTable()
	t.AppendHeader(header("WAVE", "GROUP", "COMPONENTS"))
	for _, w := range plan.Waves {
		for i, g := range w.Groups {
			t.AppendRow(table.Row{w.Number, i + 1, strings.Join(g.Components, ", ")})
		}
	}
	t.Render()
	return nil
}

// Components prints the catalog.
func (p *Printer) Components(comps []api.ComponentInfo) error {
	if comps == nil {
		comps = []api.ComponentInfo{}
	}
	if ok, err := p.structured(comps); ok {
		return err
	}
	t := p.newTable()
	t.AppendHeader(header("WAVE", "NAME", "DEPLOY", "HEALTH", "DEPENDS ON", "OPTIONAL"))
	for _, c := range comps {
		optional := ""
		if c.Optional {
			optional = text.FgYellow.Sprint("yes")
		}
		hc := c.HealthCheck
		if hc == "" {
			hc = text.FgHiBlack.Sprint("-")
		}
		t.AppendRow(table.Row{c.Wave, c.Name, text.FgCyan.Sprint(c.DeployKind), hc, strings.Join(c.DependsOn, ", "), optional})
	}
	t.Render()
	return nil
}

func formatStatus(s run.Status) string {
	switch s {
	case run.StatusSucceeded, run.StatusRolledBack:
		return text.FgGreen.Sprint(string(s))
	case run.StatusFailed, run.StatusCancelled:
		return text.FgRed.Sprint(string(s))
	case run.StatusPlanned:
		return text.FgCyan.Sprint(string(s))
	default:
		return text.FgYellow.Sprint(string(s))
	}
}

func formatState(s run.ComponentState) string {
	switch s {
	case run.StateHealthy:
		return text.FgGreen.Sprint("✔ " + string(s))
	case run.StateRolledBack:
		return text.FgGreen.Sprint("↺ " + string(s))
	case run.StateFailed, run.StateRollbackFailed:
		return text.FgRed.Sprint("✘ " + string(s))
	case run.StateSkipped:
		return text.FgHiBlack.Sprint("⊘ " + string(s))
	case run.StateApplying, run.StateVerifying:
		return text.FgYellow.Sprint("⏳ " + string(s))
	default:
		return string(s)
	}
}

func detail(cs *run.ComponentStatus) string {
	var parts []string
	if cs.PreExisting {
		parts = append(parts, "pre-existing")
	}
	switch {
	case cs.SkipReason != "":
		parts = append(parts, "skipped: "+cs.SkipReason)
	case cs.LastError != "":
		msg := cs.LastError
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
