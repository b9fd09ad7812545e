package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/penf-linker/config"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// resolveFormat picks the flag value over the configured default.
func resolveFormat(cfg *config.LinkerConfig, flag string) (config.OutputFormat, error) {
	format := cfg.OutputFormat
	if flag != "" {
		format = config.OutputFormat(strings.ToLower(flag))
	}
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", format)
	}
	return format, nil
}

// writeOutput encodes v as JSON or YAML, or calls text for text output.
func writeOutput(w io.Writer, format config.OutputFormat, v interface{}, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

func outcomeColor(o resolver.Outcome) string {
	switch {
	case o == resolver.OutcomeLinked:
		return green(string(o))
	case o == resolver.OutcomeCreated:
		return bold(green(string(o)))
	case o.Skipped():
		return yellow(string(o))
	default:
		return string(o)
	}
}

func writeGroupsText(w io.Writer, groups []model.OccurrenceGroup) error {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No entity mentions found.")
		return nil
	}

	for _, g := range groups {
		fmt.Fprintf(w, "%s %s  %s\n", bold(g.Name), faint("("+g.Type+")"),
			pluralize(len(g.Occurrences), "occurrence"))
		for _, o := range g.Occurrences {
			fmt.Fprintf(w, "    [%d:%d] %q\n", o.Start, o.End, truncate(o.Context, 70))
		}
		for _, s := range g.EntitySuggestions {
			uri := ""
			if len(s.RemoteURIs) > 0 {
				uri = s.RemoteURIs[0]
			}
			fmt.Fprintf(w, "    -> %s %.2f %s\n", s.Label, s.Score, faint(uri))
		}
	}
	fmt.Fprintf(w, "\n%s\n", pluralize(len(groups), "group"))
	return nil
}

func writeSuggestionsText(w io.Writer, suggestions []model.EntitySuggestion) error {
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No matching entities.")
		return nil
	}

	fmt.Fprintf(w, "%-38s %-30s %-14s %s\n", "ENTITY", "LABEL", "TYPE", "SCORE")
	for _, s := range suggestions {
		label := truncate(s.Label, 30)
		if s.AutomaticallyCreated {
			label += "*"
		}
		fmt.Fprintf(w, "%-38s %-30s %-14s %.2f\n", s.EntityID, label, truncate(s.Type, 14), s.Score)
	}
	return nil
}

func writeSummaryText(w io.Writer, key model.DocumentKey, summary *resolver.LinkSummary) error {
	fmt.Fprintf(w, "Linked %s\n\n", bold(key.String()))
	if len(summary.Results) > 0 {
		fmt.Fprintf(w, "  %-30s %-14s %-22s %s\n", "GROUP", "TYPE", "OUTCOME", "ENTITY")
		for _, r := range summary.Results {
			entity := "-"
			if r.Entity != nil {
				entity = r.Entity.ID
			}
			raw, outcome := string(r.Outcome), outcomeColor(r.Outcome)
			if r.Error != "" {
				raw, outcome = "failed", red("failed")
				entity = r.Error
			}
			// Width verbs count colour codes, so pad the raw text instead.
			pad := 23 - len(raw)
			if pad < 1 {
				pad = 1
			}
			fmt.Fprintf(w, "  %-30s %-14s %s%s%s\n", truncate(r.Group, 30), truncate(r.Type, 14),
				outcome, strings.Repeat(" ", pad), entity)
		}
		fmt.Fprintln(w)
	}

	failed := fmt.Sprintf("%d failed", summary.Failed)
	if summary.Failed > 0 {
		failed = red(failed)
	}
	fmt.Fprintf(w, "Summary: %d linked, %d created, %d skipped, %s\n",
		summary.Linked, summary.Created, summary.Skipped, failed)
	return nil
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
