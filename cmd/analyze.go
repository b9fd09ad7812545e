package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/extract"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

type analyzeOptions struct {
	output string
	html   bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(deps *Deps) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Find entity mentions in text",
		Long: `Send text to the annotation engine and print the entity mentions found,
grouped by entity name and type. Nothing is stored.

Reads the named file, or standard input when the argument is "-" or missing.
Use --html for rich text; markup is stripped before annotation.

Examples:
  penf-linker analyze notes.txt
  echo "John Lennon was born in Liverpool." | penf-linker analyze
  penf-linker analyze page.html --html --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, deps, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&opts.html, "html", false, "Treat the input as HTML")

	return cmd
}

func runAnalyze(cmd *cobra.Command, deps *Deps, opts *analyzeOptions, args []string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	format, err := resolveFormat(cfg, opts.output)
	if err != nil {
		return err
	}

	text, err := readInput(cmd.InOrStdin(), args, opts.html)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text to analyze")
	}

	logger := deps.NewLogger(cfg)
	annotator, release, err := deps.NewAnnotator(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("creating annotator: %w", err)
	}
	defer release()

	svc, err := newService(cfg, store.NewMemoryStore(), annotator, logger)
	if err != nil {
		return err
	}
	defer svc.Shutdown(0)

	groups, err := svc.Analyze(cmd.Context(), text)
	if err != nil {
		return fmt.Errorf("analyzing text: %w", err)
	}

	return writeOutput(cmd.OutOrStdout(), format, groups, func(w io.Writer) error {
		return writeGroupsText(w, groups)
	})
}

// readInput reads the file named by args[0], or stdin for "-" or no args.
func readInput(stdin io.Reader, args []string, html bool) (string, error) {
	r := stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}

	if html {
		text, err := extract.HTMLToText(r)
		if err != nil {
			return "", fmt.Errorf("converting HTML: %w", err)
		}
		return text, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(data), nil
}
