package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

type suggestOptions struct {
	entityType string
	max        int
	principal  string
	output     string
}

// NewSuggestCommand creates the suggest command.
func NewSuggestCommand(deps *Deps) *cobra.Command {
	opts := &suggestOptions{}

	cmd := &cobra.Command{
		Use:   "suggest <keywords>",
		Short: "Suggest local entities matching keywords",
		Long: `List stored entities whose title or alternative names contain the keywords,
most frequently referenced first. Automatically created entities are marked
with '*'.

Examples:
  penf-linker suggest lennon
  penf-linker suggest "john lennon" --type Person --max 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggest(cmd, deps, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.entityType, "type", "t", "", "Restrict to an entity type (e.g. Person)")
	cmd.Flags().IntVarP(&opts.max, "max", "n", 10, "Maximum number of suggestions")
	cmd.Flags().StringVar(&opts.principal, "principal", string(store.SystemPrincipal), "Principal the query runs as")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runSuggest(cmd *cobra.Command, deps *Deps, opts *suggestOptions, keywords string) error {
	ctx := cmd.Context()
	if opts.max <= 0 {
		return fmt.Errorf("--max must be positive")
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	format, err := resolveFormat(cfg, opts.output)
	if err != nil {
		return err
	}
	logger := deps.NewLogger(cfg)

	st, closeStore, err := deps.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	sess, err := st.OpenSession(ctx, store.Principal(opts.principal))
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Rollback(ctx) // nolint: errcheck

	suggestions, err := resolver.New(resolver.WithLogger(logger)).
		SuggestLocalEntity(ctx, sess, keywords, opts.entityType, opts.max)
	if err != nil {
		return fmt.Errorf("querying entities: %w", err)
	}

	return writeOutput(cmd.OutOrStdout(), format, suggestions, func(w io.Writer) error {
		return writeSuggestionsText(w, suggestions)
	})
}
