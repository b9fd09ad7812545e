package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

type linkOptions struct {
	principal string
	output    string
}

// NewLinkCommand creates the link command.
func NewLinkCommand(deps *Deps) *cobra.Command {
	opts := &linkOptions{}

	cmd := &cobra.Command{
		Use:   "link <repository> <document-id>",
		Short: "Analyze a stored document and link its mentions",
		Long: `Run the whole linking pipeline for one stored document and wait for it.

The document text is annotated, mentions are grouped, and each group is linked
to a local entity (created when the policy allows it). All writes happen in one
transaction, committed when linking finishes. The principal needs write
permission on the document.

Examples:
  penf-linker link main doc-42
  penf-linker link main doc-42 --principal alice --output json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(cmd, deps, opts, model.DocumentKey{Repository: args[0], DocumentID: args[1]})
		},
	}

	cmd.Flags().StringVar(&opts.principal, "principal", string(store.SystemPrincipal), "Principal the document is linked as")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runLink(cmd *cobra.Command, deps *Deps, opts *linkOptions, key model.DocumentKey) error {
	ctx := cmd.Context()

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

	annotator, release, err := deps.NewAnnotator(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("creating annotator: %w", err)
	}
	defer release()

	svc, err := newService(cfg, st, annotator, logger)
	if err != nil {
		return err
	}
	defer svc.Shutdown(0)

	sess, err := st.OpenSession(ctx, store.Principal(opts.principal))
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Rollback(ctx) // nolint: errcheck

	doc, err := sess.GetDocument(ctx, key)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", key, err)
	}

	result, err := svc.LaunchSynchronousAnalysis(ctx, sess, doc)
	if err != nil {
		return fmt.Errorf("linking %s: %w", key, err)
	}
	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("committing %s: %w", key, err)
	}

	return writeOutput(cmd.OutOrStdout(), format, result, func(w io.Writer) error {
		return writeSummaryText(w, key, result.Summary)
	})
}
