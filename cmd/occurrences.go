package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

// NewOccurrencesCommand creates the occurrences command group.
func NewOccurrencesCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "occurrences",
		Short:   "Manage document to entity occurrence links",
		Aliases: []string{"occ"},
	}
	cmd.AddCommand(newOccurrencesRemoveCommand(deps))
	return cmd
}

func newOccurrencesRemoveCommand(deps *Deps) *cobra.Command {
	var (
		force     bool
		principal string
	)

	cmd := &cobra.Command{
		Use:   "remove <repository> <document-id> <entity-id>",
		Short: "Unlink a document from an entity",
		Long: `Remove the occurrence relation between a document and an entity.

By default the relation is marked deleted. --force deletes it outright.
An automatically created entity left without relations is marked deleted.

Examples:
  penf-linker occurrences remove main doc-42 0b6c...
  penf-linker occurrences remove main doc-42 0b6c... --force`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := model.DocumentKey{Repository: args[0], DocumentID: args[1]}

			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			logger := deps.NewLogger(cfg)

			st, closeStore, err := deps.OpenStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer closeStore()

			sess, err := st.OpenSession(ctx, store.Principal(principal))
			if err != nil {
				return fmt.Errorf("opening session: %w", err)
			}
			defer sess.Rollback(ctx) // nolint: errcheck

			if _, err := sess.GetDocument(ctx, key); err != nil {
				return fmt.Errorf("loading document %s: %w", key, err)
			}
			r := resolver.New(resolver.WithLogger(logger))
			if err := r.RemoveOccurrences(ctx, sess, key.DocumentID, args[2], force); err != nil {
				return fmt.Errorf("removing occurrences: %w", err)
			}
			if err := sess.Commit(ctx); err != nil {
				return fmt.Errorf("committing: %w", err)
			}

			verb := "Unlinked"
			if force {
				verb = "Deleted link"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", green(verb), key, args[2])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Delete the relation instead of marking it deleted")
	cmd.Flags().StringVar(&principal, "principal", string(store.SystemPrincipal), "Principal the change is made as")

	return cmd
}
