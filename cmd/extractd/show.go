package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/record"
	"github.com/fyrsmithlabs/extractd/internal/storage"
)

var showVersion int

var showCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Print the stored extraction record for a document",
	Long: `Print the stored extraction record for a document version as JSON.

Examples:
  # Latest version
  extractd show prospectus

  # A specific version
  extractd show --doc-version 2 prospectus`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().IntVar(&showVersion, "doc-version", 0, "document version (default: latest)")
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger) //nolint:errcheck
	defer store.Close()

	ctx := cmd.Context()
	id := args[0]

	version := showVersion
	if version == 0 {
		version, err = store.LatestVersion(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup document versions: %w", err)
		}
		if version == 0 {
			return fmt.Errorf("no document ingested with id %q", id)
		}
	}

	state, err := store.LoadState(ctx, id, version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no extraction record for %s version %d", id, version)
		}
		return fmt.Errorf("load state: %w", err)
	}

	set, err := cfg.FieldSet()
	if err != nil {
		return err
	}
	specs := set.ByPriority()
	fieldIDs := make([]string, 0, len(specs))
	for _, spec := range specs {
		fieldIDs = append(fieldIDs, spec.ID)
	}

	out, err := record.BuildOutput(state, fieldIDs).MarshalIndent()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
