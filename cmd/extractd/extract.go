package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/controller"
	"github.com/fyrsmithlabs/extractd/internal/document"
	"github.com/fyrsmithlabs/extractd/internal/extract"
	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/retrieval"
	"github.com/fyrsmithlabs/extractd/internal/sanitize"
	"github.com/fyrsmithlabs/extractd/internal/storage"
	"github.com/fyrsmithlabs/extractd/internal/worker"
)

var (
	docID       string
	docISIN     string
	docType     string
	force       bool
	concurrency int
)

var extractCmd = &cobra.Command{
	Use:   "extract <markdown-file>",
	Short: "Ingest a markdown document and extract its disclosure record",
	Long: `Ingest a markdown-exported fund document, sectionize it, run field
extraction, and print the resulting record as JSON on stdout.

Re-running on unchanged content is a no-op answered from the stored state.
Changed content is ingested as a new document version and extracted fresh.

Examples:
  # Extract a prospectus
  extractd extract --isin LU0123456789 prospectus.md

  # Re-run even if a complete record exists
  extractd extract --force prospectus.md`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&docID, "id", "", "document id (default: file name without extension)")
	extractCmd.Flags().StringVar(&docISIN, "isin", "", "fund ISIN recorded on the document")
	extractCmd.Flags().StringVar(&docType, "type", "prospectus", "document type (prospectus, annual_report, sfdr_annex)")
	extractCmd.Flags().BoolVar(&force, "force", false, "re-extract even when a complete record exists")
	extractCmd.Flags().IntVar(&concurrency, "concurrency", 0, "max in-flight field extractions (overrides config)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, store, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger) //nolint:errcheck
	defer store.Close()

	ctx := cmd.Context()

	id := docID
	if id == "" {
		base := filepath.Base(args[0])
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	id = sanitize.Identifier(id)

	doc, err := ingest(ctx, store, id, args[0], logger)
	if err != nil {
		return err
	}

	ctrl, err := buildController(cfg, store, logger)
	if err != nil {
		return err
	}

	state, err := ctrl.Run(ctx, doc.ID, doc.Version)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	out, err := ctrl.Output(state).MarshalIndent()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// ingest reads the markdown file and stores it as a document version.
// Unchanged content reuses the latest version; changed content becomes the
// next one.
func ingest(ctx context.Context, store storage.Store, id, path string, logger *zap.Logger) (document.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return document.Document{}, fmt.Errorf("read document: %w", err)
	}
	checksum := document.Checksum(content)

	latest, err := store.LatestVersion(ctx, id)
	if err != nil {
		return document.Document{}, fmt.Errorf("lookup document versions: %w", err)
	}
	if latest > 0 {
		existing, err := store.GetDocument(ctx, id, latest)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return document.Document{}, fmt.Errorf("load document: %w", err)
		}
		if err == nil && existing.Checksum == checksum {
			logger.Info("document unchanged, reusing version",
				zap.String("document_id", id),
				zap.Int("version", latest))
			return existing, nil
		}
	}

	version := latest + 1
	sectionizer := document.NewSectionizer()
	sections := sectionizer.Sectionize(id, version, string(content))

	pages := 1
	for _, sec := range sections {
		if sec.PageEnd > pages {
			pages = sec.PageEnd
		}
	}

	doc := document.Document{
		ID:         id,
		ISIN:       docISIN,
		Type:       docType,
		Version:    version,
		Checksum:   checksum,
		SourcePath: path,
		TotalPages: pages,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.PutDocument(ctx, doc); err != nil {
		return document.Document{}, fmt.Errorf("store document: %w", err)
	}
	if err := store.PutSections(ctx, sections); err != nil {
		return document.Document{}, fmt.Errorf("store sections: %w", err)
	}
	if err := store.PutSpans(ctx, id, version, sectionizer.SpansFor(sections)); err != nil {
		return document.Document{}, fmt.Errorf("store spans: %w", err)
	}

	logger.Info("document ingested",
		zap.String("document_id", id),
		zap.Int("version", version),
		zap.Int("sections", len(sections)))
	return doc, nil
}

// buildController wires worker, extractor, and controller from config.
func buildController(cfg *config.Config, store storage.Store, logger *zap.Logger) (*controller.Controller, error) {
	w, err := worker.New(cfg.Worker.Provider, cfg.WorkerConfigFor())
	if err != nil {
		return nil, err
	}

	extractor := extract.New(w, extract.Config{
		MaxSections:       cfg.Extraction.MaxSections,
		SectionByteBudget: cfg.Extraction.SectionByteBudget,
		MaxTokens:         cfg.Extraction.MaxTokens,
	}, logger)

	ctrlCfg := controller.Config{
		Concurrency:    cfg.Controller.Concurrency,
		ThresholdStep:  cfg.Controller.ThresholdStep,
		ThresholdFloor: cfg.Controller.ThresholdFloor,
		BaseBackoff:    cfg.Controller.BaseBackoff.Duration(),
		Force:          force,
	}
	if concurrency > 0 {
		ctrlCfg.Concurrency = concurrency
	}

	specs, err := cfg.FieldSet()
	if err != nil {
		return nil, err
	}
	ctrl, err := controller.New(store, extractor, specs, ctrlCfg, logger)
	if err != nil {
		return nil, err
	}
	ctrl.SetRetrieverFactory(func(sections []document.Section) retrieval.Retriever {
		ix := retrieval.NewIndex(retrieval.WithParameters(cfg.Retrieval.K1, cfg.Retrieval.B))
		ix.Build(sections)
		return ix
	})
	return ctrl, nil
}
