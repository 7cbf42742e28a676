package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/vectorstore"
	"github.com/m-kurata/kotae/pkg/usecase/index"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func joinFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

func indexCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Build the document index from a directory",
		ArgsUsage: "<dir>",
		Flags:     joinFlags(geminiFlags(cfg), storageFlags(cfg), indexFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			dir := c.Args().First()
			if dir == "" {
				return goerr.New("directory argument is required")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			docs, err := index.LoadDir(ctx, dir)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return goerr.New("no indexable documents found", goerr.V("dir", dir))
			}

			store := vectorstore.New(0, gemini.EmbeddingModel())
			uc, err := index.New(gemini, store,
				index.WithChunkSize(int(cfg.chunkSize)),
				index.WithChunkOverlap(int(cfg.chunkOverlap)),
			)
			if err != nil {
				return err
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			sp.Suffix = fmt.Sprintf(" Indexing %d documents...", len(docs))
			sp.Start()
			report, err := uc.RebuildAll(ctx, docs)
			sp.Stop()
			if err != nil {
				return err
			}

			if err := store.Save(ctx, storage, cfg.indexKey); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Indexed %d documents (%d chunks)\n", report.Indexed, report.Chunks)
			for _, f := range report.Failed {
				fmt.Fprintf(c.Root().Writer, "  failed: %s (%v)\n", f.SourcePath, f.Err)
			}
			return nil
		},
	}
}

func updateCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Re-index a single document into the existing index",
		ArgsUsage: "<file>",
		Flags:     joinFlags(geminiFlags(cfg), storageFlags(cfg), indexFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return goerr.New("file argument is required")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			store, storage, err := cfg.loadStore(ctx, gemini)
			if err != nil {
				return err
			}

			doc, err := index.LoadDocument(path)
			if err != nil {
				return err
			}

			uc, err := index.New(gemini, store,
				index.WithChunkSize(int(cfg.chunkSize)),
				index.WithChunkOverlap(int(cfg.chunkOverlap)),
			)
			if err != nil {
				return err
			}

			chunkIDs, err := uc.Index(ctx, doc)
			if err != nil {
				return err
			}

			if err := store.Save(ctx, storage, cfg.indexKey); err != nil {
				return err
			}

			logging.From(ctx).Info("document indexed",
				"document_id", doc.ID,
				"chunks", len(chunkIDs),
			)
			fmt.Fprintf(c.Root().Writer, "Updated %s (%d chunks)\n", doc.ID, len(chunkIDs))
			return nil
		},
	}
}

func removeCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a document from the index",
		ArgsUsage: "<document-id>",
		Flags:     joinFlags(geminiFlags(cfg), storageFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			docID := c.Args().First()
			if docID == "" {
				return goerr.New("document-id argument is required")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			store, storage, err := cfg.loadStore(ctx, gemini)
			if err != nil {
				return err
			}

			store.RemoveDocument(model.DocumentID(docID))
			if err := store.Save(ctx, storage, cfg.indexKey); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Removed %s\n", docID)
			return nil
		},
	}
}
