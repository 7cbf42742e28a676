package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/urfave/cli/v3"
)

func statsCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show index statistics",
		Flags: joinFlags(geminiFlags(cfg), storageFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			store, _, err := cfg.loadStore(ctx, gemini)
			if err != nil {
				return err
			}

			stats := store.Stats()
			w := c.Root().Writer
			fmt.Fprintf(w, "Model:     %s\n", stats.ModelVersion)
			fmt.Fprintf(w, "Dimension: %d\n", stats.Dimension)
			fmt.Fprintf(w, "Documents: %d\n", len(stats.Documents))
			fmt.Fprintf(w, "Chunks:    %d\n", stats.Entries)
			fmt.Fprintf(w, "Built at:  %s\n", stats.BuiltAt.Format("2006-01-02 15:04:05"))

			docIDs := make([]string, 0, len(stats.Documents))
			for id := range stats.Documents {
				docIDs = append(docIDs, string(id))
			}
			sort.Strings(docIDs)
			for _, id := range docIDs {
				fmt.Fprintf(w, "  %s: %d chunks\n", id, stats.Documents[model.DocumentID(id)])
			}
			return nil
		},
	}
}
