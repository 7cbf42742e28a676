package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func searchCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Query the index directly without a conversation",
		ArgsUsage: "<query>",
		Flags:     joinFlags(geminiFlags(cfg), storageFlags(cfg), retrievalFlags(cfg)),
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return goerr.New("query argument is required")
			}

			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}
			store, _, err := cfg.loadStore(ctx, gemini)
			if err != nil {
				return err
			}
			engine, err := cfg.newRetrieval(gemini, store)
			if err != nil {
				return err
			}

			chunks, err := engine.Retrieve(ctx, query)
			if err != nil {
				return err
			}
			if len(chunks) == 0 {
				fmt.Fprintln(c.Root().Writer, "No results")
				return nil
			}

			for i, chunk := range chunks {
				fmt.Fprintf(c.Root().Writer, "--- %d. %s %s (score %.3f)\n%s\n\n",
					i+1, chunk.Title, chunk.Citation.Locator, chunk.Citation.Score, chunk.Text)
			}
			return nil
		},
	}
}
