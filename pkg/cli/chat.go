package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand(cfg *config) *cli.Command {
	var userID string

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "User identity for the conversation session",
			Value:       "local-console",
			Sources:     cli.EnvVars("KOTAE_USER_ID"),
			Destination: &userID,
		},
	}
	flags = joinFlags(flags, repositoryFlags(cfg), geminiFlags(cfg), storageFlags(cfg),
		retrievalFlags(cfg), chatFlags(cfg))

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive question answering over the indexed documents",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
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

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			detector, err := cfg.newDetector(gemini)
			if err != nil {
				return err
			}

			dispatcher := chat.NewDispatcher(chat.DispatcherInput{
				Manager: chat.NewManager(repo,
					chat.WithSessionTimeout(cfg.sessionTimeout),
					chat.WithMaxTurns(int(cfg.maxTurns)),
				),
				Detector:    detector,
				Retriever:   engine,
				Synthesizer: chat.NewSynthesizer(gemini),
				Tickets:     repo,
			})

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to open terminal")
			}
			defer rl.Close()

			fmt.Fprintln(c.Root().Writer, "Ask a question. Type 'exit' to quit, /help for commands.")

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				if text == "exit" || text == "quit" {
					break
				}

				reply, err := dispatcher.Handle(ctx, model.InboundMessage{
					UserID:    userID,
					Text:      text,
					EventType: model.EventTypeText,
					Timestamp: time.Now(),
				})
				if err != nil {
					fmt.Fprintf(c.Root().Writer, "error: %v\n", err)
					continue
				}
				if reply == nil {
					continue
				}

				fmt.Fprintf(c.Root().Writer, "%s\n", reply.Text)
				for _, cite := range reply.Citations {
					fmt.Fprintf(c.Root().Writer, "  [source: %s, %s]\n", cite.DocumentID, cite.Locator)
				}
			}

			fmt.Fprintln(c.Root().Writer, "Bye")
			return nil
		},
	}
}
