package cli

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	_ = godotenv.Load()

	var cfg config
	cmd := &cli.Command{
		Name:  "kotae",
		Usage: "Document-grounded question answering bot",
		Flags: globalFlags(&cfg),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger := logging.New(cfg.logLevel, os.Stderr)
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			indexCommand(&cfg),
			updateCommand(&cfg),
			removeCommand(&cfg),
			searchCommand(&cfg),
			chatCommand(&cfg),
			statsCommand(&cfg),
			ticketsCommand(&cfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
