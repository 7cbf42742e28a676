package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func ticketsCommand(cfg *config) *cli.Command {
	var limit int64

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of tickets to show",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(cfg)...)

	return &cli.Command{
		Name:  "tickets",
		Usage: "List escalation tickets, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			tickets, err := repo.ListTickets(ctx, int(limit))
			if err != nil {
				return err
			}
			if len(tickets) == 0 {
				fmt.Fprintln(c.Root().Writer, "No tickets")
				return nil
			}

			for _, t := range tickets {
				fmt.Fprintf(c.Root().Writer, "%s  %s  user=%s  %s\n",
					t.ID, t.CreatedAt.Format("2006-01-02 15:04"), t.UserID, t.Reason)
			}
			return nil
		},
	}
}
