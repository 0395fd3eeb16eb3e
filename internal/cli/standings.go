package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"pubranker/internal/app"
	"pubranker/internal/config"
	"pubranker/internal/domain"
	"pubranker/internal/ranking"

	"github.com/spf13/cobra"
)

// NewStandingsCmd prints the ranking of one quiz, or of every quiz.
func NewStandingsCmd(configPath *string) *cobra.Command {
	var podium int
	cmd := &cobra.Command{
		Use:   "standings [quiz-id]",
		Short: "Print quiz rankings from the active store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quizID := ""
			if len(args) == 1 {
				quizID = args[0]
			}
			return runStandings(cmd.Context(), cmd.OutOrStdout(), *configPath, quizID, podium)
		},
	}
	cmd.Flags().IntVar(&podium, "top", 0, "only print the first n places")
	return cmd
}

func runStandings(ctx context.Context, out io.Writer, configPath, quizID string, top int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	ctrl, err := openStorage(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	gateway := app.NewGateway(ctrl.Store(), app.WithLogger(log.Named("gateway")))
	defer gateway.Close()
	if err := gateway.Load(ctx); err != nil {
		return err
	}
	return printStandings(ctx, out, gateway, quizID, top)
}

func printStandings(ctx context.Context, out io.Writer, gateway *app.Gateway, quizID string, top int) error {
	var quizzes []domain.Quiz
	if quizID != "" {
		q, err := gateway.Quiz(ctx, quizID)
		if err != nil {
			return err
		}
		quizzes = []domain.Quiz{q}
	} else {
		all, err := gateway.Quizzes(ctx)
		if err != nil {
			return err
		}
		quizzes = all
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, q := range quizzes {
		lb, err := gateway.Ranking(ctx, q.ID)
		if err != nil {
			return err
		}
		entries := lb.Entries
		if top > 0 {
			entries = ranking.Podium(entries, top)
		}
		fmt.Fprintf(w, "%s (%s)\n", q.Name, q.Status)
		gaps := ranking.Gaps(entries)
		for i, e := range entries {
			fmt.Fprintf(w, "  %d.\t%s\t%d\t-%d\n", e.Rank, e.TeamName, e.Total, gaps[i].BehindLeader)
		}
	}
	return w.Flush()
}
