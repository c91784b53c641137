// Command boardctl inspects and rearranges a board through the board API.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/board"
	"prism-board/domain"
)

var Version = "dev"

type globalOpts struct {
	server  string
	token   string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect and reorder kanban and Eisenhower boards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("BOARD_API_URL", "http://localhost:8080"), "Board API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BOARD_API_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(boardCmd(opts))
	rootCmd.AddCommand(reorderCmd(opts))
	rootCmd.AddCommand(moveCmd(opts))
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func (o *globalOpts) transport() *board.HTTPTransport {
	return board.NewHTTPTransport(o.server, nil, board.StaticToken(o.token))
}

func boardCmd(opts *globalOpts) *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print the board grouped by column",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := domain.ParseView(view)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			tasks, err := opts.transport().FetchBoard(ctx, v)
			if err != nil {
				return err
			}
			printBoard(cmd, board.NewState(v, tasks, 0))
			return nil
		},
	}
	cmd.Flags().StringVarP(&view, "view", "v", string(domain.ViewKanban), "Board view (kanban, matrix)")
	return cmd
}

func reorderCmd(opts *globalOpts) *cobra.Command {
	var (
		column   string
		ids      []int64
		sequence int64
	)
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Set the order of a column's todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := domain.ParseColumn(column)
			if err != nil {
				return err
			}
			if len(ids) > board.MaxReorderIDs {
				return fmt.Errorf("at most %d ids per reorder", board.MaxReorderIDs)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if err := opts.transport().Reorder(ctx, col, ids, sequence); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reordered %s: %d todos\n", col, len(ids))
			return nil
		},
	}
	cmd.Flags().StringVarP(&column, "column", "c", "", "Column to reorder")
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "Todo ids in their new order")
	cmd.Flags().Int64Var(&sequence, "sequence", 0, "Reorder sequence; 0 omits it")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func moveCmd(opts *globalOpts) *cobra.Command {
	var (
		column string
		over   int64
	)
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Drop a todo into a column, before another card or at the end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid todo id %q", args[0])
			}
			col, err := domain.ParseColumn(column)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			logger := log.New()
			logger.SetOutput(cmd.ErrOrStderr())
			b, err := board.Load(ctx, col.View(), opts.transport(), board.WithLogger(logger), board.WithRequestTimeout(opts.timeout))
			if err != nil {
				return err
			}
			defer b.Wait()
			if err := b.Coordinator().KeyboardPickUp(id); err != nil {
				return err
			}
			p, outcome := b.Drop(ctx, board.DropTarget{Column: col, OverTaskID: over})
			if outcome != board.OutcomeDrop {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing to do (%s)\n", outcome)
				return nil
			}
			res, err := p.Wait(ctx)
			if err != nil {
				return err
			}
			if res.Status != board.Success {
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %d to %s at position %d\n", id, res.Intent.Target, res.Intent.TargetIndex+1)
			return nil
		},
	}
	cmd.Flags().StringVarP(&column, "column", "c", "", "Target column")
	cmd.Flags().Int64Var(&over, "before", 0, "Place before this todo")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func printBoard(cmd *cobra.Command, s *board.State) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, col := range s.Columns() {
		fmt.Fprintf(w, "%s\t(%d)\n", col, s.Len(col))
		for _, t := range s.Column(col) {
			fmt.Fprintf(w, "  %d\t%s\t%s\n", t.ID, t.Title, t.Color)
		}
	}
	_ = w.Flush()
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
