package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"voting-client/internal/monitor"
	"voting-client/internal/outcome"
	"voting-client/internal/program"
	"voting-client/internal/tui"
	"voting-client/internal/voting"
)

func monitorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Shows a live dashboard of polls and candidates",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return monitorFunc(c.Context(), a)
		},
	}
}

func monitorFunc(parent context.Context, a *app) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if a.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	updates := make(chan interface{}, monitor.UpdateChannelBufferSize)
	mon := monitor.New(a.client, updates,
		monitor.WithLogger(a.log),
		monitor.WithJournal(a.journal),
		monitor.WithInterval(a.cfg.RefreshInterval),
	)

	go func() {
		if err := tui.Run(updates, mon.Refresh); err != nil {
			a.log.Error("TUI error", "err", err)
		}
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	err := mon.Run(ctx)
	a.log.Info("shutting down...")

	// Close TUI update channel to stop sending updates
	close(updates)
	// Give TUI a moment to process the close and quit
	time.Sleep(monitor.CloseDelay)
	return err
}

func pollsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "polls",
		Short: "Lists every poll with its candidates",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			polls, err := a.client.Polls(ctx)
			if err != nil {
				return err
			}
			cands, err := a.client.Candidates(ctx)
			if err != nil {
				return err
			}
			ids := make([]uint64, len(polls.Data))
			for i, p := range polls.Data {
				ids[i] = p.PollID
			}
			groups := voting.GroupCandidates(a.client.Cluster().ProgramID, ids, cands.Data)

			out := c.OutOrStdout()
			if len(polls.Data) == 0 {
				fmt.Fprintln(out, "no polls")
			}
			for _, p := range polls.Data {
				printPoll(out, p)
				printCandidates(out, groups[p.PollID])
			}
			return nil
		},
	}
}

func candidatesCommand(a *app) *cobra.Command {
	var pollID uint64
	c := &cobra.Command{
		Use:   "candidates",
		Short: "Lists candidates, optionally of one poll",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if c.Flags().Changed("poll") {
				r, err := a.client.CandidatesForPoll(c.Context(), pollID)
				if err != nil {
					return err
				}
				printCandidates(c.OutOrStdout(), r.Data)
				return nil
			}
			r, err := a.client.Candidates(c.Context())
			if err != nil {
				return err
			}
			for _, cand := range r.Data {
				fmt.Fprintf(c.OutOrStdout(), "%s  %-32s %d\n", cand.Address, cand.Name, cand.Votes)
			}
			return nil
		},
	}
	c.Flags().Uint64Var(&pollID, "poll", 0, "only candidates of this poll id")
	return c
}

func pollCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <id>",
		Short: "Shows one poll and its candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			p, err := a.client.Poll(id)
			if err != nil {
				return err
			}
			poll, err := p.Poll(c.Context())
			if err != nil {
				return err
			}
			cands, err := p.Candidates(c.Context())
			if err != nil {
				return err
			}
			printPoll(c.OutOrStdout(), poll.Data)
			printCandidates(c.OutOrStdout(), cands.Data)
			return nil
		},
	}
}

func programCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "program",
		Short: "Reports whether the voting program is deployed on the cluster",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			res, err := a.client.ProgramDeployed(c.Context())
			if err != nil {
				return err
			}
			cl := a.client.Cluster()
			state := "not deployed"
			if res.Data {
				state = "deployed"
			}
			fmt.Fprintf(c.OutOrStdout(), "%s on %s: %s\n", cl.ProgramID, cl.Name, state)
			return nil
		},
	}
}

func createPollCommand(a *app) *cobra.Command {
	var (
		id          uint64
		description string
		start       string
		duration    time.Duration
	)
	c := &cobra.Command{
		Use:   "create-poll",
		Short: "Creates a poll",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			begin := time.Now()
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				begin = t
			}
			out := a.client.CreatePoll(c.Context(), voting.PollParams{
				ID:          id,
				Description: description,
				Start:       begin,
				End:         begin.Add(duration),
			})
			return report(c.OutOrStdout(), out)
		},
	}
	flags := c.Flags()
	flags.Uint64Var(&id, "id", 0, "poll id")
	flags.StringVar(&description, "description", "", "poll description")
	flags.StringVar(&start, "start", "", "voting start (RFC3339), now when empty")
	flags.DurationVar(&duration, "duration", 24*time.Hour, "how long voting stays open")
	_ = c.MarkFlagRequired("id")
	_ = c.MarkFlagRequired("description")
	return c
}

func addCandidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-candidate <poll-id> <name>",
		Short: "Registers a candidate in a poll",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			return report(c.OutOrStdout(), a.client.CreateCandidate(c.Context(), id, args[1]))
		},
	}
}

func voteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <poll-id> <candidate>",
		Short: "Casts the wallet's vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			p, err := a.client.Poll(id)
			if err != nil {
				return err
			}
			return report(c.OutOrStdout(), p.Vote(c.Context(), args[1]))
		},
	}
}

func parsePollID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid poll id %q: %w", s, err)
	}
	return id, nil
}

// report prints the outcome and turns anything but a confirmation into an error.
func report(w io.Writer, out outcome.Outcome) error {
	fmt.Fprintln(w, out.String())
	if out.Kind == outcome.Indeterminate {
		fmt.Fprintln(w, "the transaction may still land; check the poll before retrying")
	}
	if out.Kind != outcome.Confirmed {
		if out.Err == nil {
			return errors.New(out.Kind.String())
		}
		return out.Err
	}
	return nil
}

func printPoll(w io.Writer, p program.Poll) {
	state := "closed"
	if p.Open(time.Now()) {
		state = "open"
	}
	fmt.Fprintf(w, "#%d %s [%s]\n", p.PollID, p.Description, state)
	fmt.Fprintf(w, "  address:    %s\n", p.Address)
	fmt.Fprintf(w, "  window:     %s → %s\n", p.Start.Local().Format(time.RFC3339), p.End.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  candidates: %d  votes: %d\n", p.CandidateAmount, p.TotalVotes)
}

func printCandidates(w io.Writer, cands []program.Candidate) {
	for _, c := range cands {
		fmt.Fprintf(w, "    %-32s %d\n", c.Name, c.Votes)
	}
}
