package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skovale/briefgen/config"
	"github.com/skovale/briefgen/internal/jobs"
	"github.com/skovale/briefgen/internal/memory"
	"github.com/skovale/briefgen/internal/research"
	"github.com/skovale/briefgen/internal/store"
)

func briefCMD() *cobra.Command {
	var cfgPath string
	var depth int
	var followUp bool
	var userID string
	var waitTimeout time.Duration

	var brief = &cobra.Command{
		Use:   "brief [topic]",
		Short: "Research a topic and print the brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			var ctxStore memory.ContextStore
			if cfg.Memory.Backend == "redis" {
				rc := cfg.Storage.Redis
				client, err := memory.Conn(ctx, rc.Host, rc.Port, rc.Password, rc.DB, rc.Timeout)
				if err != nil {
					return fmt.Errorf("redis connection failed (%s): %w", rc.Addr(), err)
				}
				ctxStore = memory.NewRedisStore(client, cfg.Memory.TTL)
			} else {
				ctxStore = memory.NewInMemoryStore()
			}

			// Briefs run from the CLI land in the same history as API runs
			// when postgres is configured.
			var storeAPI jobs.StoreAPI
			if dsn := cfg.Storage.Postgres.DSN(); dsn != "" {
				st, err := store.NewWithDSN(ctx, dsn)
				if err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
				storeAPI = st
			}

			llm, err := research.NewLLMProvider(cfg.LLM)
			if err != nil {
				return err
			}
			search, err := research.NewSearchProvider(cfg.Sources)
			if err != nil {
				return err
			}
			fetcher, err := research.NewFetcher(cfg.Sources, cfg.Research.FetchContent)
			if err != nil {
				return err
			}
			engine := research.NewEngine(cfg.Research, llm, search, fetcher,
				log.New(os.Stderr, "[ENGINE] ", log.LstdFlags))
			manager := jobs.NewManager(log.New(os.Stderr, "[JOBS] ", log.LstdFlags),
				cfg.Research, engine, storeAPI, ctxStore, nil, cfg.Memory.HistoryLimit)

			b, err := manager.Submit(ctx, research.ResearchRequest{
				Topic:    args[0],
				Depth:    depth,
				FollowUp: followUp,
				UserID:   userID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "brief %s accepted; researching %q\n", b.BriefID, b.Topic)

			b, err = waitForBrief(ctx, manager, b.BriefID, waitTimeout, 500*time.Millisecond, os.Stderr)
			if err != nil {
				return err
			}

			if b.Status == research.StatusFailed {
				return fmt.Errorf("research failed: %s", b.Error)
			}
			printBrief(os.Stdout, b)
			return nil
		},
	}
	brief.Flags().IntVar(&depth, "depth", 0, "fetch/summarize rounds (default from config)")
	brief.Flags().BoolVar(&followUp, "follow-up", false, "build on the user's previous research")
	brief.Flags().StringVar(&userID, "user", "cli", "user id owning the research context")
	brief.Flags().DurationVar(&waitTimeout, "wait-timeout", 20*time.Minute, "maximum time to wait for completion")
	brief.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return brief
}

// waitForBrief polls the manager until the brief is terminal, echoing
// pipeline state changes to progress.
func waitForBrief(ctx context.Context, manager *jobs.Manager, briefID string, timeout, interval time.Duration, progress io.Writer) (research.Brief, error) {
	deadline := time.Now().Add(timeout)
	var lastState research.PipelineState
	for {
		if time.Now().After(deadline) {
			return research.Brief{}, fmt.Errorf("timed out waiting for brief %s", briefID)
		}
		cur, ps, ok, err := manager.Status(ctx, briefID)
		if err != nil {
			return research.Brief{}, err
		}
		if ok && ps != lastState {
			fmt.Fprintf(progress, "  %s\n", ps)
			lastState = ps
		}
		if ok && cur.Status != research.StatusProcessing {
			return cur, nil
		}
		time.Sleep(interval)
	}
}

func printBrief(w io.Writer, b research.Brief) {
	fmt.Fprintf(w, "# %s\n\n", b.Topic)
	r := b.Result
	if r == nil {
		return
	}
	fmt.Fprintf(w, "## Executive Summary\n\n%s\n\n", r.ExecutiveSummary)
	if len(r.KeyFindings) > 0 {
		fmt.Fprintf(w, "## Key Findings\n\n")
		for _, f := range r.KeyFindings {
			fmt.Fprintf(w, "- %s\n", f)
		}
		fmt.Fprintln(w)
	}
	if r.Analysis != "" {
		fmt.Fprintf(w, "## Analysis\n\n%s\n\n", r.Analysis)
	}
	if len(r.Recommendations) > 0 {
		fmt.Fprintf(w, "## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "- %s\n", rec)
		}
		fmt.Fprintln(w)
	}
	if len(r.References) > 0 {
		fmt.Fprintf(w, "## References\n\n")
		for i, ref := range r.References {
			fmt.Fprintf(w, "%d. %s - %s\n", i+1, ref.Title, ref.URL)
		}
	}
}
