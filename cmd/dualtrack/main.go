package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zen-systems/dualtrack/pkg/adapter"
	"github.com/zen-systems/dualtrack/pkg/config"
	"github.com/zen-systems/dualtrack/pkg/engine"
	"github.com/zen-systems/dualtrack/pkg/history"
	"github.com/zen-systems/dualtrack/pkg/integrate"
	"github.com/zen-systems/dualtrack/pkg/monitor"
	"github.com/zen-systems/dualtrack/pkg/router"
	"github.com/zen-systems/dualtrack/pkg/server"
	"github.com/zen-systems/dualtrack/pkg/stream"
	"github.com/zen-systems/dualtrack/pkg/track"
)

var (
	configFile  string
	debugFlag   bool
	offlineFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dualtrack",
		Short: "Dual-track inference engine with adaptive routing",
		Long: `Dualtrack routes queries between a local on-device model and remote
	providers, streams both tracks concurrently when it helps, and merges
	their outputs into a single answer. Routing thresholds adapt over time
	from observed latency, cost, and resource pressure.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to engine config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "verbose per-query logging")
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "disable remote providers, local track only")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var streamFlag bool
	var pathFlag string

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run a query through the engine",
		Long: `Classifies the query, runs the chosen track(s), and prints the
	integrated answer.

	Use --stream to print merged stream events as they arrive; provisional
	local tokens are marked. Use --path to force local, remote, or parallel
	instead of letting the classifier decide.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			eng.Start(ctx)

			q := engine.NewQuery(args[0], nil)
			var forced router.Path
			if pathFlag != "" {
				switch router.Path(pathFlag) {
				case router.PathLocal, router.PathRemote, router.PathParallel:
					forced = router.Path(pathFlag)
				default:
					return fmt.Errorf("unknown path %q (want local, remote, or parallel)", pathFlag)
				}
			}

			var events chan stream.Event
			printed := make(chan struct{})
			if streamFlag {
				events = make(chan stream.Event, 64)
				go func() {
					defer close(printed)
					printEvents(events)
				}()
			} else {
				close(printed)
			}

			var resp integrate.Response
			var decision router.Decision
			if forced != "" {
				resp, decision, err = eng.ProcessForced(ctx, q, forced, events)
			} else {
				resp, decision, err = eng.ProcessStream(ctx, q, events)
			}
			<-printed
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Path: %s (confidence %.2f, %s)\n",
				decision.Path, decision.Confidence, decision.Reasoning)
			if resp.Degraded {
				fmt.Fprintln(os.Stderr, "Warning: all tracks failed, answer is degraded")
			} else if resp.Partial {
				fmt.Fprintln(os.Stderr, "Warning: answer built from partial output")
			}
			if !streamFlag {
				fmt.Println(resp.Text)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&streamFlag, "stream", false, "print merged stream events as they arrive")
	cmd.Flags().StringVar(&pathFlag, "path", "", "force a path (local, remote, parallel)")

	return cmd
}

// printEvents renders the merged stream to stdout. Provisional tokens are
// shown as they stream; a transition marks where the remote answer takes
// over.
func printEvents(events <-chan stream.Event) {
	for ev := range events {
		switch ev.Type {
		case stream.EventToken:
			fmt.Print(ev.Text)
		case stream.EventTransition:
			fmt.Print("\n--- remote answer ---\n")
		case stream.EventTerminal:
			if ev.Track == track.KindRemote || ev.Terminal != track.TerminalDone {
				fmt.Printf("\n[%s: %s]\n", ev.Track, ev.Terminal)
			}
		}
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [query]",
		Short: "Show the routing decision for a query without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			decision := eng.Classify(engine.NewQuery(args[0], nil))
			data, err := json.MarshalIndent(decision, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the current adaptive routing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			data, err := json.MarshalIndent(eng.AdaptiveState(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-track performance summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			summary := eng.Summary()
			var kinds []string
			for kind := range summary {
				kinds = append(kinds, string(kind))
			}
			sort.Strings(kinds)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TRACK\tCOUNT\tSUCCESS\tP50\tP95\tP99\tAVG COST\tAVG QUALITY")
			for _, kind := range kinds {
				s := summary[monitor.TrackKind(kind)]
				fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%s\t%s\t%s\t$%.4f\t%.2f\n",
					kind, s.Count, s.SuccessRate*100,
					s.LatencyP50.Round(time.Millisecond),
					s.LatencyP95.Round(time.Millisecond),
					s.LatencyP99.Round(time.Millisecond),
					s.AvgCostUSD, s.AvgQuality)
			}
			return w.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently delivered answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, err := history.NewStore(cfg.Engine.History.Path)
			if err != nil {
				return err
			}
			records, err := store.Recent(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPATH\tSTRATEGY\tFLAGS\tQUERY")
			for _, rec := range records {
				flags := "-"
				switch {
				case rec.Degraded:
					flags = "degraded"
				case rec.Partial:
					flags = "partial"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					rec.Path, rec.Strategy, flags, truncate(rec.QueryText, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to show")

	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over websocket with metrics and health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := buildEngine()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			eng.Start(ctx)

			return server.New(eng, port, debugFlag).Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8787, "listen port")

	return cmd
}

func buildEngine() (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	adapters, err := createAdapters(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	opts := engine.Options{Debug: debugFlag}
	if cfg.Engine.History.Enabled {
		hist, err := history.NewStore(cfg.Engine.History.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history store: %w", err)
		}
		opts.History = hist
	}

	eng, err := engine.New(cfg.Engine, adapters, opts)
	if err != nil {
		return nil, nil, err
	}
	return eng, eng.Stop, nil
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithEngineFile(configFile)
	}
	return config.Load()
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	local, err := adapter.Build("local", adapter.Credentials{
		BaseURL:  cfg.Engine.Local.BaseURL,
		Models:   []string{cfg.Engine.Local.Model},
		Variants: cfg.Engine.Local.Variants,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local adapter: %w", err)
	}
	adapters["local"] = local
	adapters["mock"] = adapter.NewMockAdapter()

	if offlineFlag {
		return adapters, nil
	}

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.Build("anthropic", adapter.Credentials{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.Build("openai", adapter.Credentials{APIKey: cfg.OpenAIAPIKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.Build("google", adapter.Credentials{APIKey: cfg.GoogleAPIKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	return adapters, nil
}
