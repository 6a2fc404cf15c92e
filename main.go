package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"negotiator/app/client/llm"
	"negotiator/app/client/policy"
	"negotiator/app/config"
	"negotiator/app/service/api"
	"negotiator/app/service/engine"
	"negotiator/app/service/ingest"
	"negotiator/app/service/mcpserver"
	"negotiator/app/service/queue"
	"negotiator/app/service/scenario"
	"negotiator/app/service/session"
	"negotiator/app/service/store"
	"negotiator/app/util/mylog"

	"github.com/samber/do"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configPath string

func main() {
	mylog.Preinit()

	root := &cobra.Command{
		Use:           "negotiator",
		Short:         "Buyer/seller negotiation simulator with a self-reflecting AI counterpart",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")

	root.AddCommand(serveCmd(), ingestCmd(), mcpCmd())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// bootstrap loads config and returns an injector with the shared providers registered.
func bootstrap(ctx context.Context, stdioMode bool) (*do.Injector, *config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}

	if stdioMode {
		mylog.InitStderrOnly(cfg)
	} else if err = mylog.Init(cfg); err != nil {
		return nil, nil, fmt.Errorf("logging init failed: %w", err)
	}

	di := do.New()
	do.ProvideValue(di, ctx)
	do.ProvideValue(di, cfg)

	do.Provide(di, policy.New)

	return di, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCtx, cancel := signalContext()
			defer cancel()

			di, cfg, err := bootstrap(appCtx, false)
			if err != nil {
				return err
			}
			defer func() {
				slog.Info("Waiting for services to finish...")
				if err := di.Shutdown(); err != nil {
					slog.Warn("Shutdown finished with errors", "error", err)
				}
			}()

			do.Provide(di, llm.New)
			do.Provide(di, scenario.New)
			do.Provide(di, store.New)
			do.Provide(di, queue.New)
			do.Provide(di, engine.New)
			do.Provide(di, session.New)
			do.Provide(di, api.New)

			server, err := do.Invoke[*api.Service](di)
			if err != nil {
				return fmt.Errorf("service wiring failed: %w", err)
			}
			dispatcher := do.MustInvoke[*engine.Service](di)

			slog.Info("Service started",
				"addr", cfg.HTTP.Addr,
				"provider", cfg.LLM.Provider,
				"max_retries", cfg.Session.MaxRetries,
				"score_threshold", cfg.Session.ScoreThreshold,
			)

			group, ctx := errgroup.WithContext(appCtx)
			group.Go(func() error {
				dispatcher.Run(ctx)
				return nil
			})
			group.Go(func() error {
				return server.Run(ctx)
			})

			return group.Wait()
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Index policy documents (.md, .txt, .html) into the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cancel := signalContext()
			defer cancel()

			di, _, err := bootstrap(appCtx, false)
			if err != nil {
				return err
			}
			defer di.Shutdown()

			do.Provide(di, ingest.New)

			ingester, err := do.Invoke[*ingest.Service](di)
			if err != nil {
				return err
			}

			stats, err := ingester.IngestDir(appCtx, args[0])
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}

			slog.Info("Ingest finished",
				"dir", args[0],
				"files", stats.Files,
				"chunks", stats.Chunks,
				"skipped", stats.Skipped,
			)
			return nil
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the policy search tool over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCtx, cancel := signalContext()
			defer cancel()

			di, _, err := bootstrap(appCtx, true)
			if err != nil {
				return err
			}
			defer di.Shutdown()

			do.Provide(di, mcpserver.New)

			svc, err := do.Invoke[*mcpserver.Service](di)
			if err != nil {
				return err
			}

			return svc.ServeStdio()
		},
	}
}
