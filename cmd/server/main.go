package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"azure-search-mcp/internal/config"
	"azure-search-mcp/internal/logging"
	"azure-search-mcp/internal/mcp"
	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/services"
	"azure-search-mcp/internal/tracing"
	"azure-search-mcp/internal/workflow"
)

type rootFlags struct {
	envFile    string
	debug      bool
	transport  string
	addr       string
	standalone bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:          "azure-search-mcp",
		Short:        "MCP server exposing Azure AI Search as tools",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env", "", "Path to .env file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	root.Flags().StringVar(&flags.transport, "transport", "", "MCP transport: stdio or http (overrides MCP_TRANSPORT)")
	root.Flags().StringVar(&flags.addr, "addr", "", "Listen address for the http transport (overrides HTTP_ADDR)")
	root.Flags().BoolVar(&flags.standalone, "standalone", false, "Run an interactive search prompt instead of an MCP transport")

	root.AddCommand(newPromptsCmd(), newGraphCmd())
	return root
}

func newPromptsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Validate and print the prompt catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("PROMPTS_FILE")
			}
			store, err := prompts.NewStore(file, logging.Nop())
			if err != nil {
				return err
			}
			out, err := mcp.CatalogSummary(store.Catalog())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Prompt catalog file (default: PROMPTS_FILE or the built-in catalog)")
	return cmd
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the search workflow graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			router, err := workflow.NewRouter(nil, nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), router.Describe().String())
			return err
		},
	}
}

// app holds the wired components of a running server.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	provider  *tracing.Provider
	collector *tracing.Collector
	store     *prompts.Store
	router    *workflow.Router
	server    *mcp.Server
}

func newApp(ctx context.Context, flags rootFlags) (*app, error) {
	cfg, err := config.LoadConfig(flags.envFile)
	if err != nil {
		return nil, err
	}
	if flags.transport != "" {
		switch t := strings.ToLower(flags.transport); t {
		case "stdio", "http":
			cfg.Server.Transport = t
		default:
			return nil, fmt.Errorf("%w: --transport %q is not one of stdio, http", config.ErrConfiguration, flags.transport)
		}
	}
	if flags.addr != "" {
		cfg.Server.HTTPAddr = flags.addr
	}
	if flags.debug {
		cfg.Server.LogLevel = "DEBUG"
	}

	logger := logging.NewLogger(cfg.Server.LogLevel)
	logger.Info("Configuration loaded",
		"index", cfg.Search.IndexName,
		"endpoint", cfg.Search.Endpoint,
		"llm_provider", cfg.LLM.Provider,
		"transport", cfg.Server.Transport,
		"config_file", cfg.ConfigFile,
	)

	provider, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		APIKey:         cfg.Tracing.APIKey,
		Project:        cfg.Tracing.Project,
		ServiceName:    cfg.Server.Name,
		ServiceVersion: cfg.Server.Version,
	}, logger)
	if err != nil {
		return nil, err
	}
	metrics, err := tracing.NewMetrics(nil)
	if err != nil {
		return nil, err
	}
	collector := tracing.NewCollector(cfg.Tracing.BufferSize, tracing.LogHandler(logger), metrics.Handler())

	store, err := prompts.NewStore(cfg.Prompts.File, logger.With("component", "prompts"))
	if err != nil {
		return nil, err
	}

	searcher := services.NewAzureSearchClient(services.SearchClientConfig{
		Endpoint:     cfg.Search.Endpoint,
		APIKey:       cfg.Search.APIKey,
		Index:        cfg.Search.IndexName,
		APIVersion:   cfg.Search.APIVersion,
		KeyField:     cfg.Search.KeyField,
		ContentField: cfg.Search.ContentField,
		Timeout:      cfg.Search.Timeout,
		MaxTopK:      cfg.Search.MaxTopK,
		MaxRetries:   cfg.Search.MaxRetries,
		RateLimit:    cfg.Search.RateLimit,
		RateBurst:    cfg.Search.RateBurst,
	}, services.NewHTTPClient())

	completer, err := services.NewCompleter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tracer := provider.Tracer()
	formatter := services.NewFormatter(store,
		services.WithCompleter(completer),
		services.WithLLMTimeout(cfg.LLM.Timeout),
		services.WithSink(collector),
		services.WithTracer(tracer),
		services.WithFormatterLogger(logger.With("component", "formatter")),
	)
	logger.Info("LLM enhancement", "enabled", formatter.Enabled(), "provider", cfg.LLM.Provider)

	router, err := workflow.NewRouter(searcher, formatter,
		workflow.WithBudget(cfg.Context.MaxChars),
		workflow.WithMaxTopK(cfg.Search.MaxTopK),
		workflow.WithLogger(logger.With("component", "workflow")),
		workflow.WithRouterTracer(tracer),
		workflow.WithRouterMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	srv := mcp.NewServer(router, searcher, store, mcp.Options{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
		Logger:  logger.With("component", "mcp"),
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		collector: collector,
		store:     store,
		router:    router,
		server:    srv,
	}, nil
}

func run(parent context.Context, flags rootFlags) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.provider.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Tracer shutdown failed", "error", err)
		}
	}()

	// The transport owns the lifetime of the process; when it returns the
	// background workers are cancelled.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.collector.Run(gctx) })
	if a.cfg.Prompts.Watch && a.cfg.Prompts.File != "" {
		g.Go(func() error { return a.store.Watch(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		switch {
		case flags.standalone:
			a.logger.Info("Running in standalone mode")
			return runREPL(gctx, os.Stdin, os.Stdout, a.server)
		case a.cfg.Server.Transport == "http":
			return serveHTTP(gctx, a)
		default:
			a.logger.Info("Starting MCP server on stdio", "name", a.cfg.Server.Name, "version", a.cfg.Server.Version)
			return a.server.ServeStdio(gctx, os.Stdin, os.Stdout)
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("Server stopped",
		"trace_events_handled", a.collector.Handled(),
		"trace_events_dropped", a.collector.Dropped(),
	)
	return err
}
