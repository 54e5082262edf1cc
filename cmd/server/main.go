package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Fileri/showcase/server/internal/api"
	"github.com/Fileri/showcase/server/internal/config"
	"github.com/Fileri/showcase/server/internal/logging"
	"github.com/Fileri/showcase/server/internal/storage"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Content API backed by Postgres, Supabase and a file store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		return logging.Init(cfg.Log)
	},
	RunE: runServe,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the contents table columns and row level security flag",
	RunE:  runInspect,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check which column naming the Supabase REST API accepts",
	RunE:  runProbe,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $CONTENT_CONFIG or ./config.yaml)")
	rootCmd.AddCommand(inspectCmd, probeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	// Check for config file path from env
	if os.Getenv("CONTENT_CONFIG") == "" {
		// Default config locations
		for _, path := range []string{"/etc/content/config.yaml", "./config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				os.Setenv("CONTENT_CONFIG", path)
				break
			}
		}
	}
}

// backends holds the configured tiers in fallback order.
type backends struct {
	postgres *storage.Postgres
	supabase *storage.Supabase
	files    *storage.FileStore
}

func (b *backends) chain() *storage.Chain {
	var stores []storage.Store
	if b.postgres != nil {
		stores = append(stores, b.postgres)
	}
	if b.supabase != nil {
		stores = append(stores, b.supabase)
	}
	stores = append(stores, b.files)
	return storage.NewChain(stores...)
}

func (b *backends) close() {
	if b.postgres != nil {
		b.postgres.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgres(cfg.Database)
		if err != nil {
			return nil, err
		}
		b.postgres = pg
	}

	if cfg.Supabase.Enabled() {
		b.supabase = storage.NewSupabase(cfg.Supabase)
		logging.L().Info("supabase initialized", zap.String("url", cfg.Supabase.URL))
	} else {
		logging.L().Warn("supabase credentials not found, using file storage fallback")
	}

	blob, err := storage.NewBlob(ctx, cfg.Files)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}
	b.files = storage.NewFileStore(blob)
	return b, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	defer logging.Sync()
	logger := logging.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if b.postgres != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := b.postgres.Ping(pingCtx); err != nil {
			logger.Warn("direct database unreachable, requests will fall back", zap.Error(err))
		}
		cancel()

		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					b.postgres.UpdateConnectionMetrics()
				}
			}
		}()
	}

	chain := b.chain()
	var prober api.Prober
	if b.supabase != nil {
		prober = b.supabase
	}
	handler := api.New(cfg, chain, prober)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting content server",
			zap.String("addr", cfg.ListenAddr),
			zap.Strings("backends", chain.Names()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInspect(cmd *cobra.Command, args []string) error {
	if cfg.Database.URL == "" {
		return errors.New("database url is not set; set SUPABASE_DB_URL or database.url")
	}

	pg, err := storage.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer pg.Close()

	schema, err := pg.Inspect(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"success": true, "result": schema})
}

func runProbe(cmd *cobra.Command, args []string) error {
	if !cfg.Supabase.Enabled() {
		return fmt.Errorf("missing supabase credentials (url %s, key %s)",
			presence(cfg.Supabase.URL), presence(cfg.Supabase.Key()))
	}

	sb := storage.NewSupabase(cfg.Supabase)
	return printJSON(map[string]any{"success": true, "attempts": sb.Probe(cmd.Context())})
}

func presence(s string) string {
	if s == "" {
		return "missing"
	}
	return "present"
}
