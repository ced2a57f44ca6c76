package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/yourorg/scenegen/internal/cache"
	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/internal/generator"
	"github.com/yourorg/scenegen/internal/notify"
	"github.com/yourorg/scenegen/internal/pipeline"
	"github.com/yourorg/scenegen/internal/server"
	"github.com/yourorg/scenegen/internal/store"
	"github.com/yourorg/scenegen/pkg/types"
)

const defaultConfigContent = `llm:
  api_key: ""
  base_url: "https://api.anthropic.com"
  model: "claude-3-opus-20240229"
  best_practice_max_tokens: 1000
  code_max_tokens: 2000
  temperature: 0
  timeout_seconds: 120

cache:
  url: "rediss://localhost:6379/0"
  password: ""
  tls: false
  ca_file: ""
  namespace: "manim"
  ttl_seconds: 3600
  connect_timeout_seconds: 20
  retry_step_ms: 200
  retry_max_ms: 3000
  retry_max_attempts: 3

notify:
  channel: "manim_code_notifications"

store:
  driver: "mongo"
  mongo_uri: "mongodb://localhost:27017/mal"
  database: "mal"
  collection: "scenes"
  sqlite_path: "scenegen.db"

server:
  host: "0.0.0.0"
  port: 3001
  allow_origins:
    - http://localhost:5173

log:
  level: "info"
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	var debug bool

	root := &cobra.Command{
		Use:           "scenegen",
		Short:         "Topic to Manim scene generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		if debug {
			cfg.Log.Level = "debug"
		}
		logger := newLogger(cfg.Log.Level)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	root.AddCommand(newInitCmd())
	root.AddCommand(newServeCmd(load))
	root.AddCommand(newGenerateCmd(load))
	root.AddCommand(newShowCmd(load))
	root.AddCommand(newListCmd(load))
	root.AddCommand(newWatchCmd(load))

	return root
}

type loader func() (*config.Config, *slog.Logger, error)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// app holds the process-wide clients. Each is created at most once.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	cache  *cache.SessionCache
	bus    *notify.Bus
	store  store.Store
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withStore bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, cache: sc, bus: notify.New(sc.Client(), logger)}
	if withStore {
		st, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			_ = sc.Close()
			return nil, err
		}
		a.store = st
	}
	return a, nil
}

func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	gen, err := generator.New(a.cfg.LLM, generator.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Generator: gen,
		Cache:     a.cache,
		Bus:       a.bus,
		Store:     a.store,
	}, pipeline.Options{
		TTL:     a.cfg.CacheTTL(),
		Channel: a.cfg.Notify.Channel,
		Logger:  a.logger,
	})
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("close cache", "error", err)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.scenegen directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfgFile), 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o600); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "please update llm.api_key in", cfgFile)
			return nil
		},
	}
}

func newServeCmd(load loader) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Start HTTP service", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = port
		}
		if err := cfg.ValidateGenerate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.close()
		orch, err := a.orchestrator()
		if err != nil {
			return err
		}

		gin.SetMode(gin.ReleaseMode)
		srv, err := server.New(cfg, orch, a.cache, a.store, logger)
		if err != nil {
			return err
		}

		httpServer := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 15 * time.Second,
			// Two model calls plus cache and store round trips.
			WriteTimeout:   time.Duration(2*cfg.LLM.TimeoutSeconds+30) * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
		return nil
	}}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "server host")
	cmd.Flags().IntVar(&port, "port", 3001, "server port")
	return cmd
}

func newGenerateCmd(load loader) *cobra.Command {
	var topic, outDir string
	cmd := &cobra.Command{Use: "generate", Short: "Generate a scene for a topic", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		if err := pipeline.ValidateTopic(topic); err != nil {
			return err
		}
		if err := cfg.ValidateGenerate(); err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger, true)
		if err != nil {
			return err
		}
		defer a.close()
		orch, err := a.orchestrator()
		if err != nil {
			return err
		}

		res, err := orch.Run(ctx, topic)
		if err != nil {
			return err
		}
		if outDir != "" {
			scene, ok, err := a.cache.Get(ctx, res.SessionID)
			if err != nil {
				return err
			}
			if ok {
				path, err := writeSceneScript(outDir, res.SessionID, scene)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "wrote", path)
			}
		}
		return printJSON(cmd, res)
	}}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to explain")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write the generated script to")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newShowCmd(load loader) *cobra.Command {
	var session, record string
	cmd := &cobra.Command{Use: "show", Short: "Show a cached session or a stored scene", RunE: func(cmd *cobra.Command, args []string) error {
		if (session == "") == (record == "") {
			return errors.New("exactly one of --session or --record is required")
		}
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, logger, record != "")
		if err != nil {
			return err
		}
		defer a.close()

		if record != "" {
			scene, err := a.store.Get(ctx, record)
			if err != nil {
				return err
			}
			return printJSON(cmd, scene)
		}
		scene, ok, err := a.cache.Get(ctx, session)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("session %s not found or expired", session)
		}
		return printJSON(cmd, scene)
	}}
	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&record, "record", "", "record id")
	return cmd
}

func newListCmd(load loader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{Use: "list", Short: "List stored scenes", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		st, err := store.Open(cmd.Context(), cfg.Store, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		scenes, err := st.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, s := range scenes {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.ID, s.CreatedAt.Format(time.RFC3339), s.Status, oneLine(s.Topic, 60))
		}
		return nil
	}}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of scenes")
	return cmd
}

func newWatchCmd(load loader) *cobra.Command {
	var channel string
	cmd := &cobra.Command{Use: "watch", Short: "Print session notifications as they arrive", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := load()
		if err != nil {
			return err
		}
		if channel == "" {
			channel = cfg.Notify.Channel
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		return a.bus.Listen(ctx, channel, func(n types.Notification) {
			_ = enc.Encode(n)
		})
	}}
	cmd.Flags().StringVar(&channel, "channel", "", "notification channel (defaults to notify.channel)")
	return cmd
}

// writeSceneScript saves the code of scene as <dir>/<sessionID>.py.
func writeSceneScript(dir, sessionID string, scene *types.Scene) (string, error) {
	return generator.WriteScript(dir, sessionID, scene.GeneratedCode)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
