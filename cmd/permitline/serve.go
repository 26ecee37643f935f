package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitline/internal/config"
	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/metrics"
	"permitline/internal/repo"
	"permitline/internal/server"
)

// serveEnv holds the settings that must not live in permitline.yml.
type serveEnv struct {
	Addr          string `env:"PERMITLINE_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath      string `env:"PERMITLINE_BASE_PATH" envDefault:"/v1"`
	JWTSecret     string `env:"PERMITLINE_JWT_SECRET"`
	LegacyHeaders bool   `env:"PERMITLINE_ALLOW_LEGACY_HEADERS"`
	DevLogin      bool   `env:"PERMITLINE_DEV_LOGIN"`
}

func serveCmd() *cobra.Command {
	var flags serveEnv
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Serve the permitline API. Secrets come from the environment or <workspace>/.env:
  PERMITLINE_JWT_SECRET            HS256 key for bearer tokens
  PERMITLINE_ADDR                  listen address
  PERMITLINE_ALLOW_LEGACY_HEADERS  accept X-Actor-Id/X-Actor-Role without credentials
  PERMITLINE_DEV_LOGIN             expose POST <base>/auth/dev/login`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings serveEnv
			if err := env.Parse(&settings); err != nil {
				return fmt.Errorf("parse env: %w", err)
			}
			if cmd.Flags().Changed("addr") {
				settings.Addr = flags.Addr
			}
			if cmd.Flags().Changed("base-path") {
				settings.BasePath = flags.BasePath
			}
			if cmd.Flags().Changed("allow-legacy-headers") {
				settings.LegacyHeaders = flags.LegacyHeaders
			}
			if cmd.Flags().Changed("dev-login") {
				settings.DevLogin = flags.DevLogin
			}
			return runServer(cmd.Context(), settings)
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&flags.LegacyHeaders, "allow-legacy-headers", false, "accept unauthenticated X-Actor-Id headers")
	cmd.Flags().BoolVar(&flags.DevLogin, "dev-login", false, "enable the dev token endpoint")
	return cmd
}

func runServer(ctx context.Context, settings serveEnv) error {
	log := logrus.StandardLogger()
	collector := metrics.NewCollector()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.Engine.Metrics = collector

	if settings.JWTSecret == "" {
		log.Warn("PERMITLINE_JWT_SECRET is empty; bearer tokens will be rejected")
	}
	if settings.DevLogin && settings.JWTSecret == "" {
		return errors.New("--dev-login needs PERMITLINE_JWT_SECRET")
	}
	handler, err := server.New(server.Config{
		Engine:   rt.Engine,
		BasePath: settings.BasePath,
		Log:      log,
		Metrics:  collector,
		Auth: server.AuthConfig{
			JWTSecret:              settings.JWTSecret,
			AllowLegacyActorHeader: settings.LegacyHeaders,
			DevLogin:               settings.DevLogin,
		},
	})
	if err != nil {
		return err
	}
	server.StartWebhookDispatcher(ctx, rt.Engine, log)

	srv := &http.Server{Addr: settings.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.WithFields(logrus.Fields{
		"addr":      settings.Addr,
		"base_path": settings.BasePath,
		"webhooks":  len(rt.Config.Webhooks),
	}).Info("server starting")
	fmt.Printf("Serving permitline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
		settings.Addr, settings.BasePath, settings.BasePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workflow configuration"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if viper.GetBool("json") {
				return printJSON(rt.Config)
			}
			out, err := config.Marshal(rt.Config)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = viper.GetString("config")
			}
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Printf("%s %s is valid\n", okMark(), file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default permitline.yml and a .env with a fresh JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("%s wrote %s\n", okMark(), path)

			envPath := filepath.Join(workspace, ".env")
			created, err := ensureJWTSecret(envPath)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("%s stored PERMITLINE_JWT_SECRET in %s\n", okMark(), envPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// ensureJWTSecret adds a random secret to the .env file unless one is set.
func ensureJWTSecret(path string) (bool, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		values = map[string]string{}
	}
	if values["PERMITLINE_JWT_SECRET"] != "" {
		return false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, err
	}
	values["PERMITLINE_JWT_SECRET"] = hex.EncodeToString(buf)
	if err := godotenv.Write(values, path); err != nil {
		return false, err
	}
	return true, nil
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor *domain.Actor) error {
				items, err := e.ListEvents(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Application", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ApplicationID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.ApplicationID, "application", "", "application id filter")
	return cmd
}
