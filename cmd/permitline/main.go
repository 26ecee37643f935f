package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"permitline/internal/app"
	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "permitline",
	Short: "Permit workflow engine",
	Long: `permitline runs the APCD empanelment permit workflow.
- Applications start as DRAFT and are owned by the OEM that created them.
- Submission and resubmission are gated by the completeness rules (see 'permitline app validate').
- Every status change is checked against the role permission matrix ('permitline authz matrix').
- Each change is recorded in the status history and the event log ('permitline log tail').
Commands act as --actor-id with --role; both default to a local SUPER_ADMIN.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotEnv(viper.GetString("workspace")); err != nil {
			return err
		}
		return configureLogging()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PERMITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/permitline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "actor identifier")
	flags.String("role", string(domain.RoleSuperAdmin), "actor role")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "role", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(authzCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadDotEnv reads <workspace>/.env without overriding the real environment.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func configureLogging() error {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	switch viper.GetString("log-format") {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", viper.GetString("log-format"))
	}
	return nil
}

// --- helpers ---

func currentActor() (*domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	role, err := domain.ParseRole(strings.ToUpper(strings.TrimSpace(viper.GetString("role"))))
	if err != nil {
		return nil, err
	}
	return &domain.Actor{ID: id, Role: role}, nil
}

func openRuntime(ctx context.Context) (*app.Runtime, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Log:        logrus.StandardLogger(),
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, *domain.Actor) error) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine, actor)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(err error) {
	red := color.New(color.FgRed, color.Bold)
	var denied auth.DeniedError
	if errors.As(err, &denied) {
		fmt.Fprintf(os.Stderr, "%s %s (%s)\n", red.Sprint("denied:"), denied.Error(), denied.Reason)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", red.Sprint("error:"), err)
}

// readDetails loads application details from a YAML or JSON file.
func readDetails(path string) (domain.Details, error) {
	var d domain.Details
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := json.Unmarshal(normalized, &d); err != nil {
		return d, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
