package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/config"
	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/core/logging"
	"github.com/solatis/rulekeeper/internal/rules"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "rulekeeper",
	Short:         "rulekeeper audience rule engine",
	Long:          `rulekeeper compiles audience rules into SQL predicates and evaluates them against user profiles.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...), defaults to $RK_DATABASE_URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// env is what every subcommand needs before doing work.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func setup(cmd *cobra.Command) (*env, error) {
	logger, err := logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// engine builds a rules engine over dir with the configured limits.
func (e *env) engine(dir rules.Directory) *rules.Engine {
	return rules.NewEngine(dir,
		rules.WithLogger(e.logger),
		rules.WithDepthLimit(e.cfg.Rules.UserToUserDepthLimit),
		rules.WithMaxAbilityDepth(e.cfg.Rules.MaxAbilityDepth),
	)
}

// databaseURL resolves --db-url, falling back to RK_DATABASE_URL.
func databaseURL() (string, error) {
	if dbURL != "" {
		return dbURL, nil
	}
	url, err := config.DatabaseURL()
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("--db-url or %s required", config.DatabaseURLEnv)
	}
	return url, nil
}

// openStore opens the database and wraps it in a Store. The caller closes
// the returned store's DB.
func (e *env) openStore(ctx context.Context) (*db.Store, error) {
	url, err := databaseURL()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := db.NewStore(database, e.logger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return store, nil
}

// readJSON decodes the file at path, or stdin when path is "-".
func readJSON(cmd *cobra.Command, path string, dest any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
