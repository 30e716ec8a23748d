package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/config"
)

var (
	configFile string
	jsonFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "tileboard",
	Short: "Always-on tile dashboard",
	Long: `Tileboard drives a small grid of self-refreshing tiles: weather, system
metrics, quotes, finance, news, calendar and a clock.

Every tile refreshes on its own cadence and keeps showing its last good value
when its source fails. The layout lives in a JSON document that can be edited
with the config commands, by hand, or over NATS while the server runs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "process config file (default ./config/tileboard.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print JSON output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadAppConfig() (*config.AppConfig, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return config.LoadApp(v), nil
}

func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	return zcfg.Build(zap.Fields(zap.String("app", cfg.Name)))
}

// setup loads the process config and builds the logger every command uses
func setup() (*config.AppConfig, *zap.Logger, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func loadThemes(cfg *config.AppConfig, logger *zap.Logger) *config.ThemeSet {
	themes, err := config.LoadThemes(cfg.ThemesFile)
	if err != nil {
		logger.Warn("Failed to load theme file, using built-in themes",
			zap.String("path", cfg.ThemesFile),
			zap.Error(err))
	}
	return themes
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
