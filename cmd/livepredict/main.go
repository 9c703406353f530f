// Command livepredict diffs rendered trees, learns templates from
// recorded traces and serves the prediction engine over websockets.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livefir/livepredict"
	"github.com/livefir/livepredict/internal/config"
	"github.com/livefir/livepredict/internal/diff"
)

// Version information (can be overridden at build time with -ldflags)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
	keyAttr    string

	rootCmd = &cobra.Command{
		Use:   "livepredict",
		Short: "Predict tree patches from learned templates",
		Long: `livepredict learns how a rendered tree changes with its state and
predicts the patches of future changes without re-rendering.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "config file (defaults apply when missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	rootCmd.PersistentFlags().StringVar(&keyAttr, "key-attr", diff.DefaultKeyAttr, "attribute carrying list keys in HTML input")

	rootCmd.AddCommand(diffCmd, learnCmd, replayCmd, serveCmd, configCmd, versionCmd)
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// htmlParser reads keys from attr, or from --key-attr when attr is empty
func htmlParser(attr string) *diff.DOMParser {
	if attr == "" {
		attr = keyAttr
	}
	if attr == "" {
		return diff.NewDOMParser()
	}
	return diff.NewDOMParser().WithKeyAttr(attr)
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath)
}

func newEngine() (*livepredict.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return livepredict.New(livepredict.WithConfig(cfg), livepredict.WithLogger(logger))
}
