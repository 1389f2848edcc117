// Package cmd provides the CLI commands for Agentdesk.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jobdam/agentdesk/internal/appdir"
	"github.com/jobdam/agentdesk/internal/config"
	"github.com/jobdam/agentdesk/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Settings
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentdesk",
	Short: "Agentdesk - a terminal console for support agents",
	Long: `Agentdesk is a terminal console for support agents of the
recruiting platform.

It connects to the platform message broker, shows waiting hand-off
requests, and lets an agent accept a request and chat with the user
in a dedicated room. The session survives restarts: the active room
and transcript are persisted locally and restored on the next run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > default (info)
		effectiveLogLevel := "info"
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}
		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			Components: components,
		}
		if logFile != "" {
			logCfg.FileLog = &logging.FileLogConfig{Path: logFile}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Agentdesk directory: %w", err)
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
		} else {
			cfg, err = config.LoadFromAppDir()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (YAML or JSON format, overrides settings.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'transport,queue,room'). Empty means all components.")
}

// loadToken reads the bearer credential using the configured fallback keys.
// A missing credentials file yields an empty token (unauthenticated mode).
func loadToken() (string, error) {
	path, err := appdir.CredentialsPath()
	if err != nil {
		return "", err
	}
	creds, err := config.LoadCredentials(path)
	if err != nil {
		return "", err
	}
	token, err := creds.Token(cfg.CredentialKeys)
	if err != nil {
		return "", nil
	}
	return token, nil
}
