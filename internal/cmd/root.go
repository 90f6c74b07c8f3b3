// Package cmd provides the CLI commands for Clawline.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawline/clawline/internal/appdir"
	"github.com/clawline/clawline/internal/config"
	"github.com/clawline/clawline/internal/gateway"
	"github.com/clawline/clawline/internal/identity"
	"github.com/clawline/clawline/internal/logging"
)

var (
	// Global flags
	configPath string
	gatewayURL string
	authToken  string
	logLevel   string
	debug      bool
	logFile    string

	// Loaded configuration
	cfg *config.Config
	// rc file path the configuration was resolved from
	resolvedConfigPath string
	// logging configuration currently in effect
	logCfg logging.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clawline",
	Short: "Clawline - a chat gateway client",
	Long: `Clawline maintains an authenticated WebSocket session to a chat
gateway and drives streaming conversations over it.

The device identity used to sign the connect handshake is generated on
first run and persisted; see "clawline identity show".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := loadConfig(); err != nil {
			return err
		}

		// Priority: --log-level flag > --debug flag > rc file > info
		effectiveLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLevel = logLevel
		} else if debug {
			effectiveLevel = "debug"
		}
		effectiveFile := cfg.Log.File
		if logFile != "" {
			effectiveFile = logFile
		}
		var fileLog *logging.FileLogConfig
		if effectiveFile != "" {
			fileLog = &logging.FileLogConfig{Path: effectiveFile}
		}
		logCfg = logging.Config{
			Level:   effectiveLevel,
			FileLog: fileLog,
			JSON:    cfg.Log.JSON,
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Clawline directory: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// loadConfig resolves the configuration: explicit --config path, the rc
// file when present, or pure defaults plus flag overrides. A missing rc is
// only an error when --config named it explicitly.
func loadConfig() error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	resolvedConfigPath = path

	loaded, err := config.Load(path)
	switch {
	case err == nil:
		cfg = loaded
	case configPath == "" && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return err
	}

	if gatewayURL != "" {
		cfg.Gateway.URL = gatewayURL
	}
	if authToken != "" {
		cfg.Gateway.Token = authToken
	}
	return nil
}

// watchConfig watches the rc file for the lifetime of a long-running
// command. Log level changes apply live; anything needing a new connection
// is announced as restart-required. Returns nil when watching is
// unavailable; the command keeps running either way.
func watchConfig() *config.Watcher {
	log := logging.CLI()
	w, err := config.NewWatcher(resolvedConfigPath, log, handleConfigReload)
	if err != nil {
		log.Debug("config watcher unavailable", "path", resolvedConfigPath, "error", err)
		return nil
	}
	w.Start()
	return w
}

// handleConfigReload applies what can be applied without a reconnect.
func handleConfigReload(next *config.Config) {
	log := logging.CLI()

	if next.Gateway.URL != cfg.Gateway.URL {
		log.Warn("gateway.url changed in the rc file; restart to apply",
			"url", next.Gateway.URL)
	}

	// Flags keep precedence over the rc file, so a flag-pinned level never
	// moves underneath the user.
	if logLevel == "" && !debug && next.Log.Level != logCfg.Level {
		logCfg.Level = next.Log.Level
		if err := logging.Initialize(logCfg); err != nil {
			log.Warn("failed to apply new log level", "error", err)
			return
		}
		logging.CLI().Info("log level updated", "level", next.Log.Level)
	}
}

// requireGateway fails usefully when no gateway endpoint is configured.
func requireGateway() error {
	if cfg.Gateway.URL == "" {
		return fmt.Errorf("no gateway configured: set gateway.url in %s or pass --gateway",
			config.DefaultConfigPath())
	}
	return cfg.Validate()
}

// newClient builds a gateway client from the loaded configuration, backed
// by the default device identity provider.
func newClient() (*gateway.Client, error) {
	if err := requireGateway(); err != nil {
		return nil, err
	}
	idp, err := identity.NewDefaultProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to set up device identity: %w", err)
	}
	return gateway.New(gateway.Config{
		URL:        cfg.Gateway.URL,
		ClientID:   cfg.Gateway.ClientID,
		ClientMode: cfg.Gateway.ClientMode,
		Role:       cfg.Gateway.Role,
		Scopes:     cfg.Gateway.Scopes,
		AuthToken:  cfg.Gateway.Token,
	}, idp), nil
}

// connectClient dials with a bounded wait so commands fail fast when the
// gateway is down.
func connectClient(ctx context.Context, client *gateway.Client) error {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Gateway.URL, err)
	}
	return nil
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: ~/.clawlinerc)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "Gateway WebSocket URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for the connect handshake (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file (rotated)")
}
