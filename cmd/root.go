package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/gatekeeper/internal/config"
	"github.com/andresmejia3/gatekeeper/internal/logging"
	"github.com/andresmejia3/gatekeeper/internal/store"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Store is the identity store shared by subcommands
	Store store.Backend
	// cfg is the resolved configuration (defaults, file, env, flags)
	cfg config.Config

	configPath string
	storeDSN   string
	logLevel   string
	logPretty  bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "gatekeeper",
	Short:   "Webcam face recognition access gate",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		flags := cmd.Flags()
		if flags.Changed("store") {
			cfg.Store.DSN = storeDSN
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-pretty") {
			cfg.Log.Pretty = logPretty
		}
		if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}

		Store, err = store.Open(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %w", err)
		}
		utils.AtExit(closeStore)
		return nil
	},
}

// closeStore releases the store on every way out, including failed commands
// and utils.Die.
func closeStore() {
	if Store != nil {
		// The command context may already be cancelled by Ctrl+C.
		Store.Close(context.Background())
		Store = nil
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		utils.Exit(1)
	}
	closeStore()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file")
	pf.StringVar(&storeDSN, "store", "", "Identity store: file path or postgres:// URL (default "+store.DefaultPath+")")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&logPretty, "log-pretty", false, "Human-readable log output")
}
