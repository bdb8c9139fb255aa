package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/app"
	"github.com/ternarybob/harvester/internal/common"
)

// errInterrupted marks a run that stopped on SIGINT/SIGTERM after saving progress
var errInterrupted = errors.New("interrupted")

var (
	configFiles []string
	rootFlags   struct {
		nodeID      int
		totalNodes  int
		logLevel    string
		downloadDir string
		fetchMode   string
		envFile     string
	}

	rootCmd = &cobra.Command{
		Use:           "harvester",
		Short:         "Resumable, distributed course catalog harvester",
		Long:          `Harvester discovers course pages from catalog listings, extracts them to JSON and records progress so interrupted or distributed runs pick up where they left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil && !errors.Is(err, errInterrupted) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringSliceVarP(&configFiles, "config", "c", nil, "configuration file (repeatable, later files override earlier ones; default ./"+common.DefaultConfigFile+")")
	flags.IntVar(&rootFlags.nodeID, "node-id", 0, "this node's index, 0-based (overrides config)")
	flags.IntVar(&rootFlags.totalNodes, "total-nodes", 1, "number of cooperating nodes (overrides config)")
	flags.StringVar(&rootFlags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&rootFlags.downloadDir, "download-dir", "", "output directory (overrides config)")
	flags.StringVar(&rootFlags.fetchMode, "fetch-mode", "", "page fetching: auto, browser or static")
	flags.StringVar(&rootFlags.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(extractCommand())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(resetCommand())
	rootCmd.AddCommand(scheduleCommand())
	rootCmd.AddCommand(versionCommand())
}

// loadConfig resolves configuration: defaults -> files -> env -> flags
func loadConfig(cmd *cobra.Command, overrides common.FlagOverrides) (*common.Config, error) {
	if err := godotenv.Load(rootFlags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", rootFlags.envFile, err)
	}

	paths := configFiles
	if len(paths) == 0 {
		if _, err := os.Stat(common.DefaultConfigFile); err == nil {
			paths = []string{common.DefaultConfigFile}
		}
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		overrides.NodeID = &rootFlags.nodeID
	}
	if flags.Changed("total-nodes") {
		overrides.TotalNodes = &rootFlags.totalNodes
	}
	overrides.LogLevel = rootFlags.logLevel
	overrides.DownloadDir = rootFlags.downloadDir
	overrides.FetchMode = rootFlags.fetchMode
	common.ApplyFlagOverrides(config, overrides)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// newApp loads configuration, sets up logging and builds the application
func newApp(cmd *cobra.Command, overrides common.FlagOverrides, showBanner bool) (*app.App, arbor.ILogger, error) {
	config, err := loadConfig(cmd, overrides)
	if err != nil {
		return nil, nil, err
	}

	logger := common.InitLogger(config, config.Coordinator.NodeID)
	if showBanner {
		common.PrintBanner()
	}

	logger.Debug().
		Strs("config_files", configFiles).
		Str("ledger", config.Storage.Ledger).
		Str("progress", config.Storage.Progress).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")

	application, err := app.New(config, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
