// Package cli provides the command-line interface for the pulsescan
// prober. It implements the Cobra command tree, merges configuration
// from file, PULSESCAN_* environment variables, and flags, and renders
// terminal output around the scanning engine.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsenet/pulsescan/internal/config"
	"github.com/pulsenet/pulsescan/internal/logging"
)

var (
	cfgFile string
	quiet   bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsescan",
	Short: "Rate-limited TCP connect prober",
	Long: `Pulsescan sweeps IPv4 address space with bounded-concurrency,
rate-limited TCP connect probes and reports which (address, port)
pairs answered along with latency statistics. Addresses come from a
random draw, CIDR ranges, or a file; reserved space is never probed.`,
	Version: getVersion(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pulsescan.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress banner, progress, and summary output")

	// Bind flags to viper
	if err := viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind quiet flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search the current directory, then the home dotdir
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".pulsescan"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("pulsescan")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()
	viper.SetEnvPrefix("PULSESCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults for common configuration
	setConfigDefaults()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil && !quiet {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Initialize structured logging after config is loaded
	initLogging()
}

// setConfigDefaults sets default values for configuration.
func setConfigDefaults() {
	// Probing configuration
	viper.SetDefault("scan.count", config.DefaultCount)
	viper.SetDefault("scan.workers", config.DefaultWorkers)
	viper.SetDefault("scan.rate", config.DefaultRate)
	viper.SetDefault("scan.burst", 0)
	viper.SetDefault("scan.timeout_ms", config.DefaultTimeoutMS)
	viper.SetDefault("scan.ports", config.DefaultPorts)
	viper.SetDefault("scan.simulate", false)

	// Output configuration
	viper.SetDefault("output.mode", config.DefaultOutputMode)
	viper.SetDefault("output.format", config.DefaultFormat)
	viper.SetDefault("output.path", config.DefaultOutputPath)

	// Logging configuration
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stderr")

	// Ops endpoint configuration
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.host", config.DefaultAPIHost)
	viper.SetDefault("api.port", config.DefaultAPIPort)
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
// --quiet keeps the terminal clear of everything below errors.
func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		// If config loading fails, use default logging
		logger := logging.NewDefault()
		logging.SetDefault(logger)
		return
	}

	level := cfg.Logging.Level
	if quiet {
		level = "error"
	}

	logConfig := logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.GetLogOutput(),
		AddSource: cfg.Logging.Level == "debug",
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)
}
