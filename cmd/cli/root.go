// Package cli provides the netprobe command line interface.
// It wires configuration, logging, metrics and the ICMP correlator
// around the scanning engine and renders results as reports.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/netprobe/internal/config"
	"github.com/anstrom/netprobe/internal/logging"
)

const envPrefix = "NETPROBE"

var (
	cfgFile     string
	verbose     bool
	metricsAddr string

	// appConfig is loaded once per invocation by the root pre-run hook.
	appConfig *config.Config
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netprobe",
	Short: "Multi-protocol network reachability prober",
	Long: `netprobe probes batches of TCP, UDP and ICMP targets concurrently and
reports for each one whether it answered, timed out or was rejected with an
ICMP error, together with any banner the service sent.`,
	Version:           getVersion(),
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntimeConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./netprobe.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	flags.Int("workers", 0, "concurrent probes per batch")
	flags.Float64("rate-limit", 0, "probe starts per second (0 = unlimited)")
	flags.String("icmp-mode", "", "ICMP socket mode: auto, privileged or unprivileged")
	flags.String("nmap-path", "", "path to the nmap binary for --external")

	bindings := map[string]string{
		"verbose":             "verbose",
		"metrics.listen_addr": "metrics-addr",
		"scanning.workers":    "workers",
		"scanning.rate_limit": "rate-limit",
		"icmp.mode":           "icmp-mode",
		"external.nmap_path":  "nmap-path",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("netprobe")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadRuntimeConfig loads the typed configuration, layers flag and
// environment overrides on top and initialises logging.
func loadRuntimeConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	appConfig = cfg
	initLogging(cfg)
	return nil
}

// applyOverrides copies every key set by a flag or NETPROBE_* variable
// into cfg.
func applyOverrides(cfg *config.Config) {
	ints := map[string]*int{
		"scanning.workers":     &cfg.Scanning.Workers,
		"scanning.max_sockets": &cfg.Scanning.MaxSockets,
		"scanning.banner_size": &cfg.Scanning.BannerSize,
		"external.timing":      &cfg.External.Timing,
	}
	for key, dst := range ints {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}

	durations := map[string]*time.Duration{
		"scanning.connect_timeout": &cfg.Scanning.ConnectTimeout,
		"scanning.banner_timeout":  &cfg.Scanning.BannerTimeout,
		"scanning.probe_timeout":   &cfg.Scanning.ProbeTimeout,
		"scanning.icmp_timeout":    &cfg.Scanning.ICMPTimeout,
		"external.timeout":         &cfg.External.Timeout,
	}
	for key, dst := range durations {
		if viper.IsSet(key) {
			*dst = viper.GetDuration(key)
		}
	}

	strs := map[string]*string{
		"icmp.mode":          &cfg.ICMP.Mode,
		"external.nmap_path": &cfg.External.NmapPath,
		"logging.level":      &cfg.Logging.Level,
		"logging.format":     &cfg.Logging.Format,
		"logging.output":     &cfg.Logging.Output,
	}
	for key, dst := range strs {
		if viper.IsSet(key) && viper.GetString(key) != "" {
			*dst = viper.GetString(key)
		}
	}

	if viper.IsSet("scanning.rate_limit") {
		cfg.Scanning.RateLimit = viper.GetFloat64("scanning.rate_limit")
	}
	if viper.IsSet("icmp.enabled") {
		cfg.ICMP.Enabled = viper.GetBool("icmp.enabled")
	}
	if addr := viper.GetString("metrics.listen_addr"); viper.IsSet("metrics.listen_addr") && addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = addr
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
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
func initLogging(cfg *config.Config) {
	logger, err := logging.New(cfg.LoggingOptions())
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
}
