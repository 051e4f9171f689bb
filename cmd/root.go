package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hostsentry/hostsentry/internal/policy"
	"github.com/hostsentry/hostsentry/internal/signature"
)

var (
	cfgFile   string
	levelFlag string
	modeFlag  string
	verbose   bool
	debug     bool
	dbPath    string
	redisURL  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hostsentry",
	Short: "Host security monitoring and response engine",
	Long: `HostSentry watches a host with concurrent file, process, network, and
resource monitors, matches observations against a threat-signature store,
and applies the remediation the configured protection mode permits.

Features:
- File integrity monitoring (fsnotify with polling fallback)
- Process and socket snapshot diffing
- Signature store with deny-lists and remote updates
- Policy-gated response: log, quarantine, terminate, flag
- SQLite incident log with retention cleanup
- Optional Redis Streams incident publishing`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (INI; default is ./hostsentry.conf)")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "level", "standard", "Security level (minimal, standard, high, paranoid, lockdown)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "detection", "Protection mode (monitoring, detection, prevention, quarantine, isolation)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug output (implies --verbose)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/hostsentry.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL for incident publishing (optional)")

	// Bind flags to viper
	viper.BindPFlag("general.security_level", rootCmd.PersistentFlags().Lookup("level"))
	viper.BindPFlag("general.protection_mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("general.database_path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("advanced.redis_url", rootCmd.PersistentFlags().Lookup("redis"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("ini")
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hostsentry")
		viper.SetConfigType("ini")
		viper.SetConfigName("hostsentry")
	}

	viper.AutomaticEnv()

	// Unknown keys in the file are simply never read; missing keys fall
	// back to these defaults.
	viper.SetDefault("general.security_level", "standard")
	viper.SetDefault("general.protection_mode", "detection")
	viper.SetDefault("general.database_path", "./data/hostsentry.db")
	viper.SetDefault("general.signature_file", "./data/signatures.json")
	viper.SetDefault("monitoring.watch_dirs", "/tmp,/var/tmp")
	viper.SetDefault("monitoring.file_interval", "10s")
	viper.SetDefault("monitoring.process_interval", "5s")
	viper.SetDefault("monitoring.network_interval", "15s")
	viper.SetDefault("monitoring.memory_interval", "30s")
	viper.SetDefault("monitoring.suspicious_ports", "4444,5555,6666,6667,31337")
	viper.SetDefault("detection.dedup_window", "30s")
	viper.SetDefault("detection.cpu_threshold", 90.0)
	viper.SetDefault("detection.mem_threshold", 90.0)
	viper.SetDefault("detection.network_cooldown", "5m")
	viper.SetDefault("prevention.quarantine_dir", "./data/quarantine")
	viper.SetDefault("response.terminate_grace", "2s")
	viper.SetDefault("response.sandbox_timeout", "60s")
	viper.SetDefault("compliance.retention_days", 30)
	viper.SetDefault("compliance.cleanup_interval", "1h")
	viper.SetDefault("advanced.redis_url", "")
	viper.SetDefault("advanced.update_url", "")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// Config is the resolved application configuration.
type Config struct {
	General    GeneralConfig
	Monitoring MonitoringConfig
	Detection  DetectionConfig
	Prevention PreventionConfig
	Response   ResponseConfig
	Compliance ComplianceConfig
	Advanced   AdvancedConfig
}

type GeneralConfig struct {
	Level         policy.Level
	Mode          policy.Mode
	DatabasePath  string
	SignatureFile string
}

type MonitoringConfig struct {
	WatchDirs       []string
	FileInterval    time.Duration
	ProcessInterval time.Duration
	NetworkInterval time.Duration
	MemoryInterval  time.Duration
	SuspiciousPorts []uint32
}

type DetectionConfig struct {
	DedupWindow     time.Duration
	CPUThreshold    float64
	MemThreshold    float64
	NetworkCooldown time.Duration
}

type PreventionConfig struct {
	QuarantineDir string
}

type ResponseConfig struct {
	TerminateGrace time.Duration
	SandboxTimeout time.Duration
}

type ComplianceConfig struct {
	RetentionDays   int
	CleanupInterval time.Duration
}

type AdvancedConfig struct {
	RedisURL  string
	UpdateURL string
}

// GetConfig resolves the current configuration. An invalid security level or
// protection mode is a fatal startup error.
func GetConfig() (Config, error) {
	level, err := policy.ParseLevel(viper.GetString("general.security_level"))
	if err != nil {
		return Config{}, err
	}
	mode, err := policy.ParseMode(viper.GetString("general.protection_mode"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		General: GeneralConfig{
			Level:         level,
			Mode:          mode,
			DatabasePath:  viper.GetString("general.database_path"),
			SignatureFile: viper.GetString("general.signature_file"),
		},
		Monitoring: MonitoringConfig{
			WatchDirs:       splitList(viper.GetString("monitoring.watch_dirs")),
			FileInterval:    viper.GetDuration("monitoring.file_interval"),
			ProcessInterval: viper.GetDuration("monitoring.process_interval"),
			NetworkInterval: viper.GetDuration("monitoring.network_interval"),
			MemoryInterval:  viper.GetDuration("monitoring.memory_interval"),
			SuspiciousPorts: parsePorts(viper.GetString("monitoring.suspicious_ports")),
		},
		Detection: DetectionConfig{
			DedupWindow:     viper.GetDuration("detection.dedup_window"),
			CPUThreshold:    viper.GetFloat64("detection.cpu_threshold"),
			MemThreshold:    viper.GetFloat64("detection.mem_threshold"),
			NetworkCooldown: viper.GetDuration("detection.network_cooldown"),
		},
		Prevention: PreventionConfig{
			QuarantineDir: viper.GetString("prevention.quarantine_dir"),
		},
		Response: ResponseConfig{
			TerminateGrace: viper.GetDuration("response.terminate_grace"),
			SandboxTimeout: viper.GetDuration("response.sandbox_timeout"),
		},
		Compliance: ComplianceConfig{
			RetentionDays:   viper.GetInt("compliance.retention_days"),
			CleanupInterval: viper.GetDuration("compliance.cleanup_interval"),
		},
		Advanced: AdvancedConfig{
			RedisURL:  viper.GetString("advanced.redis_url"),
			UpdateURL: viper.GetString("advanced.update_url"),
		},
	}, nil
}

// loadSignatures loads the builtin signature set, then prefers a previously
// fetched local set when one exists and validates. A corrupt builtin set is
// fatal; a corrupt local set only logs a warning.
func loadSignatures(cfg Config, logger *log.Logger) (*signature.Store, error) {
	if path := cfg.General.SignatureFile; path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if st, err := signature.LoadFrom(data, logger); err == nil {
				return st, nil
			} else {
				logger.Printf("local signature file %s invalid, using builtin set: %v", path, err)
			}
		}
	}
	return signature.Load(logger)
}

// newLogger returns a component logger. Without --verbose the component
// chatter is discarded; fatal errors still reach the user through the
// command's error return, and incidents land in the store regardless.
func newLogger(prefix string) *log.Logger {
	if !verbose && !debug {
		return log.New(io.Discard, prefix, log.LstdFlags)
	}
	flags := log.LstdFlags
	if debug {
		flags |= log.Lshortfile
	}
	return log.New(os.Stderr, prefix, flags)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePorts(s string) []uint32 {
	var out []uint32
	for _, part := range splitList(s) {
		var p uint32
		if _, err := fmt.Sscanf(part, "%d", &p); err == nil && p > 0 && p < 65536 {
			out = append(out, p)
		}
	}
	return out
}
