package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pemexe/pem/internal/log"
	"github.com/pemexe/pem/internal/model"
)

var (
	userConfigPath string // /default/config/path/pem on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "pem")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is pem.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initPem

	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("pem failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "pem",
	Short:        "Run python scripts and projects in isolated uv environments",
	SilenceUsage: true,
}

func initPem(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("PEMCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "pem.yaml")
			if fileExists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "pem.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d)
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	applyEnvOverrides(&config)

	// --verbose has a precedence over config file
	verbose := flagVerbose
	if config.Service.Verbose != nil && *config.Service.Verbose {
		verbose = true
	}
	slog.SetDefault(log.New(verbose))

	slog.Debug("pem run", "configPath", configPath)
	slog.Debug("pem run", "config", config)
	return nil
}

// applyEnvOverrides lets PEM_* environment variables win over the config
// file, so the generated service units can relocate state without editing
// the file.
func applyEnvOverrides(cfg *model.Config) {
	v := viper.New()
	v.SetEnvPrefix("PEM")
	v.AutomaticEnv()

	if s := v.GetString("LOGS_DIR"); s != "" {
		cfg.LogsDir = &s
	}
	if s := v.GetString("DATABASE"); s != "" {
		cfg.Database = &s
	}
	if n := v.GetInt("MAX_CONCURRENT"); n > 0 {
		cfg.Executor.MaxConcurrent = n
	}
	if s := v.GetString("TIMEOUT"); s != "" {
		cfg.Executor.Timeout = s
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
