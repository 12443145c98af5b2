package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/comfyflow/agentmode/pkg/config"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// SetupGlobalConfig loads the env file and the configuration, configures
// logging, and attaches both to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sources := []config.Source{config.NewDefaultProvider()}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)
	sources = append(sources, config.NewEnvProvider(), config.NewCLIProvider(flags))
	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, cfg.Runtime.LogSource); err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	ctx = config.ContextWithManager(ctx, manager)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	cmd.SetContext(ctx)
	return nil
}

func extractCLIFlags(cmd *cobra.Command, flags map[string]any) {
	addFlag := func(flagName string, getter func(string) (any, error)) {
		if cmd.Flags().Changed(flagName) {
			if value, err := getter(flagName); err == nil {
				flags[flagName] = value
			}
		}
	}
	getString := func(name string) (any, error) { return cmd.Flags().GetString(name) }
	getInt := func(name string) (any, error) { return cmd.Flags().GetInt(name) }
	getBool := func(name string) (any, error) { return cmd.Flags().GetBool(name) }

	flagDefs := []struct {
		flagName string
		getter   func(string) (any, error)
	}{
		{"host", getString},
		{"port", getInt},
		{"model", getString},
		{"base-url", getString},
		{"language", getString},
		{"comfyui", getString},
		{"log-level", getString},
		{"log-json", getBool},
		{"log-source", getBool},
	}
	for _, def := range flagDefs {
		if cmd.Flags().Lookup(def.flagName) == nil {
			continue
		}
		addFlag(def.flagName, def.getter)
	}
}

// loadEnvFile loads the env file when it exists. A missing file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return nil
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return fmt.Errorf("failed to resolve env file path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	if err := godotenv.Load(absPath); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", absPath, err)
	}
	return nil
}
