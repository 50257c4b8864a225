package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bhatti/transform-headers/internal/logging"
	"github.com/bhatti/transform-headers/transformheaders"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "transform-headers",
	Short: "Header transformation gateway",
	Long: `Apply a transform-headers policy to HTTP traffic or Kafka records.

Settings are read from flags, from TRANSFORM_HEADERS_* environment variables
(a .env file is loaded first) and from an optional config file.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./transform-headers.yaml)")
	rootCmd.PersistentFlags().String("policy", "policy.yaml", "policy file (YAML or JSON)")
	rootCmd.PersistentFlags().String("api-id", "", "api id exposed to expressions and logs")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")

	_ = viper.BindPFlag("policy", rootCmd.PersistentFlags().Lookup("policy"))
	_ = viper.BindPFlag("api_id", rootCmd.PersistentFlags().Lookup("api-id"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(newServeCmd(), newRelayCmd(), newValidateCmd())
}

func initConfig() {
	// .env is optional
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("transform-headers")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("TRANSFORM_HEADERS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

func newLogger() (*logrus.Logger, error) {
	return logging.New(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
}

// loadPolicyConfig reads and validates the policy file
func loadPolicyConfig(path string) (*transformheaders.Config, error) {
	config, err := transformheaders.LoadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := transformheaders.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return config, nil
}
