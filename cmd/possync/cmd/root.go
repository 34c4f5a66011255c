// Package cmd implements the possync operator CLI.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arteapos/possync/logging"
)

var (
	cfgFile  string
	stateDir string
	server   string
	debug    bool

	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "possync",
	Short: "possync keeps point-of-sale devices on one shared snapshot",
	Long: `possync synchronizes the local point-of-sale snapshot with the shared
remote document. Devices work fully offline; a sync pulls the remote state,
merges it with local edits and pushes the result back under an optimistic
revision check, so no device ever overwrites another blindly.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	// A .env next to the working directory is convenient for shop machines.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(filepath.Join(home, ".possync"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("POSSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("remote", "http")
	viper.SetDefault("server_address", "http://localhost:8080")
	viper.SetDefault("s3_region", "us-east-1")
	viper.SetDefault("strict", false)
	viper.SetDefault("max_push_attempts", 5)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if stateDir == "" {
		stateDir = viper.GetString("state_dir")
	}
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		stateDir = filepath.Join(home, ".possync")
	}
	if server != "" {
		viper.Set("server_address", server)
	}

	level := "info"
	if debug {
		level = "debug"
	}
	log = logging.New(logging.Config{Level: level, Format: "text"}, os.Stderr)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.possync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory holding the local snapshot state")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "snapshot server URL")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
