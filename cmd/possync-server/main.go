// Command possync-server runs the reference snapshot server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arteapos/possync/logging"
	"github.com/arteapos/possync/server"
	"github.com/arteapos/possync/server/storage"
	"github.com/arteapos/possync/server/storage/pgstore"
	"github.com/arteapos/possync/server/storage/sqlitestore"
)

var rootCmd = &cobra.Command{
	Use:   "possync-server",
	Short: "Serves the shared point-of-sale snapshot over HTTP",
	RunE:  run,
}

func main() {
	_ = godotenv.Load()

	viper.SetEnvPrefix("POSSYNC")
	viper.AutomaticEnv()
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("storage", "sqlite")
	viper.SetDefault("sqlite_path", "possync.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")

	rootCmd.Flags().String("addr", viper.GetString("addr"), "listen address")
	rootCmd.Flags().String("storage", viper.GetString("storage"), "storage backend: memory, sqlite or postgres")
	viper.BindPFlag("addr", rootCmd.Flags().Lookup("addr"))
	viper.BindPFlag("storage", rootCmd.Flags().Lookup("storage"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New(logging.Config{
		Level:  viper.GetString("log_level"),
		Format: viper.GetString("log_format"),
	}, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := server.New(store, server.Config{
		APIKey: viper.GetString("api_key"),
		Logger: log,
	})
	return srv.ListenAndServe(ctx, viper.GetString("addr"))
}

func buildStorage(ctx context.Context) (storage.BlobStorage, error) {
	switch backend := viper.GetString("storage"); backend {
	case "memory":
		return storage.NewMemory(), nil
	case "sqlite":
		return sqlitestore.New(sqlitestore.DefaultConfig("file:" + viper.GetString("sqlite_path")))
	case "postgres":
		return pgstore.New(ctx, viper.GetString("database_url"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
