package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/arteapos/possync"
	"github.com/arteapos/possync/transport/httpstore"
	"github.com/arteapos/possync/transport/s3store"
)

// buildRemote constructs the configured RemoteStore.
func buildRemote(ctx context.Context) (possync.RemoteStore, error) {
	switch remote := viper.GetString("remote"); remote {
	case "http":
		var opts []httpstore.Option
		if key := viper.GetString("api_key"); key != "" {
			opts = append(opts, httpstore.WithAPIKey(key))
		}
		return httpstore.NewClient(viper.GetString("server_address"), opts...), nil

	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:          viper.GetString("s3_bucket"),
			Key:             viper.GetString("s3_key"),
			Region:          viper.GetString("s3_region"),
			Endpoint:        viper.GetString("s3_endpoint"),
			AccessKeyID:     viper.GetString("s3_access_key_id"),
			SecretAccessKey: viper.GetString("s3_secret_access_key"),
			UsePathStyle:    viper.GetBool("s3_use_path_style"),
		})

	default:
		return nil, fmt.Errorf("unknown remote %q, want http or s3", remote)
	}
}
