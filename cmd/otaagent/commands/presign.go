package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetware/otaagent/internal/config"
	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/transport"
)

var presignExpiry time.Duration

var presignCmd = &cobra.Command{
	Use:   "presign s3://bucket/key",
	Short: "Print a presigned GET URL for a firmware object",
	Long:  `Generates a time-limited URL for an s3://bucket/key object, usable as the update_data_url of a job document served over the http data protocol.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "config load failed")
		}

		data, err := transport.NewS3(ctx, cfg.S3Region, cfg.S3Anonymous)
		if err != nil {
			return err
		}

		url, err := data.PresignGet(ctx, args[0], presignExpiry)
		if err != nil {
			return err
		}

		fmt.Println(url)
		return nil
	},
}

func init() {
	presignCmd.Flags().DurationVar(&presignExpiry, "expires", time.Hour, "Presigned URL validity window")
	rootCmd.AddCommand(presignCmd)
}
