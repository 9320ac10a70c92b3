package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "otaagent",
	Short: "Firmware OTA update agent",
	Long:  `Acquires firmware update jobs, downloads image blocks, verifies signatures, and manages the self-test/commit/rollback lifecycle.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("device-id", "", "Device identity reported to the job service")
	rootCmd.PersistentFlags().String("firmware-version", "0.0.0", "Running firmware version")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/otaagent.db", "SQLite database path")
	rootCmd.PersistentFlags().String("work-dir", "/var/lib/otaagent", "Image staging directory")
	rootCmd.PersistentFlags().String("cert-dir", "/etc/otaagent/certs", "Signer certificate directory")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for the data plane")
	rootCmd.PersistentFlags().String("data-protocol", "stream", "Preferred data protocol (stream, http, s3)")
	rootCmd.PersistentFlags().Uint32("max-momentum", 32, "Max unanswered requests before aborting")
	rootCmd.PersistentFlags().Uint32("request-width", 8, "Blocks requested per cycle")
	rootCmd.PersistentFlags().Duration("request-timeout", 10*time.Second, "Initial request retry interval")
	rootCmd.PersistentFlags().Duration("self-test-timeout", 16*time.Minute, "Self-test acceptance window")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Prometheus listen address (empty disables)")

	viper.BindPFlag("device-id", rootCmd.PersistentFlags().Lookup("device-id"))
	viper.BindPFlag("firmware-version", rootCmd.PersistentFlags().Lookup("firmware-version"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("cert-dir", rootCmd.PersistentFlags().Lookup("cert-dir"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("data-protocol", rootCmd.PersistentFlags().Lookup("data-protocol"))
	viper.BindPFlag("max-momentum", rootCmd.PersistentFlags().Lookup("max-momentum"))
	viper.BindPFlag("request-width", rootCmd.PersistentFlags().Lookup("request-width"))
	viper.BindPFlag("request-timeout", rootCmd.PersistentFlags().Lookup("request-timeout"))
	viper.BindPFlag("self-test-timeout", rootCmd.PersistentFlags().Lookup("self-test-timeout"))
	viper.BindPFlag("metrics-addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}
