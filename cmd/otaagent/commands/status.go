package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetware/otaagent/internal/config"
	"github.com/fleetware/otaagent/pkg/errors"
	"github.com/fleetware/otaagent/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted image state and job history",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := store.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "store init failed")
	}
	defer repo.Close()

	state, jobID, version, err := repo.ImageState()
	if err != nil {
		return errors.Wrap(err, "image state read failed")
	}
	if jobID == "" {
		jobID = "-"
	}
	if version == "" {
		version = "-"
	}
	fmt.Printf("Image state: %s (job: %s, version: %s)\n\n", state, jobID, version)

	jobs, err := repo.ListJobs()
	if err != nil {
		return errors.Wrap(err, "job list failed")
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs recorded")
		return nil
	}

	fmt.Printf("%-30s %-12s %-12s %-24s %s\n", "JOB ID", "STATUS", "VERSION", "UPDATED", "DETAIL")
	fmt.Println("----------------------------------------------------------------------------------------------------")

	for _, j := range jobs {
		version := j.Version
		if version == "" {
			version = "-"
		}
		detail := j.ErrorMessage
		if detail == "" {
			detail = "-"
		}
		fmt.Printf("%-30s %-12s %-12s %-24s %s\n",
			j.JobID, j.Status, version, j.UpdatedAt, detail)
	}

	return nil
}
