package commands

import (
	"os"
	"path/filepath"

	"github.com/fleetware/otaagent/pkg/errors"
)

// ensureDirectories creates all necessary directories for the agent
func ensureDirectories(sqlitePath, workDir, certDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create staging directory (only needed for run command)
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	// Create certificate directory (only needed for run command)
	if certDir != "" {
		if err := os.MkdirAll(certDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create certificate directory")
		}
	}

	return nil
}
