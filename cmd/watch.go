// Package cmd provides command-line interface for capture watching.
// This file contains the command that watches a directory and runs the
// recovery pipeline on every capture file dropped into it.
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/hansbonini/fluxtools/pkg"
	"github.com/hansbonini/fluxtools/pkg/audit"
	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
	"github.com/hansbonini/fluxtools/pkg/fluxfile"
	"github.com/hansbonini/fluxtools/pkg/profile"
	"github.com/spf13/cobra"
)

// watchCmd watches a directory for new capture files and recovers each
// one as it appears. Intended for use next to an imaging station that
// writes one capture file per track.
var watchCmd = &cobra.Command{
	Use:   "watch [watch_directory] [output_directory]",
	Short: "Watch a directory and recover captures as they appear",
	Long: `Watch a directory for new flux capture files and run the recovery
pipeline on each one as it is written.

Files are matched by extension (.flx or .flx.zst). Recovered sectors go
to a per-capture subdirectory of the output directory.

Example:
  fluxtools watch ./captures ./output/
  fluxtools watch --audit-db audit.db ./captures ./output/`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		watchDir := args[0]
		outputDir := args[1]

		// Enable verbose mode if requested
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return fmt.Errorf("error getting verbose flag: %w", err)
		}
		common.SetVerboseMode(verbose)

		profilePath, err := cmd.Flags().GetString("profile")
		if err != nil {
			return fmt.Errorf("error getting profile flag: %w", err)
		}
		auditPath, err := cmd.Flags().GetString("audit-db")
		if err != nil {
			return fmt.Errorf("error getting audit-db flag: %w", err)
		}

		prof, err := profile.Load(profilePath)
		if err != nil {
			return err
		}
		cfg, err := prof.RecoveryConfig()
		if err != nil {
			return err
		}

		var db *audit.DB
		if auditPath != "" {
			db, err = audit.Open(auditPath)
			if err != nil {
				return err
			}
			defer db.Close()
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return common.FormatError(common.ErrFailedToWatchDirectory, err)
		}
		defer watcher.Close()

		if err := watcher.Add(watchDir); err != nil {
			return common.FormatError(common.ErrFailedToWatchDirectory, err)
		}
		common.LogInfo(common.InfoWatchingDirectory, watchDir)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				// Process on the write/create edge of a capture file.
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if !isCaptureName(event.Name) {
					continue
				}
				if err := recoverCapture(event.Name, outputDir, cfg, db); err != nil {
					common.LogError("%s: %v", event.Name, err)
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				common.LogWarn("watcher error: %v", watchErr)
			}
		}
	},
}

// isCaptureName matches the file extensions the watcher reacts to.
func isCaptureName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".flx") || strings.HasSuffix(lower, ".flx.zst")
}

// recoverCapture runs the pipeline on one file and exports the results
// into a subdirectory named after the capture.
func recoverCapture(path, outputDir string, cfg flux.RecoveryConfig, db *audit.DB) error {
	common.LogInfo(common.InfoProcessingNewCapture, path)

	capture, err := fluxfile.ReadFile(path)
	if err != nil {
		return err
	}
	result, err := flux.RecoverTrack(capture.Revolutions, cfg)
	if err != nil {
		return common.FormatError(common.ErrFailedToRecoverTrack, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.TrimSuffix(base, ".flx")
	target := filepath.Join(outputDir, base)

	exporter := pkg.NewRecoveryReportExporter()
	written, err := exporter.ExportSectors(result, target)
	if err != nil {
		return err
	}
	if err := exporter.ExportYAML(result, filepath.Join(target, "report.yaml")); err != nil {
		return err
	}
	common.LogInfo(common.InfoTrackRecovered,
		result.Cylinder, result.Head, result.Stats.SectorsFound, result.Stats.SectorsCRCOK)
	common.LogDebug("wrote %d sector file(s) under %s", written, target)

	if db != nil {
		if _, err := db.RecordRun(path, result); err != nil {
			return err
		}
	}
	return nil
}

// init initializes the watch command with its flags.
func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolP("verbose", "v", false, "Enable verbose output (show debug messages)")
	watchCmd.Flags().String("profile", "", "Path to a TOML decode profile")
	watchCmd.Flags().String("audit-db", "", "Record each run in this SQLite audit database")
}
