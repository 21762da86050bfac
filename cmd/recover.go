// Package cmd provides command-line interface for track recovery.
// This file contains the command that runs the full diagnosis pipeline
// over a capture and writes recovered sectors, a YAML report and an
// optional SQLite audit record.
package cmd

import (
	"fmt"

	"github.com/hansbonini/fluxtools/pkg"
	"github.com/hansbonini/fluxtools/pkg/audit"
	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
	"github.com/hansbonini/fluxtools/pkg/fluxfile"
	"github.com/hansbonini/fluxtools/pkg/profile"
	"github.com/spf13/cobra"
)

// recoverCmd runs the full recovery pipeline on one capture file: timing
// recovery on every revolution, structure decoding, fusion, bounded CRC
// correction and validation, then exports the verified sectors.
var recoverCmd = &cobra.Command{
	Use:   "recover [input_file] [output_directory]",
	Short: "Recover sector data from a flux capture",
	Long: `Recover sector data from a flux capture file.

This command will:
- Run timing recovery over every revolution in the capture
- Decode the sector structure of each revolution
- Fuse revolutions and attempt bounded CRC correction on failed sectors
- Write verified sector payloads to the output directory
- Optionally write a YAML report and record the run in an audit database

Example:
  fluxtools recover track00.flx ./output/
  fluxtools recover --report report.yaml --audit-db audit.db track00.flx ./output/`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputFile := args[0]
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
		reportPath, err := cmd.Flags().GetString("report")
		if err != nil {
			return fmt.Errorf("error getting report flag: %w", err)
		}
		auditPath, err := cmd.Flags().GetString("audit-db")
		if err != nil {
			return fmt.Errorf("error getting audit-db flag: %w", err)
		}
		maxCorrect, err := cmd.Flags().GetInt("max-correct")
		if err != nil {
			return fmt.Errorf("error getting max-correct flag: %w", err)
		}

		prof, err := profile.Load(profilePath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-correct") {
			prof.Correction.MaxBits = maxCorrect
			if err := prof.Validate(); err != nil {
				return err
			}
		}
		cfg, err := prof.RecoveryConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Processing capture file: %s\n", inputFile)
		fmt.Printf("Output directory: %s\n", outputDir)

		capture, err := fluxfile.ReadFile(inputFile)
		if err != nil {
			return err
		}
		common.LogInfo(common.InfoCaptureLoaded,
			capture.Cylinder, capture.Head, len(capture.Revolutions))

		result, err := flux.RecoverTrack(capture.Revolutions, cfg)
		if err != nil {
			return common.FormatError(common.ErrFailedToRecoverTrack, err)
		}
		common.LogInfo(common.InfoTrackRecovered,
			result.Cylinder, result.Head,
			result.Stats.SectorsFound, result.Stats.SectorsCRCOK)

		exporter := pkg.NewRecoveryReportExporter()
		written, err := exporter.ExportSectors(result, outputDir)
		if err != nil {
			return err
		}
		fmt.Printf("Recovered %d sector(s) to %s\n", written, outputDir)

		if reportPath != "" {
			if err := exporter.ExportYAML(result, reportPath); err != nil {
				return err
			}
			fmt.Printf("- Report saved to: %s\n", reportPath)
		}

		if auditPath != "" {
			db, err := audit.Open(auditPath)
			if err != nil {
				return err
			}
			defer db.Close()
			runID, err := db.RecordRun(inputFile, result)
			if err != nil {
				return err
			}
			common.LogInfo(common.InfoAuditRunRecorded, runID, len(result.Diagnosis))
		}

		fmt.Println("Capture processed successfully!")
		return nil
	},
}

// init initializes the recover command with its flags.
func init() {
	rootCmd.AddCommand(recoverCmd)

	recoverCmd.Flags().BoolP("verbose", "v", false, "Enable verbose output (show debug messages)")
	recoverCmd.Flags().String("profile", "", "Path to a TOML decode profile")
	recoverCmd.Flags().String("report", "", "Write a YAML recovery report to this path")
	recoverCmd.Flags().String("audit-db", "", "Record the run in this SQLite audit database")
	recoverCmd.Flags().Int("max-correct", 1, "Maximum CRC correction bits (0 disables correction)")
}
