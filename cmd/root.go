// Package cmd provides command-line interface functionality for FluxTools.
// FluxTools is a collection of utilities for recovering sector data from
// raw magnetic-flux captures of floppy disks.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
// It provides the main entry point for the FluxTools application.
var rootCmd = &cobra.Command{
	Use:   "fluxtools",
	Short: "Tools for recovering data from floppy disk flux captures",
	Long: `FluxTools - A collection of utilities for recovering sector data
from raw magnetic-flux captures of floppy disks.

Currently supports:
  - FLX1 capture files (plain or zstd-compressed)
  - IBM FM/MFM and Amiga trackdisk sector formats
  - Multi-revolution fusion and bounded CRC correction
  - YAML recovery reports and a SQLite audit trail

Examples:
  fluxtools decode track00.flx
  fluxtools recover track00.flx ./output/
  fluxtools recover --profile amiga.toml --report report.yaml track00.flx ./output/
  fluxtools watch ./captures ./output/

Use 'fluxtools [command] --help' for more information about a command.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main() and serves as the entry point for command execution.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
