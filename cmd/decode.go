// Package cmd provides command-line interface for capture decoding.
// This file contains the command that decodes a single capture file and
// prints the sector map without attempting any correction.
package cmd

import (
	"fmt"

	"github.com/hansbonini/fluxtools/pkg"
	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
	"github.com/hansbonini/fluxtools/pkg/fluxfile"
	"github.com/hansbonini/fluxtools/pkg/profile"
	"github.com/spf13/cobra"
)

// decodeCmd decodes one capture file and prints the per-revolution sector
// map. No fusion or correction is attempted; this is the quick look at
// what a capture contains.
var decodeCmd = &cobra.Command{
	Use:   "decode [input_file]",
	Short: "Decode a flux capture and print its sector map",
	Long: `Decode a flux capture file and print the sectors found on each
revolution, without fusion or correction.

Example:
  fluxtools decode track00.flx
  fluxtools decode -v --profile amiga.toml track00.flx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputFile := args[0]

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
		prof, err := profile.Load(profilePath)
		if err != nil {
			return err
		}
		cfg, err := prof.RecoveryConfig()
		if err != nil {
			return err
		}

		capture, err := fluxfile.ReadFile(inputFile)
		if err != nil {
			return err
		}
		fmt.Printf("Capture: cylinder %d head %d, %d revolution(s)\n",
			capture.Cylinder, capture.Head, len(capture.Revolutions))

		for rev, rawCapture := range capture.Revolutions {
			bs := flux.DecodeFlux(rawCapture, cfg.PLL)
			common.LogDebug(common.DebugTimingRecovery,
				rev, len(rawCapture.Timestamps), bs.Length, bs.Dropped, bs.BitcellNs)

			enc := cfg.Decoder.Encoding
			if enc == flux.EncodingUnknown {
				enc = flux.DetectEncoding(bs)
			}
			dcfg := cfg.Decoder
			dcfg.Encoding = enc

			var tr *flux.TrackDecodeResult
			switch enc {
			case flux.EncodingAmiga:
				tr = flux.DecodeAmigaTrack(bs, dcfg)
			case flux.EncodingMFM:
				tr = flux.DecodeTrackBits(bs, dcfg)
			case flux.EncodingUnknown:
				common.LogWarn(common.WarnEncodingUnknown)
				continue
			default:
				common.LogWarn(common.WarnNoBitstreamDecoder, enc)
				continue
			}

			fmt.Printf("Revolution %d (%s): %d sectors, %d verified\n",
				rev, enc, tr.Stats.SectorsFound, tr.Stats.SectorsCRCOK)
			for i := range tr.Sectors {
				sec := &tr.Sectors[i]
				status := "ok"
				if !sec.Valid {
					status = pkg.FlagString(sec.Flags)
				}
				fmt.Printf("  C%d/H%d/S%-2d %4d bytes  %s\n",
					sec.ID.Cylinder, sec.ID.Head, sec.ID.Sector, len(sec.Bytes), status)
			}
		}
		return nil
	},
}

// init initializes the decode command with its flags.
func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().BoolP("verbose", "v", false, "Enable verbose output (show debug messages)")
	decodeCmd.Flags().String("profile", "", "Path to a TOML decode profile")
}
