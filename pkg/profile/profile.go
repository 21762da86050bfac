// Package profile loads TOML decode profiles: named parameter sets for
// the recovery pipeline, covering timing recovery, structure decoding,
// correction and fusion.
package profile

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
)

// Profile holds one decode profile as read from TOML.
type Profile struct {
	Name     string `toml:"name"`
	Encoding string `toml:"encoding"`

	Timing     TimingConfig     `toml:"timing"`
	Decoder    DecoderConfig    `toml:"decoder"`
	Correction CorrectionConfig `toml:"correction"`
	Fusion     FusionConfig     `toml:"fusion"`
}

type TimingConfig struct {
	BitcellNs     float64 `toml:"bitcell_ns"`
	FeedbackGain  float64 `toml:"feedback_gain"`
	MaxRunLength  int     `toml:"max_run_length"`
	WeakThreshold float64 `toml:"weak_threshold"`
}

type DecoderConfig struct {
	MaxSectors   int `toml:"max_sectors"`
	MaxSearchGap int `toml:"max_search_gap"`
	SyncHamming  int `toml:"sync_hamming"`
}

type CorrectionConfig struct {
	MaxBits int `toml:"max_bits"`
}

type FusionConfig struct {
	Threshold float64 `toml:"threshold"`
}

// DefaultProfile returns the profile for a double-density MFM disk with
// single-bit correction.
func DefaultProfile() Profile {
	pll := flux.DefaultPLLConfig()
	dec := flux.DefaultDecoderConfig()
	return Profile{
		Name:     "mfm-dd",
		Encoding: "mfm",
		Timing: TimingConfig{
			BitcellNs:     pll.NominalBitcellNs,
			FeedbackGain:  pll.FeedbackGain,
			MaxRunLength:  pll.MaxRunLength,
			WeakThreshold: pll.WeakThreshold,
		},
		Decoder: DecoderConfig{
			MaxSectors:   dec.MaxSectors,
			MaxSearchGap: dec.MaxSearchGap,
			SyncHamming:  dec.SyncHamming,
		},
		Correction: CorrectionConfig{MaxBits: 1},
		Fusion:     FusionConfig{Threshold: flux.DefaultFusionThreshold},
	}
}

// Load reads a profile file, overlaying it on the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	if _, err := os.Stat(path); err != nil {
		return p, common.FormatError(common.ErrFailedToLoadProfile, err)
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return p, common.FormatError(common.ErrFailedToParseTOML, err)
	}
	if err := p.Validate(); err != nil {
		return p, common.FormatError(common.ErrFailedToLoadProfile, err)
	}
	return p, nil
}

// Validate rejects parameter values outside their working ranges.
func (p Profile) Validate() error {
	if _, err := p.EncodingValue(); err != nil {
		return err
	}
	if p.Timing.BitcellNs <= 0 {
		return fmt.Errorf("timing.bitcell_ns must be positive, got %v", p.Timing.BitcellNs)
	}
	if p.Timing.FeedbackGain < 0 || p.Timing.FeedbackGain > 1 {
		return fmt.Errorf("timing.feedback_gain must be in [0,1], got %v", p.Timing.FeedbackGain)
	}
	if p.Timing.MaxRunLength < 1 {
		return fmt.Errorf("timing.max_run_length must be at least 1, got %d", p.Timing.MaxRunLength)
	}
	if p.Decoder.MaxSectors < 1 {
		return fmt.Errorf("decoder.max_sectors must be at least 1, got %d", p.Decoder.MaxSectors)
	}
	if p.Correction.MaxBits < 0 || p.Correction.MaxBits > 2 {
		return fmt.Errorf("correction.max_bits must be 0, 1 or 2, got %d", p.Correction.MaxBits)
	}
	if p.Fusion.Threshold <= 0 || p.Fusion.Threshold > 1 {
		return fmt.Errorf("fusion.threshold must be in (0,1], got %v", p.Fusion.Threshold)
	}
	return nil
}

// EncodingValue maps the profile's encoding name to the decoder enum. An
// empty string means autodetect.
func (p Profile) EncodingValue() (flux.Encoding, error) {
	switch p.Encoding {
	case "", "auto":
		return flux.EncodingUnknown, nil
	case "fm":
		return flux.EncodingFM, nil
	case "mfm":
		return flux.EncodingMFM, nil
	case "amiga":
		return flux.EncodingAmiga, nil
	default:
		return flux.EncodingUnknown, fmt.Errorf("unknown encoding %q", p.Encoding)
	}
}

// RecoveryConfig materializes the profile into pipeline settings.
func (p Profile) RecoveryConfig() (flux.RecoveryConfig, error) {
	enc, err := p.EncodingValue()
	if err != nil {
		return flux.RecoveryConfig{}, err
	}
	pll := flux.PLLConfigForBitcell(p.Timing.BitcellNs)
	pll.FeedbackGain = p.Timing.FeedbackGain
	pll.MaxRunLength = p.Timing.MaxRunLength
	pll.WeakThreshold = p.Timing.WeakThreshold
	return flux.RecoveryConfig{
		PLL: pll,
		Decoder: flux.DecoderConfig{
			Encoding:     enc,
			MaxSectors:   p.Decoder.MaxSectors,
			MaxSearchGap: p.Decoder.MaxSearchGap,
			SyncHamming:  p.Decoder.SyncHamming,
		},
		MaxCorrectionBits: p.Correction.MaxBits,
		FusionThreshold:   p.Fusion.Threshold,
	}, nil
}
