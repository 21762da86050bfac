package flux

import "math"

// Nominal bitcell widths for common MFM data rates, in nanoseconds.
const (
	BitcellMFMDD = 2000.0 // 250 kbps double density
	BitcellMFMHD = 1000.0 // 500 kbps high density
	BitcellFMSD  = 4000.0 // 125 kbps single density FM
)

// PLLConfig tunes the adaptive bitcell estimator used for timing recovery.
type PLLConfig struct {
	// NominalBitcellNs seeds the bitcell estimate.
	NominalBitcellNs float64
	// MinBitcellNs and MaxBitcellNs clamp the running estimate.
	MinBitcellNs float64
	MaxBitcellNs float64
	// FeedbackGain scales the per-cell timing error fed back into the
	// estimate (typical 0.05).
	FeedbackGain float64
	// MaxRunLength caps the number of bitcells attributed to a single
	// flux interval.
	MaxRunLength int
	// WeakThreshold marks bits of a run weak when the normalized timing
	// error of the interval exceeds this fraction of a bitcell.
	WeakThreshold float64
}

// DefaultPLLConfig returns the tuning for 250 kbps MFM (DD).
func DefaultPLLConfig() PLLConfig {
	return PLLConfig{
		NominalBitcellNs: BitcellMFMDD,
		MinBitcellNs:     BitcellMFMDD * 0.70,
		MaxBitcellNs:     BitcellMFMDD * 1.30,
		FeedbackGain:     0.05,
		MaxRunLength:     5,
		WeakThreshold:    0.3,
	}
}

// PLLConfigForBitcell returns a config seeded to an arbitrary bitcell width
// with the default tolerance window and gain.
func PLLConfigForBitcell(ns float64) PLLConfig {
	cfg := DefaultPLLConfig()
	cfg.NominalBitcellNs = ns
	cfg.MinBitcellNs = ns * 0.70
	cfg.MaxBitcellNs = ns * 1.30
	return cfg
}

// DecodeFlux converts a flux capture into a bitstream. Each inter-transition
// interval is quantized to a run of bitcells against the running estimate,
// emitting (run-1) zero bits followed by a one bit. The estimate is nudged
// by the per-cell timing error scaled by the feedback gain and clamped to
// the configured window. Intervals that are non-positive or shorter than a
// quarter bitcell are counted as dropped and skipped.
//
// A capture with fewer than two timestamps yields an empty bitstream; no
// error is ever returned for malformed input.
func DecodeFlux(capture *FluxCapture, cfg PLLConfig) *BitStream {
	if cfg.MaxRunLength < 1 {
		cfg.MaxRunLength = 1
	}
	bitcell := cfg.NominalBitcellNs
	if bitcell <= 0 {
		bitcell = BitcellMFMDD
	}

	var n int
	if capture != nil {
		n = len(capture.Timestamps)
	}
	capacity := 0
	if n >= 2 {
		capacity = (n - 1) * cfg.MaxRunLength
	}
	bs := NewBitStream(capacity)
	bs.BitcellNs = bitcell
	if n < 2 {
		return bs
	}

	ts := capture.Timestamps
	for i := 1; i < n && bs.Length < capacity; i++ {
		delta := float64(ts[i] - ts[i-1])
		if delta <= 0 || delta < bitcell/4 {
			bs.Dropped++
			continue
		}

		run := int(delta/bitcell + 0.5)
		if run < 1 {
			run = 1
		}
		if run > cfg.MaxRunLength {
			run = cfg.MaxRunLength
		}

		errNs := delta - float64(run)*bitcell
		weak := cfg.WeakThreshold > 0 && math.Abs(errNs)/bitcell > cfg.WeakThreshold

		for c := 0; c < run-1 && bs.Length < capacity; c++ {
			if weak {
				bs.markWeak(bs.Length)
			}
			bs.Length++
		}
		if bs.Length < capacity {
			bs.setBit(bs.Length, 1)
			if weak {
				bs.markWeak(bs.Length)
			}
			bs.Length++
		}

		perCell := errNs / float64(run)
		bitcell += perCell * cfg.FeedbackGain
		if cfg.MinBitcellNs > 0 && bitcell < cfg.MinBitcellNs {
			bitcell = cfg.MinBitcellNs
		}
		if cfg.MaxBitcellNs > 0 && bitcell > cfg.MaxBitcellNs {
			bitcell = cfg.MaxBitcellNs
		}
	}

	bs.BitcellNs = bitcell
	return bs
}
