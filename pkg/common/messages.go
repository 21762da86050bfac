package common

import (
	"fmt"
	"log"
)

// Global variable to control debug output
var VerboseMode bool = false

// SetVerboseMode enables or disables verbose/debug output
func SetVerboseMode(verbose bool) {
	VerboseMode = verbose
}

// Error messages
const (
	ErrFailedToOpenCapture      = "failed to open capture file"
	ErrFailedToReadCapture      = "failed to read capture file"
	ErrFailedToWriteCapture     = "failed to write capture file"
	ErrFailedToParseCapture     = "failed to parse capture file"
	ErrFailedToLoadProfile      = "failed to load decode profile"
	ErrFailedToParseTOML        = "failed to parse TOML"
	ErrFailedToRecoverTrack     = "failed to recover track"
	ErrFailedToCreateOutputFile = "failed to create output file"
	ErrFailedToWriteReport      = "failed to write report"
	ErrFailedToMarshalYAML      = "failed to marshal YAML"
	ErrFailedToOpenAuditDB      = "failed to open audit database"
	ErrFailedToRecordAudit      = "failed to record audit entry"
	ErrFailedToWatchDirectory   = "failed to watch directory"
	ErrInvalidCaptureMagic      = "invalid capture file magic"
	ErrCaptureTruncated         = "capture file is truncated"
	ErrNoRevolutions            = "capture file contains no revolutions"
)

// Info messages
const (
	InfoCaptureLoaded        = "Capture loaded: cylinder %d head %d, %d revolution(s)"
	InfoEncodingDetected     = "Encoding detected: %s"
	InfoTrackRecovered       = "Track C%d/H%d recovered: %d sectors, %d verified"
	InfoSectorCorrected      = "Sector C%d/H%d/S%d corrected (%d bit flips)"
	InfoReportWritten        = "Report written to %s"
	InfoCaptureWritten       = "Capture written to %s (%d revolutions)"
	InfoAuditRunRecorded     = "Audit run %d recorded with %d diagnosis entries"
	InfoWatchingDirectory    = "Watching %s for new capture files"
	InfoProcessingNewCapture = "Processing new capture: %s"
)

// Debug messages
const (
	DebugTimingRecovery   = "Revolution %d: %d transitions -> %d bits (%d dropped, bitcell %.1fns)"
	DebugSyncFound        = "Sync at bit %d (distance %d, confidence %.3f)"
	DebugSectorDecoded    = "Sector C%d/H%d/S%d: flags %#04x, confidence %.2f"
	DebugFusionResult     = "Fusion of %d revolutions: %d weak bits, %d ties"
	DebugCorrectionTried  = "Correction attempt on C%d/H%d/S%d with budget %d bit(s)"
	DebugProfileDefaulted = "Profile field %s not set, using default %v"
)

// Warning messages
const (
	WarnSectorUnrecoverable = "Sector C%d/H%d/S%d unrecoverable (flags %#04x)"
	WarnWeakBitsDetected    = "Track C%d/H%d: %d weak bits detected across revolutions"
	WarnEncodingUnknown     = "Could not detect track encoding; no sync patterns found"
	WarnNoBitstreamDecoder  = "No raw-bitstream structure decoder for %s; FM records decode from demodulated bytes only"
	WarnDuplicateSectorID   = "Duplicate sector ID C%d/H%d/S%d on the same track"
	WarnRevolutionSkipped   = "Revolution %d skipped: %v"
)

// LogInfo logs an informational message
func LogInfo(message string, args ...interface{}) {
	if len(args) > 0 {
		log.Printf("[INFO] "+message, args...)
	} else {
		log.Printf("[INFO] %s", message)
	}
}

// LogWarn logs a warning message
func LogWarn(message string, args ...interface{}) {
	if len(args) > 0 {
		log.Printf("[WARN] "+message, args...)
	} else {
		log.Printf("[WARN] %s", message)
	}
}

// LogError logs an error message
func LogError(message string, args ...interface{}) {
	if len(args) > 0 {
		log.Printf("[ERROR] "+message, args...)
	} else {
		log.Printf("[ERROR] %s", message)
	}
}

// LogDebug logs a debug message (only if VerboseMode is enabled)
func LogDebug(message string, args ...interface{}) {
	if !VerboseMode {
		return
	}
	if len(args) > 0 {
		log.Printf("[DEBUG] "+message, args...)
	} else {
		log.Printf("[DEBUG] %s", message)
	}
}

// FormatError creates a formatted error with additional context
func FormatError(baseMessage string, details interface{}) error {
	if err, ok := details.(error); ok {
		return fmt.Errorf("%s: %w", baseMessage, err)
	}
	return fmt.Errorf("%s: %v", baseMessage, details)
}

// FormatErrorString creates a formatted error with string details
func FormatErrorString(baseMessage, details string, args ...interface{}) error {
	if len(args) > 0 {
		return fmt.Errorf("%s: "+details, append([]interface{}{baseMessage}, args...)...)
	}
	return fmt.Errorf("%s: %s", baseMessage, details)
}
