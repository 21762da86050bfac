// Package pkg provides the export surface of fluxtools: YAML recovery
// reports and recovered sector image files built from pipeline results.
package pkg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
)

// TrackReport is the YAML document describing one recovered track.
type TrackReport struct {
	Cylinder    int    `yaml:"cylinder"`
	Head        int    `yaml:"head"`
	Encoding    string `yaml:"encoding"`
	Revolutions int    `yaml:"revolutions"`

	Stats StatsReport `yaml:"stats"`

	Sectors   []SectorReport    `yaml:"sectors"`
	Diagnosis []DiagnosisReport `yaml:"diagnosis"`
}

// StatsReport summarizes extraction counts for a track.
type StatsReport struct {
	SectorsFound    int     `yaml:"sectors_found"`
	SectorsWithData int     `yaml:"sectors_with_data"`
	SectorsVerified int     `yaml:"sectors_verified"`
	SectorsDeleted  int     `yaml:"sectors_deleted"`
	SectorsWeak     int     `yaml:"sectors_weak"`
	SuccessRate     float64 `yaml:"success_rate"`
}

// SectorReport describes one extracted sector without its payload.
type SectorReport struct {
	Cylinder   int     `yaml:"cylinder"`
	Head       int     `yaml:"head"`
	Sector     int     `yaml:"sector"`
	SizeCode   int     `yaml:"size_code"`
	Length     int     `yaml:"length"`
	Valid      bool    `yaml:"valid"`
	Deleted    bool    `yaml:"deleted,omitempty"`
	Weak       bool    `yaml:"weak,omitempty"`
	Corrected  bool    `yaml:"corrected,omitempty"`
	Flags      string  `yaml:"flags,omitempty"`
	Confidence float64 `yaml:"confidence"`
}

// DiagnosisReport is one audit trail entry.
type DiagnosisReport struct {
	Phase      string  `yaml:"phase"`
	Finding    string  `yaml:"finding"`
	Confidence float64 `yaml:"confidence"`
}

// statusFlagNames maps each flag bit to its report name.
var statusFlagNames = []struct {
	flag flux.StatusFlags
	name string
}{
	{flux.FlagIDCRCBad, "id-crc-bad"},
	{flux.FlagDataCRCBad, "data-crc-bad"},
	{flux.FlagMissingData, "missing-data"},
	{flux.FlagDuplicateID, "duplicate-id"},
	{flux.FlagSizeMismatch, "size-mismatch"},
	{flux.FlagTruncated, "truncated"},
	{flux.FlagWeakSync, "weak-sync"},
	{flux.FlagUnusualMark, "unusual-mark"},
}

// FlagString renders a flag set as a comma-separated list.
func FlagString(flags flux.StatusFlags) string {
	out := ""
	for _, f := range statusFlagNames {
		if flags.Has(f.flag) {
			if out != "" {
				out += ","
			}
			out += f.name
		}
	}
	return out
}

// RecoveryReportExporter converts recovery results into YAML reports and
// sector image files.
type RecoveryReportExporter struct{}

// NewRecoveryReportExporter creates a new report exporter instance.
func NewRecoveryReportExporter() *RecoveryReportExporter {
	return &RecoveryReportExporter{}
}

// BuildReport converts a recovery result into its report document.
func (e *RecoveryReportExporter) BuildReport(res *flux.RecoveryResult) *TrackReport {
	report := &TrackReport{
		Cylinder:    int(res.Cylinder),
		Head:        int(res.Head),
		Encoding:    res.Encoding.String(),
		Revolutions: res.Revolutions,
		Stats: StatsReport{
			SectorsFound:    res.Stats.SectorsFound,
			SectorsWithData: res.Stats.SectorsWithData,
			SectorsVerified: res.Stats.SectorsCRCOK,
			SectorsDeleted:  res.Stats.SectorsDeleted,
			SectorsWeak:     res.Stats.SectorsWeak,
			SuccessRate:     res.Stats.SuccessRate,
		},
	}
	for i := range res.Sectors {
		sec := &res.Sectors[i]
		report.Sectors = append(report.Sectors, SectorReport{
			Cylinder:   int(sec.ID.Cylinder),
			Head:       int(sec.ID.Head),
			Sector:     int(sec.ID.Sector),
			SizeCode:   int(sec.ID.SizeCode),
			Length:     len(sec.Bytes),
			Valid:      sec.Valid,
			Deleted:    sec.Deleted,
			Weak:       sec.Weak,
			Corrected:  sec.Corrected,
			Flags:      FlagString(sec.Flags),
			Confidence: sec.Confidence,
		})
	}
	for _, entry := range res.Diagnosis {
		report.Diagnosis = append(report.Diagnosis, DiagnosisReport{
			Phase:      entry.Phase,
			Finding:    entry.Finding,
			Confidence: entry.Confidence,
		})
	}
	return report
}

// ExportYAML writes the report document for a recovery result to a file.
func (e *RecoveryReportExporter) ExportYAML(res *flux.RecoveryResult, outputPath string) error {
	data, err := yaml.Marshal(e.BuildReport(res))
	if err != nil {
		return common.FormatError(common.ErrFailedToMarshalYAML, err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return common.FormatError(common.ErrFailedToWriteReport, err)
	}
	common.LogInfo(common.InfoReportWritten, outputPath)
	return nil
}

// ExportSectors writes the best verified payload of every sector identity
// to individual files under outputDir, named cCC_hH_sSS.bin. Unverified
// sectors are skipped; corrected copies win over their failed originals.
func (e *RecoveryReportExporter) ExportSectors(res *flux.RecoveryResult, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return 0, common.FormatError(common.ErrFailedToCreateOutputFile, err)
	}

	best := make(map[uint32]*flux.ExtractedSector)
	for i := range res.Sectors {
		sec := &res.Sectors[i]
		if !sec.Valid || len(sec.Bytes) == 0 {
			continue
		}
		key := sec.ID.Identity()
		if prev, ok := best[key]; !ok || sec.Confidence > prev.Confidence {
			best[key] = sec
		}
	}

	keys := make([]uint32, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	written := 0
	for _, k := range keys {
		sec := best[k]
		name := fmt.Sprintf("c%02d_h%d_s%02d.bin", sec.ID.Cylinder, sec.ID.Head, sec.ID.Sector)
		if err := os.WriteFile(filepath.Join(outputDir, name), sec.Bytes, 0o644); err != nil {
			return written, common.FormatError(common.ErrFailedToCreateOutputFile, err)
		}
		written++
	}
	return written, nil
}
