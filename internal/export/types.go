// Package export renders compiled thesis snapshots as PDF reports.
package export

import (
	"errors"
	"time"

	"pmdos/api/internal/compiler"
)

// Request contains parameters for an export operation.
type Request struct {
	CaseID     string
	SnapshotID string
	Upload     bool
}

// ReportData is the input to snapshot report rendering.
type ReportData struct {
	CaseName   string
	Ticker     string
	AsOf       time.Time
	CreatedBy  string
	CommitHash string
	State      compiler.State
}

// Result contains the export output.
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ObjectURL string
}

var (
	// ErrContentUnavailable indicates snapshot content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
