package models

import "time"

// VerdictStatus is the remote scan service's classification of a URL or file.
type VerdictStatus string

const (
	VerdictClean    VerdictStatus = "clean"
	VerdictInfected VerdictStatus = "infected"
	VerdictTimeout  VerdictStatus = "timeout"
	VerdictError    VerdictStatus = "error"
)

// ScanKind selects the remote scan endpoint.
type ScanKind string

const (
	ScanKindDownload ScanKind = "download"
	ScanKindPage     ScanKind = "page"
)

// Verdict is a classified scan result.
type Verdict struct {
	Status  VerdictStatus `json:"status"`
	Threats []string      `json:"threats,omitempty"`
	ScanID  string        `json:"scan_id,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// Unsafe reports whether the verdict forbids auto-proceeding.
func (v Verdict) Unsafe() bool {
	return v.Status == VerdictInfected
}

// VerdictRecordRow is the persisted form of a verdict, one row per scan.
type VerdictRecordRow struct {
	ScanID    string `parquet:"scan_id"`
	Kind      string `parquet:"kind"`
	URL       string `parquet:"url"`
	FileName  string `parquet:"file_name,optional"`
	Status    string `parquet:"status"`
	Threats   string `parquet:"threats,optional"`
	ElapsedMs int64  `parquet:"elapsed_ms"`
	ScannedAt int64  `parquet:"scanned_at,timestamp(millisecond)"`
}

// LogEntry is one record from the remote service's log feed. It is used both
// for UI display and for polling page-scan completion.
type LogEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Result      string    `json:"result"`
	ThreatLevel string    `json:"threatLevel"`
	Details     string    `json:"details"`
}
