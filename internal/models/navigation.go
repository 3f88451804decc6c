package models

import "time"

// ThreatLevel grades a scan finding for prompt severity.
type ThreatLevel string

const (
	ThreatLevelCritical ThreatLevel = "critical"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelClean    ThreatLevel = "clean"
)

// UnsafeURLEntry marks a URL whose page scan reported threats. Navigations to
// it are blocked pending user confirmation while the entry is live.
type UnsafeURLEntry struct {
	CriticalCount int
	HighCount     int
	ThreatLevel   ThreatLevel
	InsertedAt    time.Time
}

// Severity derives the prompt severity from the finding counts.
func (e UnsafeURLEntry) Severity() ThreatLevel {
	if e.CriticalCount > 0 {
		return ThreatLevelCritical
	}
	if e.HighCount > 0 {
		return ThreatLevelHigh
	}
	if e.ThreatLevel != "" {
		return e.ThreatLevel
	}
	return ThreatLevelMedium
}

// AutoScanStatus tracks a page scan from submission to verdict.
type AutoScanStatus string

const (
	AutoScanPending AutoScanStatus = "pending"
	AutoScanDone    AutoScanStatus = "done"
)

// AutoScanRecord remembers that a page was recently submitted for scanning so
// rapid re-navigations do not resubmit it.
type AutoScanRecord struct {
	Status     AutoScanStatus
	TabID      string
	ScanID     string
	InsertedAt time.Time
}

// PendingNavigationBlock is a navigation parked on the placeholder page while
// the user decides. The janitor reconciles these against live tabs.
type PendingNavigationBlock struct {
	TabID     string
	URL       string
	Severity  ThreatLevel
	CreatedAt time.Time
}
