package models

import "time"

// ReinitiationPermit authorizes exactly one future download of a URL to skip
// interception. Permits are issued when an approved download must be
// restarted, live in a short-TTL cache keyed by normalized URL, and are
// consumed atomically by the pre-start hook.
type ReinitiationPermit struct {
	DownloadID string
	URL        string
	FileName   string
	IssuedAt   time.Time
}
