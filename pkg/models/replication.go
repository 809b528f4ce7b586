package models

import "strings"

// ActivityLevel is the coarse state of a replicator.
type ActivityLevel int

const (
	ActivityStopped ActivityLevel = iota
	ActivityOffline
	ActivityConnecting
	ActivityIdle
	ActivityBusy
)

var activityNames = [...]string{"stopped", "offline", "connecting", "idle", "busy"}

func (a ActivityLevel) String() string {
	if a < 0 || int(a) >= len(activityNames) {
		return "unknown"
	}
	return activityNames[a]
}

// Progress counts changes; Completed never exceeds Total.
type Progress struct {
	Completed uint64 `json:"completed"`
	Total     uint64 `json:"total"`
}

type ReplicatorStatus struct {
	Activity ActivityLevel
	Progress Progress
	Error    error
}

// DocumentFlags describe a replicated document.
type DocumentFlags uint8

const (
	DocumentFlagDeleted DocumentFlags = 1 << iota
	DocumentFlagAccessRemoved
)

func (f DocumentFlags) Has(flag DocumentFlags) bool {
	return f&flag != 0
}

func (f DocumentFlags) String() string {
	var parts []string
	if f.Has(DocumentFlagDeleted) {
		parts = append(parts, "deleted")
	}
	if f.Has(DocumentFlagAccessRemoved) {
		parts = append(parts, "access-removed")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ReplicatedDocument reports the outcome of pushing or pulling one document.
type ReplicatedDocument struct {
	Collection string
	ID         string
	Flags      DocumentFlags
	Error      error
}
