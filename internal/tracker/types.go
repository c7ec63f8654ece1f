// Package tracker implements C10: per-file and per-section ingestion status
// tracking used to resume, skip, and clean up (spec §4.10).
package tracker

import (
	"context"
	"time"
)

// State is the lifecycle of an IngestionStatus or SectionStatus row
// (spec §3 "IngestionStatus").
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StatePartial    State = "partial"
	StateFailed     State = "failed"
)

// Action is the scan decision for one file (spec §4.9 "Decide").
type Action string

const (
	ActionSkip               Action = "skip"
	ActionIngest              Action = "ingest"
	ActionCleanupAndReingest  Action = "cleanup_and_reingest"
)

// staleProcessingThreshold is the 2h watchdog on stuck `processing` rows
// (spec §4.9, §4.10 "Staleness").
const staleProcessingThreshold = 2 * time.Hour

// ScanResult is one file's scan outcome (spec §4.10 "scan").
type ScanResult struct {
	FilePath     string
	ContentHash  string
	Size         int64
	ModifiedAt   time.Time
	Category     string
	Order        int
	Action       Action
	Reason       string
	Existing     *IngestionStatus
}

// IngestionStatus mirrors the `document_ingestion_status` table
// (spec §3 "IngestionStatus").
type IngestionStatus struct {
	ID                   string
	TenantID             string
	FilePath             string
	ContentHash          string
	Size                 int64
	ModifiedAt           time.Time
	Category             string
	Order                int
	PriorityWeight       int
	State                State
	ChunksExpected       int
	ChunksCreated        int
	EntitiesExtracted    int
	EpisodesCreated      int
	IngestionStartedAt   *time.Time
	IngestionCompletedAt *time.Time
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SectionStatus mirrors the `document_sections` table, keyed by
// (ingestion_status_id, section_position) (spec §3 "SectionStatus").
type SectionStatus struct {
	ID                   string
	IngestionStatusID    string
	SectionPosition      int
	SectionType          string
	SectionHash          string
	ContentLength        int
	ContentPreview       string
	State                State
	ChunksCreated        int
	EntitiesExtracted    int
	EpisodesCreated      int
	ErrorMessage         string
	ProcessingStartedAt  *time.Time
	ProcessingCompletedAt *time.Time
}

// IngestionReport aggregates IngestionStatus rows by state and category
// (spec §4.10 "ingestion_report").
type IngestionReport struct {
	Total      int
	ByState    map[State]int
	ByCategory map[string]CategoryCounts
	Problems   []IngestionStatus // failed, partial, or processing
}

// CategoryCounts is one category's row in an IngestionReport.
type CategoryCounts struct {
	Total     int
	Completed int
	Incomplete int
}

// SectionRecoveryReport aggregates SectionStatus rows by state
// (spec §4.10 "section_recovery_report").
type SectionRecoveryReport struct {
	Total        int
	ByState      map[State]int
	FailedDetail []SectionStatus
}

// Tracker is the C10 contract.
type Tracker interface {
	Scan(ctx context.Context, tenantID, root string) ([]ScanResult, error)
	CreateOrUpdateStatus(ctx context.Context, s IngestionStatus) (IngestionStatus, error)
	UpdateStatus(ctx context.Context, id string, patch StatusPatch) error
	CleanupIncomplete(ctx context.Context, tenantID, filePath string) error

	TrackSection(ctx context.Context, ingestionStatusID string, position int, sectionType, content string, metadata map[string]any) (SectionStatus, error)
	UpdateSectionStatus(ctx context.Context, sectionID string, patch SectionPatch) error
	GetFailedSections(ctx context.Context, ingestionStatusID string) ([]SectionStatus, error)
	CleanupFailedSections(ctx context.Context, ingestionStatusID string) error

	IngestionReport(ctx context.Context, tenantID string) (IngestionReport, error)
	SectionRecoveryReport(ctx context.Context, tenantID string) (SectionRecoveryReport, error)
}

// StatusPatch carries the subset of IngestionStatus fields an update call
// may change; zero-value fields are left untouched except where noted.
type StatusPatch struct {
	State                *State
	ChunksExpected       *int
	ChunksCreated        *int
	EntitiesExtracted    *int
	EpisodesCreated      *int
	IngestionStartedAt   *time.Time
	IngestionCompletedAt *time.Time
	ErrorMessage         *string
}

// SectionPatch carries the subset of SectionStatus fields an update call
// may change.
type SectionPatch struct {
	State                 State
	ChunksCreated         int
	EntitiesExtracted     int
	EpisodesCreated       int
	ErrorMessage          string
}

// categoryRank mirrors the original's medical-category priority table
// (spec §4.10 "calculate_citation_priority"), lower rank sorts first.
var categoryRank = map[string]int{
	"caviglia_e_piede": 10,
	"ginocchio":        20,
	"lombare":          30,
	"toracico":         40,
	"lombo_pelvico":    50,
	"uncategorized":    100,
}

// CalculateCitationPriority returns the deterministic priority weight used
// to order citations: lower weight sorts first (spec §4.10).
func CalculateCitationPriority(category string, order int) int {
	rank, ok := categoryRank[category]
	if !ok {
		rank = categoryRank["uncategorized"]
	}
	return rank*10 + order
}

func isStale(startedAt *time.Time, now time.Time) bool {
	if startedAt == nil {
		return true
	}
	return now.Sub(*startedAt) > staleProcessingThreshold
}
