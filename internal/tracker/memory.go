package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sinew/internal/sinewerr"
)

// MemoryTracker is an in-process Tracker double used by tests; it applies
// the same scan/decide/cleanup rules as the Postgres-backed implementation.
type MemoryTracker struct {
	mu       sync.Mutex
	statuses map[string]IngestionStatus // id -> status
	byPath   map[string]string          // tenant|file_path -> id
	sections map[string][]SectionStatus // ingestionStatusID -> sections
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		statuses: make(map[string]IngestionStatus),
		byPath:   make(map[string]string),
		sections: make(map[string][]SectionStatus),
	}
}

func pathKey(tenantID, filePath string) string { return tenantID + "|" + filePath }

func (m *MemoryTracker) Scan(ctx context.Context, tenantID, root string) ([]ScanResult, error) {
	files, err := walkDocuments(root)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []ScanResult
	for _, path := range files {
		hash, err := hashFile(path)
		if err != nil {
			out = append(out, ScanResult{FilePath: path, Category: "error", Order: 999, Action: ActionSkip, Reason: fmt.Sprintf("scan error: %v", err)})
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			out = append(out, ScanResult{FilePath: path, Category: "error", Order: 999, Action: ActionSkip, Reason: fmt.Sprintf("scan error: %v", err)})
			continue
		}
		category, order := categoryAndOrder(path)

		m.mu.Lock()
		var existing *IngestionStatus
		if id, ok := m.byPath[pathKey(tenantID, path)]; ok {
			s := m.statuses[id]
			existing = &s
		}
		m.mu.Unlock()

		action, reason := decideAction(existing, hash, info.Size(), now)
		out = append(out, ScanResult{
			FilePath: path, ContentHash: hash, Size: info.Size(), ModifiedAt: info.ModTime(),
			Category: category, Order: order, Action: action, Reason: reason, Existing: existing,
		})
	}
	return out, nil
}

func (m *MemoryTracker) CreateOrUpdateStatus(ctx context.Context, s IngestionStatus) (IngestionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.PriorityWeight = CalculateCitationPriority(s.Category, s.Order)
	key := pathKey(s.TenantID, s.FilePath)
	now := time.Now()
	if id, ok := m.byPath[key]; ok {
		existing := m.statuses[id]
		s.ID = id
		s.CreatedAt = existing.CreatedAt
		s.UpdatedAt = now
		m.statuses[id] = s
		return s, nil
	}
	s.ID = uuid.NewString()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.statuses[s.ID] = s
	m.byPath[key] = s.ID
	return s, nil
}

func (m *MemoryTracker) UpdateStatus(ctx context.Context, id string, patch StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	if !ok {
		return sinewerr.New(sinewerr.KindNotFound, "ingestion status not found", nil)
	}
	applyStatusPatch(&s, patch)
	s.UpdatedAt = time.Now()
	m.statuses[id] = s
	return nil
}

func applyStatusPatch(s *IngestionStatus, patch StatusPatch) {
	if patch.State != nil {
		s.State = *patch.State
	}
	if patch.ChunksExpected != nil {
		s.ChunksExpected = *patch.ChunksExpected
	}
	if patch.ChunksCreated != nil {
		s.ChunksCreated = *patch.ChunksCreated
	}
	if patch.EntitiesExtracted != nil {
		s.EntitiesExtracted = *patch.EntitiesExtracted
	}
	if patch.EpisodesCreated != nil {
		s.EpisodesCreated = *patch.EpisodesCreated
	}
	if patch.IngestionStartedAt != nil {
		s.IngestionStartedAt = patch.IngestionStartedAt
	}
	if patch.IngestionCompletedAt != nil {
		s.IngestionCompletedAt = patch.IngestionCompletedAt
	}
	if patch.ErrorMessage != nil {
		s.ErrorMessage = *patch.ErrorMessage
	}
}

// CleanupIncomplete wipes the file's chunk-store-facing state (status
// counters) before a full reingest (spec §4.9 step 4). It deliberately
// leaves SectionStatus rows in place: a resume of a `partial` file needs
// GetFailedSections to still report which sections failed, and TrackSection
// upserts by position anyway, so a fresh pass naturally overwrites stale
// section rows as it goes (spec §8 scenario 4).
func (m *MemoryTracker) CleanupIncomplete(ctx context.Context, tenantID, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pathKey(tenantID, filePath)
	id, ok := m.byPath[key]
	if !ok {
		return nil
	}
	s := m.statuses[id]
	s.State = StatePending
	s.ChunksCreated, s.ChunksExpected, s.EntitiesExtracted, s.EpisodesCreated = 0, 0, 0, 0
	s.IngestionStartedAt, s.IngestionCompletedAt = nil, nil
	s.UpdatedAt = time.Now()
	m.statuses[id] = s
	return nil
}

func (m *MemoryTracker) TrackSection(ctx context.Context, ingestionStatusID string, position int, sectionType, content string, metadata map[string]any) (SectionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	preview := content
	if len(preview) > 200 {
		preview = preview[:200]
	}
	sec := SectionStatus{
		ID: uuid.NewString(), IngestionStatusID: ingestionStatusID, SectionPosition: position,
		SectionType: sectionType, SectionHash: hashString(content),
		ContentLength: len(content), ContentPreview: preview, State: StatePending,
	}
	secs := m.sections[ingestionStatusID]
	for i, existing := range secs {
		if existing.SectionPosition == position {
			sec.ID = existing.ID
			secs[i] = sec
			m.sections[ingestionStatusID] = secs
			return sec, nil
		}
	}
	m.sections[ingestionStatusID] = append(secs, sec)
	return sec, nil
}

func (m *MemoryTracker) UpdateSectionStatus(ctx context.Context, sectionID string, patch SectionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for statusID, secs := range m.sections {
		for i, sec := range secs {
			if sec.ID != sectionID {
				continue
			}
			sec.State = patch.State
			sec.ChunksCreated = patch.ChunksCreated
			sec.EntitiesExtracted = patch.EntitiesExtracted
			sec.EpisodesCreated = patch.EpisodesCreated
			sec.ErrorMessage = patch.ErrorMessage
			switch patch.State {
			case StateProcessing:
				sec.ProcessingStartedAt = &now
			case StateCompleted, StateFailed:
				sec.ProcessingCompletedAt = &now
			}
			secs[i] = sec
			m.sections[statusID] = secs
			return nil
		}
	}
	return sinewerr.New(sinewerr.KindNotFound, "section not found", nil)
}

func (m *MemoryTracker) GetFailedSections(ctx context.Context, ingestionStatusID string) ([]SectionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SectionStatus
	for _, sec := range m.sections[ingestionStatusID] {
		if sec.State == StateFailed {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionPosition < out[j].SectionPosition })
	return out, nil
}

func (m *MemoryTracker) CleanupFailedSections(ctx context.Context, ingestionStatusID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	secs := m.sections[ingestionStatusID]
	kept := secs[:0]
	for _, sec := range secs {
		if sec.State == StateFailed {
			continue
		}
		kept = append(kept, sec)
	}
	m.sections[ingestionStatusID] = kept
	return nil
}

func (m *MemoryTracker) IngestionReport(ctx context.Context, tenantID string) (IngestionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report := IngestionReport{ByState: map[State]int{}, ByCategory: map[string]CategoryCounts{}}
	for _, s := range m.statuses {
		if s.TenantID != tenantID {
			continue
		}
		report.Total++
		report.ByState[s.State]++
		cc := report.ByCategory[s.Category]
		cc.Total++
		if s.State == StateCompleted {
			cc.Completed++
		} else {
			cc.Incomplete++
		}
		report.ByCategory[s.Category] = cc
		if s.State == StateFailed || s.State == StatePartial || s.State == StateProcessing {
			report.Problems = append(report.Problems, s)
		}
	}
	sort.Slice(report.Problems, func(i, j int) bool {
		if report.Problems[i].Category != report.Problems[j].Category {
			return report.Problems[i].Category < report.Problems[j].Category
		}
		return report.Problems[i].Order < report.Problems[j].Order
	})
	return report, nil
}

func (m *MemoryTracker) SectionRecoveryReport(ctx context.Context, tenantID string) (SectionRecoveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report := SectionRecoveryReport{ByState: map[State]int{}}
	for statusID, secs := range m.sections {
		s, ok := m.statuses[statusID]
		if !ok || s.TenantID != tenantID {
			continue
		}
		for _, sec := range secs {
			report.Total++
			report.ByState[sec.State]++
			if sec.State == StateFailed {
				report.FailedDetail = append(report.FailedDetail, sec)
			}
		}
	}
	return report, nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var _ Tracker = (*MemoryTracker)(nil)
