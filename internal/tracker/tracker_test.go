package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateCitationPriority_OrdersByCategoryThenOrder(t *testing.T) {
	require.Less(t, CalculateCitationPriority("caviglia_e_piede", 1), CalculateCitationPriority("ginocchio", 1))
	require.Less(t, CalculateCitationPriority("ginocchio", 1), CalculateCitationPriority("ginocchio", 2))
	require.Equal(t, CalculateCitationPriority("unknown_category", 1), CalculateCitationPriority("uncategorized", 1))
}

func TestCategoryAndOrder_ParsesMasterTemplate(t *testing.T) {
	category, order := categoryAndOrder(filepath.Join("documents", "fisioterapia", "master", "caviglia_e_piede", "01_anatomia.docx"))
	require.Equal(t, "caviglia_e_piede", category)
	require.Equal(t, 1, order)
}

func TestCategoryAndOrder_DefaultsWhenNoMasterSegment(t *testing.T) {
	category, order := categoryAndOrder(filepath.Join("documents", "misc", "notes.txt"))
	require.Equal(t, "uncategorized", category)
	require.Equal(t, 999, order)
}

func TestDecideAction_TransitionsMatchSpec(t *testing.T) {
	now := time.Now()

	action, _ := decideAction(nil, "h", 1, now)
	require.Equal(t, ActionIngest, action)

	completed := &IngestionStatus{ContentHash: "h", Size: 1, State: StateCompleted}
	action, _ = decideAction(completed, "h", 1, now)
	require.Equal(t, ActionSkip, action)

	changed := &IngestionStatus{ContentHash: "old", Size: 1, State: StateCompleted}
	action, _ = decideAction(changed, "new", 1, now)
	require.Equal(t, ActionCleanupAndReingest, action)

	failed := &IngestionStatus{ContentHash: "h", Size: 1, State: StateFailed}
	action, _ = decideAction(failed, "h", 1, now)
	require.Equal(t, ActionCleanupAndReingest, action)

	partial := &IngestionStatus{ContentHash: "h", Size: 1, State: StatePartial}
	action, _ = decideAction(partial, "h", 1, now)
	require.Equal(t, ActionCleanupAndReingest, action, "a partial file still decides cleanup_and_reingest (spec §4.9 step 2); ingestFile resumes only its failed sections rather than wiping everything")

	staleStart := now.Add(-3 * time.Hour)
	stale := &IngestionStatus{ContentHash: "h", Size: 1, State: StateProcessing, IngestionStartedAt: &staleStart}
	action, _ = decideAction(stale, "h", 1, now)
	require.Equal(t, ActionCleanupAndReingest, action)

	freshStart := now.Add(-10 * time.Minute)
	active := &IngestionStatus{ContentHash: "h", Size: 1, State: StateProcessing, IngestionStartedAt: &freshStart}
	action, _ = decideAction(active, "h", 1, now)
	require.Equal(t, ActionSkip, action)
}

func TestMemoryTracker_ScanDecidesAndCreatesStatus(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	masterDir := filepath.Join(root, "master", "ginocchio")
	require.NoError(t, os.MkdirAll(masterDir, 0o755))
	filePath := filepath.Join(masterDir, "01_anatomy.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("knee anatomy content"), 0o644))

	tr := NewMemoryTracker()
	results, err := tr.Scan(ctx, "tenant-1", root)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, ActionIngest, results[0].Action)
	require.Equal(t, "ginocchio", results[0].Category)
	require.Equal(t, 1, results[0].Order)

	status, err := tr.CreateOrUpdateStatus(ctx, IngestionStatus{
		TenantID: "tenant-1", FilePath: filePath, ContentHash: results[0].ContentHash,
		Size: results[0].Size, Category: results[0].Category, Order: results[0].Order, State: StateProcessing,
	})
	require.NoError(t, err)
	require.NotEmpty(t, status.ID)
	require.Equal(t, CalculateCitationPriority("ginocchio", 1), status.PriorityWeight)

	results2, err := tr.Scan(ctx, "tenant-1", root)
	require.NoError(t, err)
	require.Equal(t, ActionSkip, results2[0].Action)
	require.Equal(t, "currently processing", results2[0].Reason)
}

func TestMemoryTracker_SectionLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	status, err := tr.CreateOrUpdateStatus(ctx, IngestionStatus{TenantID: "t1", FilePath: "f.txt", Category: "uncategorized"})
	require.NoError(t, err)

	sec, err := tr.TrackSection(ctx, status.ID, 0, "paragraph", "some content", nil)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateSectionStatus(ctx, sec.ID, SectionPatch{State: StateFailed, ErrorMessage: "graph write failed"}))

	failed, err := tr.GetFailedSections(ctx, status.ID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "graph write failed", failed[0].ErrorMessage)

	require.NoError(t, tr.CleanupFailedSections(ctx, status.ID))
	failed2, err := tr.GetFailedSections(ctx, status.ID)
	require.NoError(t, err)
	require.Empty(t, failed2)
}

func TestMemoryTracker_IngestionReportAggregatesByStateAndCategory(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	_, err := tr.CreateOrUpdateStatus(ctx, IngestionStatus{TenantID: "t1", FilePath: "a.txt", Category: "ginocchio", State: StateCompleted})
	require.NoError(t, err)
	_, err = tr.CreateOrUpdateStatus(ctx, IngestionStatus{TenantID: "t1", FilePath: "b.txt", Category: "ginocchio", State: StateFailed})
	require.NoError(t, err)

	report, err := tr.IngestionReport(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 1, report.ByState[StateCompleted])
	require.Equal(t, 1, report.ByState[StateFailed])
	require.Len(t, report.Problems, 1)
}
