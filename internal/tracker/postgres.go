package tracker

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sinew/internal/sinewerr"
)

// PostgresTracker is the production C10 backend, sharing the
// `document_ingestion_status`/`document_sections` tables migrated by
// chunkstore.PostgresStore (spec §6.2).
type PostgresTracker struct {
	pool *pgxpool.Pool
}

func NewPostgresTracker(pool *pgxpool.Pool) *PostgresTracker {
	return &PostgresTracker{pool: pool}
}

func (t *PostgresTracker) Scan(ctx context.Context, tenantID, root string) ([]ScanResult, error) {
	files, err := walkDocuments(root)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]ScanResult, 0, len(files))
	for _, path := range files {
		hash, err := hashFile(path)
		if err != nil {
			out = append(out, ScanResult{FilePath: path, Category: "error", Order: 999, Action: ActionSkip, Reason: fmt.Sprintf("scan error: %v", err)})
			continue
		}
		info, err := statFile(path)
		if err != nil {
			out = append(out, ScanResult{FilePath: path, Category: "error", Order: 999, Action: ActionSkip, Reason: fmt.Sprintf("scan error: %v", err)})
			continue
		}
		category, order := categoryAndOrder(path)
		existing, err := t.getStatusByPath(ctx, tenantID, path)
		if err != nil {
			return nil, err
		}
		action, reason := decideAction(existing, hash, info.size, now)
		out = append(out, ScanResult{
			FilePath: path, ContentHash: hash, Size: info.size, ModifiedAt: info.modTime,
			Category: category, Order: order, Action: action, Reason: reason, Existing: existing,
		})
	}
	return out, nil
}

type fileInfo struct {
	size    int64
	modTime time.Time
}

func statFile(path string) (fileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return fileInfo{}, err
	}
	return fileInfo{size: st.Size(), modTime: st.ModTime()}, nil
}

func (t *PostgresTracker) getStatusByPath(ctx context.Context, tenantID, filePath string) (*IngestionStatus, error) {
	row := t.pool.QueryRow(ctx, `
		SELECT id, tenant_id, file_path, content_hash, size, modified_at, category, document_order,
		       priority_weight, state, chunks_expected, chunks_created, entities_extracted, episodes_created,
		       ingestion_started_at, ingestion_completed_at, error_message, created_at, updated_at
		FROM document_ingestion_status WHERE tenant_id=$1 AND file_path=$2`, tenantID, filePath)
	var s IngestionStatus
	err := row.Scan(&s.ID, &s.TenantID, &s.FilePath, &s.ContentHash, &s.Size, &s.ModifiedAt, &s.Category, &s.Order,
		&s.PriorityWeight, &s.State, &s.ChunksExpected, &s.ChunksCreated, &s.EntitiesExtracted, &s.EpisodesCreated,
		&s.IngestionStartedAt, &s.IngestionCompletedAt, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "get status", err)
	}
	return &s, nil
}

func (t *PostgresTracker) CreateOrUpdateStatus(ctx context.Context, s IngestionStatus) (IngestionStatus, error) {
	s.PriorityWeight = CalculateCitationPriority(s.Category, s.Order)
	if s.State == "" {
		s.State = StatePending
	}
	row := t.pool.QueryRow(ctx, `
		INSERT INTO document_ingestion_status
			(tenant_id, file_path, content_hash, size, modified_at, category, document_order, priority_weight, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, file_path) DO UPDATE SET
			content_hash=EXCLUDED.content_hash, size=EXCLUDED.size, modified_at=EXCLUDED.modified_at,
			category=EXCLUDED.category, document_order=EXCLUDED.document_order,
			priority_weight=EXCLUDED.priority_weight, state=EXCLUDED.state, updated_at=now()
		RETURNING id, created_at, updated_at`,
		s.TenantID, s.FilePath, s.ContentHash, s.Size, s.ModifiedAt, s.Category, s.Order, s.PriorityWeight, s.State)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return IngestionStatus{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "create_or_update_status", err)
	}
	return s, nil
}

func (t *PostgresTracker) UpdateStatus(ctx context.Context, id string, patch StatusPatch) error {
	_, err := t.pool.Exec(ctx, `
		UPDATE document_ingestion_status SET
			state = COALESCE($2, state),
			chunks_expected = COALESCE($3, chunks_expected),
			chunks_created = COALESCE($4, chunks_created),
			entities_extracted = COALESCE($5, entities_extracted),
			episodes_created = COALESCE($6, episodes_created),
			ingestion_started_at = COALESCE($7, ingestion_started_at),
			ingestion_completed_at = COALESCE($8, ingestion_completed_at),
			error_message = COALESCE($9, error_message),
			updated_at = now()
		WHERE id = $1`,
		id, patch.State, patch.ChunksExpected, patch.ChunksCreated, patch.EntitiesExtracted, patch.EpisodesCreated,
		patch.IngestionStartedAt, patch.IngestionCompletedAt, patch.ErrorMessage)
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "update_status", err)
	}
	return nil
}

// CleanupIncomplete wipes the file's persisted chunks/documents and resets
// its status counters before a full reingest (spec §4.9 step 4). It
// deliberately leaves document_sections rows in place: a resume of a
// `partial` file needs get_failed_sections to still report which sections
// failed, and track_section upserts by position anyway, so the next pass
// overwrites stale section rows as it reprocesses them (spec §8 scenario 4).
func (t *PostgresTracker) CleanupIncomplete(ctx context.Context, tenantID, filePath string) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "cleanup begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM chunks WHERE tenant_id=$1 AND document_id IN (
			SELECT id FROM documents WHERE tenant_id=$1 AND (source=$2 OR source LIKE '%' || $2))`,
		tenantID, filePath); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "cleanup chunks", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE tenant_id=$1 AND (source=$2 OR source LIKE '%' || $2)`, tenantID, filePath); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "cleanup documents", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE document_ingestion_status SET state='pending', chunks_created=0, chunks_expected=0,
			entities_extracted=0, episodes_created=0, ingestion_started_at=NULL, ingestion_completed_at=NULL,
			updated_at=now()
		WHERE tenant_id=$1 AND file_path=$2`, tenantID, filePath); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "cleanup status", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "cleanup commit", err)
	}
	return nil
}

func (t *PostgresTracker) TrackSection(ctx context.Context, ingestionStatusID string, position int, sectionType, content string, metadata map[string]any) (SectionStatus, error) {
	preview := content
	if len(preview) > 200 {
		preview = preview[:200]
	}
	sec := SectionStatus{
		IngestionStatusID: ingestionStatusID, SectionPosition: position, SectionType: sectionType,
		SectionHash: hashString(content), ContentLength: len(content), ContentPreview: preview, State: StatePending,
	}
	row := t.pool.QueryRow(ctx, `
		INSERT INTO document_sections
			(document_status_id, section_position, section_type, section_hash, content_length, content_preview, status, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',$7)
		ON CONFLICT (document_status_id, section_position) DO UPDATE SET
			section_type=EXCLUDED.section_type, section_hash=EXCLUDED.section_hash,
			content_length=EXCLUDED.content_length, content_preview=EXCLUDED.content_preview,
			metadata=EXCLUDED.metadata, updated_at=now()
		RETURNING id`, ingestionStatusID, position, sectionType, sec.SectionHash, sec.ContentLength, preview, metadata)
	if err := row.Scan(&sec.ID); err != nil {
		return SectionStatus{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "track_section", err)
	}
	return sec, nil
}

func (t *PostgresTracker) UpdateSectionStatus(ctx context.Context, sectionID string, patch SectionPatch) error {
	now := time.Now()
	switch patch.State {
	case StateProcessing:
		_, err := t.pool.Exec(ctx, `UPDATE document_sections SET status=$1, processing_started_at=$2, updated_at=$2 WHERE id=$3`,
			patch.State, now, sectionID)
		if err != nil {
			return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "update_section_status", err)
		}
	case StateCompleted, StateFailed:
		_, err := t.pool.Exec(ctx, `
			UPDATE document_sections SET status=$1, chunks_created=$2, entities_extracted=$3,
				episodes_created=$4, error_message=$5, processing_completed_at=$6, updated_at=$6
			WHERE id=$7`,
			patch.State, patch.ChunksCreated, patch.EntitiesExtracted, patch.EpisodesCreated, patch.ErrorMessage, now, sectionID)
		if err != nil {
			return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "update_section_status", err)
		}
	}
	return nil
}

func (t *PostgresTracker) GetFailedSections(ctx context.Context, ingestionStatusID string) ([]SectionStatus, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT id, document_status_id, section_position, section_type, section_hash, status,
		       error_message, chunks_created, entities_extracted
		FROM document_sections WHERE document_status_id=$1 AND status='failed' ORDER BY section_position`, ingestionStatusID)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "get_failed_sections", err)
	}
	defer rows.Close()
	var out []SectionStatus
	for rows.Next() {
		var s SectionStatus
		if err := rows.Scan(&s.ID, &s.IngestionStatusID, &s.SectionPosition, &s.SectionType, &s.SectionHash,
			&s.State, &s.ErrorMessage, &s.ChunksCreated, &s.EntitiesExtracted); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *PostgresTracker) CleanupFailedSections(ctx context.Context, ingestionStatusID string) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM document_sections WHERE document_status_id=$1 AND status='failed'`, ingestionStatusID)
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "cleanup_failed_sections", err)
	}
	return nil
}

func (t *PostgresTracker) IngestionReport(ctx context.Context, tenantID string) (IngestionReport, error) {
	report := IngestionReport{ByState: map[State]int{}, ByCategory: map[string]CategoryCounts{}}
	rows, err := t.pool.Query(ctx, `SELECT state, category FROM document_ingestion_status WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return report, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "ingestion_report", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state State
		var category string
		if err := rows.Scan(&state, &category); err != nil {
			return report, err
		}
		report.Total++
		report.ByState[state]++
		cc := report.ByCategory[category]
		cc.Total++
		if state == StateCompleted {
			cc.Completed++
		} else {
			cc.Incomplete++
		}
		report.ByCategory[category] = cc
	}

	probRows, err := t.pool.Query(ctx, `
		SELECT id, tenant_id, file_path, state, category, document_order, updated_at
		FROM document_ingestion_status WHERE tenant_id=$1 AND state IN ('failed','partial','processing')
		ORDER BY category, document_order`, tenantID)
	if err != nil {
		return report, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "ingestion_report problems", err)
	}
	defer probRows.Close()
	for probRows.Next() {
		var s IngestionStatus
		if err := probRows.Scan(&s.ID, &s.TenantID, &s.FilePath, &s.State, &s.Category, &s.Order, &s.UpdatedAt); err != nil {
			return report, err
		}
		report.Problems = append(report.Problems, s)
	}
	return report, nil
}

func (t *PostgresTracker) SectionRecoveryReport(ctx context.Context, tenantID string) (SectionRecoveryReport, error) {
	report := SectionRecoveryReport{ByState: map[State]int{}}
	rows, err := t.pool.Query(ctx, `
		SELECT s.id, s.document_status_id, s.section_position, s.section_type, s.status, s.error_message
		FROM document_sections s
		JOIN document_ingestion_status d ON d.id = s.document_status_id
		WHERE d.tenant_id = $1`, tenantID)
	if err != nil {
		return report, sinewerr.Backend(sinewerr.KindBackendUnavailable, "tracker", "section_recovery_report", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s SectionStatus
		if err := rows.Scan(&s.ID, &s.IngestionStatusID, &s.SectionPosition, &s.SectionType, &s.State, &s.ErrorMessage); err != nil {
			return report, err
		}
		report.Total++
		report.ByState[s.State]++
		if s.State == StateFailed {
			report.FailedDetail = append(report.FailedDetail, s)
		}
	}
	sort.Slice(report.FailedDetail, func(i, j int) bool { return report.FailedDetail[i].SectionPosition < report.FailedDetail[j].SectionPosition })
	return report, nil
}

var _ Tracker = (*PostgresTracker)(nil)
