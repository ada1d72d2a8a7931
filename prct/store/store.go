// Package store persists retracted works and their reconciled citations.
// It owns the fetch queue: works are claimed transactionally by the batch
// worker and move queued -> in-progress -> complete/failed.
package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"prct/prct/api"
	"prct/prct/citations"
	"prct/prct/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrWorkAccessFailed = errors.New("retracted work access failed")
	ErrWorkNotFound     = errors.New("retracted work not found")
)

type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

func convertWork(work schema.RetractedWork) api.RetractedWork {
	return api.RetractedWork{
		Id:              work.Id,
		Doi:             work.Doi,
		Title:           work.Title,
		RetractionDate:  timePtr(work.RetractionDate),
		PublicationDate: timePtr(work.PublicationDate),
	}
}

// UpsertRetractedWork creates or refreshes a retracted work record by doi.
// New works enter the fetch queue; existing works keep their status but pick
// up newly discovered dates and titles.
func (m *Manager) UpsertRetractedWork(work api.RetractedWork) (uuid.UUID, error) {
	var id uuid.UUID

	err := m.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.RetractedWork
		result := txn.Limit(1).Find(&existing, "doi = ?", work.Doi)
		if result.Error != nil {
			slog.Error("error looking up retracted work", "doi", work.Doi, "error", result.Error)
			return ErrWorkAccessFailed
		}

		if result.RowsAffected == 0 {
			record := schema.RetractedWork{
				Id:              uuid.New(),
				Doi:             work.Doi,
				Title:           work.Title,
				RetractionDate:  nullTime(work.RetractionDate),
				PublicationDate: nullTime(work.PublicationDate),
				Status:          schema.FetchQueued,
				StatusUpdatedAt: time.Now().UTC(),
			}
			if err := txn.Create(&record).Error; err != nil {
				slog.Error("error creating retracted work", "doi", work.Doi, "error", err)
				return ErrWorkAccessFailed
			}
			id = record.Id
			return nil
		}

		if work.Title != "" {
			existing.Title = work.Title
		}
		if work.RetractionDate != nil {
			existing.RetractionDate = nullTime(work.RetractionDate)
		}
		if work.PublicationDate != nil {
			existing.PublicationDate = nullTime(work.PublicationDate)
		}
		if err := txn.Save(&existing).Error; err != nil {
			slog.Error("error updating retracted work", "doi", work.Doi, "error", err)
			return ErrWorkAccessFailed
		}
		id = existing.Id
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

// ClaimNextQueuedWorks atomically claims up to limit queued works for
// fetching, moving them to in-progress.
func (m *Manager) ClaimNextQueuedWorks(limit int) ([]api.RetractedWork, error) {
	var claimed []api.RetractedWork

	err := m.db.Transaction(func(txn *gorm.DB) error {
		var works []schema.RetractedWork
		if err := txn.Limit(limit).Order("status_updated_at ASC").Find(&works, "status = ?", schema.FetchQueued).Error; err != nil {
			slog.Error("error getting next works from queue", "error", err)
			return ErrWorkAccessFailed
		}

		for _, work := range works {
			if err := txn.Model(&work).Updates(map[string]interface{}{
				"status":            schema.FetchInProgress,
				"status_updated_at": time.Now().UTC(),
			}).Error; err != nil {
				slog.Error("error updating work status to in progress", "doi", work.Doi, "error", err)
				return ErrWorkAccessFailed
			}
			claimed = append(claimed, convertWork(work))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// RequeueWork returns an in-progress work to the queue, used when a fetch is
// aborted by shutdown before producing a result.
func (m *Manager) RequeueWork(id uuid.UUID) error {
	if err := m.db.Model(&schema.RetractedWork{Id: id}).Updates(map[string]interface{}{
		"status":            schema.FetchQueued,
		"status_updated_at": time.Now().UTC(),
	}).Error; err != nil {
		slog.Error("error requeueing work", "work_id", id, "error", err)
		return ErrWorkAccessFailed
	}
	return nil
}

// SaveFetchResult upserts the citations from one completed fetch, replaces
// the per-source fetch logs, and updates the work's status. A fetch where
// every source failed is recorded as failed; anything else, including zero
// citations, is complete.
func (m *Manager) SaveFetchResult(id uuid.UUID, result api.FetchResult) error {
	now := time.Now().UTC()

	status := schema.FetchFailed
	for _, sourceStatus := range result.SourceStatus {
		if sourceStatus.Succeeded {
			status = schema.FetchCompleted
			break
		}
	}

	return m.db.Transaction(func(txn *gorm.DB) error {
		var work schema.RetractedWork
		if err := txn.First(&work, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWorkNotFound
			}
			slog.Error("error getting retracted work", "work_id", id, "error", err)
			return ErrWorkAccessFailed
		}

		for _, citation := range result.Citations {
			if err := upsertCitation(txn, id, citation, now); err != nil {
				return err
			}
		}

		if err := txn.Where("work_id = ?", id).Delete(&schema.FetchLog{}).Error; err != nil {
			slog.Error("error clearing fetch logs", "work_id", id, "error", err)
			return ErrWorkAccessFailed
		}
		for source, sourceStatus := range result.SourceStatus {
			log := schema.FetchLog{
				WorkId:     id,
				Source:     source,
				Succeeded:  sourceStatus.Succeeded,
				Candidates: sourceStatus.Candidates,
				Attempts:   sourceStatus.Attempts,
				Error:      sourceStatus.Error,
				Timestamp:  now,
			}
			if err := txn.Create(&log).Error; err != nil {
				slog.Error("error recording fetch log", "work_id", id, "source", source, "error", err)
				return ErrWorkAccessFailed
			}
		}

		work.Status = status
		work.StatusUpdatedAt = now
		work.LastFetchedAt = sql.NullTime{Time: now, Valid: true}
		if err := txn.Save(&work).Error; err != nil {
			slog.Error("error updating work status", "work_id", id, "error", err)
			return ErrWorkAccessFailed
		}

		return nil
	})
}

func upsertCitation(txn *gorm.DB, workId uuid.UUID, citation api.Citation, now time.Time) error {
	key := citations.IdentityKey(citation)

	record := schema.Citation{
		WorkId:              workId,
		DedupKey:            key,
		Doi:                 citation.Doi,
		Title:               citation.Title,
		DatePrecision:       citation.DatePrecision,
		Sources:             strings.Join(citation.Sources, ","),
		Bucket:              citation.Classification.Bucket,
		JournalSelfCitation: citation.JournalSelfCitation,
		AuthorSelfCitation:  citation.AuthorSelfCitation,
		FirstSeenAt:         now,
		LastSeenAt:          now,
	}
	if !citation.Date.IsZero() {
		record.PublishedOn = sql.NullTime{Time: citation.Date, Valid: true}
	}
	if offset := citation.Classification.OffsetDays; offset != nil {
		record.OffsetDays = sql.NullInt64{Int64: int64(*offset), Valid: true}
	}

	var existing schema.Citation
	result := txn.Limit(1).Find(&existing, "work_id = ? AND dedup_key = ?", workId, key)
	if result.Error != nil {
		slog.Error("error looking up citation", "work_id", workId, "dedup_key", key, "error", result.Error)
		return ErrWorkAccessFailed
	}

	if result.RowsAffected > 0 {
		record.FirstSeenAt = existing.FirstSeenAt
		if err := txn.Model(&existing).Select("*").Omit("work_id", "dedup_key").Updates(record).Error; err != nil {
			slog.Error("error updating citation", "work_id", workId, "dedup_key", key, "error", err)
			return ErrWorkAccessFailed
		}
		return nil
	}

	if err := txn.Create(&record).Error; err != nil {
		slog.Error("error creating citation", "work_id", workId, "dedup_key", key, "error", err)
		return ErrWorkAccessFailed
	}
	return nil
}

// MarkFetchFailed flags a work whose fetch could not produce a result at
// all, e.g. an invalid doi.
func (m *Manager) MarkFetchFailed(id uuid.UUID) error {
	if err := m.db.Model(&schema.RetractedWork{Id: id}).Updates(map[string]interface{}{
		"status":            schema.FetchFailed,
		"status_updated_at": time.Now().UTC(),
	}).Error; err != nil {
		slog.Error("error marking fetch failed", "work_id", id, "error", err)
		return ErrWorkAccessFailed
	}
	return nil
}

// GetWorkByDoi returns the stored record for one doi.
func (m *Manager) GetWorkByDoi(doi string) (api.RetractedWork, error) {
	var work schema.RetractedWork
	if err := m.db.First(&work, "doi = ?", doi).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.RetractedWork{}, ErrWorkNotFound
		}
		slog.Error("error getting retracted work", "doi", doi, "error", err)
		return api.RetractedWork{}, ErrWorkAccessFailed
	}
	return convertWork(work), nil
}

// ListCitations returns the stored citations for a work ordered by
// publication date then doi, matching the pipeline's output order.
func (m *Manager) ListCitations(workId uuid.UUID) ([]api.Citation, error) {
	var records []schema.Citation
	if err := m.db.Order("published_on ASC, doi ASC").Find(&records, "work_id = ?", workId).Error; err != nil {
		slog.Error("error listing citations", "work_id", workId, "error", err)
		return nil, ErrWorkAccessFailed
	}

	results := make([]api.Citation, 0, len(records))
	for _, record := range records {
		citation := api.Citation{
			Doi:                 record.Doi,
			Title:               record.Title,
			DatePrecision:       record.DatePrecision,
			JournalSelfCitation: record.JournalSelfCitation,
			AuthorSelfCitation:  record.AuthorSelfCitation,
			Classification:      api.Classification{Bucket: record.Bucket},
		}
		if record.PublishedOn.Valid {
			citation.Date = record.PublishedOn.Time
		}
		if record.Sources != "" {
			citation.Sources = strings.Split(record.Sources, ",")
		}
		if record.OffsetDays.Valid {
			offset := int(record.OffsetDays.Int64)
			citation.Classification.OffsetDays = &offset
		}
		results = append(results, citation)
	}

	return results, nil
}
