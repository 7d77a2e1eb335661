package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sykell/site-audit/internal/analyzer"
	"github.com/sykell/site-audit/internal/crawler"
	"github.com/sykell/site-audit/internal/db"
)

// AnalysisRepository is the durable store for analysis jobs and their page
// records. It implements the narrow interface the job queue worker depends
// on.
type AnalysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository creates a repository over the given database handle.
func NewAnalysisRepository(dbConn *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: dbConn}
}

// CreateJob persists a newly submitted job in pending status.
func (r *AnalysisRepository) CreateJob(userID uint, address string, opts crawler.Options) (*db.AnalysisJob, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	optsJSON, err := json.Marshal(opts.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}

	job := db.AnalysisJob{
		ID:                uuid.NewString(),
		UserID:            userID,
		URL:               address,
		Options:           string(optsJSON),
		Status:            db.StatusPending,
		StartedAt:         time.Now().UTC(),
		TotalPageEstimate: opts.Normalize().MaxPages,
	}

	if err := r.db.Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job by ID.
func (r *AnalysisRepository) GetJob(id string) (*db.AnalysisJob, error) {
	var job db.AnalysisJob
	if err := r.db.First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobForUser retrieves a job by ID scoped to its owner.
func (r *AnalysisRepository) GetJobForUser(id string, userID uint) (*db.AnalysisJob, error) {
	var job db.AnalysisJob
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindActiveJobByURL returns a user's pending or processing job for the
// given URL, if any. Used to reject duplicate submissions.
func (r *AnalysisRepository) FindActiveJobByURL(userID uint, address string) (*db.AnalysisJob, error) {
	var job db.AnalysisJob
	err := r.db.
		Where("user_id = ? AND url = ? AND status IN ?", userID, address, []db.JobStatus{db.StatusPending, db.StatusProcessing}).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobProgress persists the crawl counters for a running job.
func (r *AnalysisRepository) UpdateJobProgress(id string, crawled, total int) error {
	return r.db.Model(&db.AnalysisJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"crawled_page_count":  crawled,
		"total_page_estimate": total,
	}).Error
}

// UpdateJobStatus moves the job through its lifecycle. completedAt is set on
// terminal transitions only.
func (r *AnalysisRepository) UpdateJobStatus(id string, status db.JobStatus, errorMsg string, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"status": status,
		"error":  errorMsg,
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	if status == db.StatusProcessing {
		updates["started_at"] = time.Now().UTC()
	}
	return r.db.Model(&db.AnalysisJob{}).Where("id = ?", id).Updates(updates).Error
}

// SavePageRecords replaces the job's page rows with the given records and
// refreshes the job's page counters. Replace-then-insert keeps a retried
// attempt from duplicating URLs.
func (r *AnalysisRepository) SavePageRecords(id string, pages []crawler.PageRecord) error {
	rows := make([]db.PageRecord, 0, len(pages))
	var errorCount int
	for i := range pages {
		row, err := toPageRow(id, &pages[i])
		if err != nil {
			return err
		}
		rows = append(rows, *row)
		if pages[i].Failed() {
			errorCount++
		}
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&db.PageRecord{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return tx.Model(&db.AnalysisJob{}).Where("id = ?", id).Updates(map[string]interface{}{
			"crawled_page_count": len(rows),
			"error_count":        errorCount,
		}).Error
	})
}

// GetPageRecords returns the job's page rows in crawl order.
func (r *AnalysisRepository) GetPageRecords(id string) ([]db.PageRecord, error) {
	var rows []db.PageRecord
	if err := r.db.Where("job_id = ?", id).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveAggregate stores the completed run's aggregate result.
func (r *AnalysisRepository) SaveAggregate(id string, aggregate *analyzer.AggregateResult) error {
	aggJSON, err := json.Marshal(aggregate)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate result: %w", err)
	}
	return r.db.Model(&db.AnalysisJob{}).Where("id = ?", id).
		Update("aggregate_result", string(aggJSON)).Error
}

// toPageRow converts an in-memory page record to its persisted shape. HTML
// is deliberately not stored.
func toPageRow(jobID string, page *crawler.PageRecord) (*db.PageRecord, error) {
	links, err := json.Marshal(page.Links)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal links: %w", err)
	}
	images, err := json.Marshal(page.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal images: %w", err)
	}
	errors, err := json.Marshal(page.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal errors: %w", err)
	}

	return &db.PageRecord{
		JobID:       jobID,
		URL:         page.URL,
		Depth:       page.Depth,
		ParentURL:   page.ParentURL,
		StatusCode:  page.StatusCode,
		LoadTimeMs:  page.LoadTimeMs,
		Title:       page.Title,
		ContentType: page.ContentType,
		SizeBytes:   page.SizeBytes,
		Links:       string(links),
		Images:      string(images),
		Errors:      string(errors),
	}, nil
}
