package db

import (
	"log"

	"gorm.io/gorm"
)

// runMigrations performs database migrations
func runMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &AnalysisJob{}, &PageRecord{}); err != nil {
		return err
	}

	return reapOrphanedJobs(db)
}

// reapOrphanedJobs marks jobs left in processing state by an earlier process
// as failed. The single-worker queue cannot resume a half-finished attempt,
// so a processing row at startup can only be a leftover from a crash.
func reapOrphanedJobs(db *gorm.DB) error {
	result := db.Model(&AnalysisJob{}).
		Where("status = ?", StatusProcessing).
		Updates(map[string]interface{}{
			"status": StatusFailed,
			"error":  "interrupted by process restart",
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Marked %d orphaned processing jobs as failed", result.RowsAffected)
	}

	return nil
}
