package db

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AnalysisJob represents one submitted site analysis. Nested shapes
// (options, aggregate result) are stored as JSON text columns and expanded
// by the API layer.
type AnalysisJob struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	UserID            uint       `gorm:"index" json:"-"`
	URL               string     `gorm:"not null;size:768" json:"url"`
	Options           string     `json:"-"` // JSON: {"maxDepth":2,"maxPages":20,...}
	Status            JobStatus  `gorm:"default:'pending';index" json:"status"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	CrawledPageCount  int        `json:"crawledPageCount"`
	TotalPageEstimate int        `json:"totalPageEstimate"`
	ErrorCount        int        `json:"errorCount"`
	AggregateResult   string     `json:"-"` // JSON, set only on completion
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	User              User       `gorm:"foreignKey:UserID" json:"-"`
}

// PageRecord is one crawled page within a job. At most one row per
// (job, url) pair, enforced by the crawl engine's visited-set and by
// replace-then-insert persistence on retried attempts.
type PageRecord struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	JobID       string    `gorm:"index;size:36" json:"-"`
	URL         string    `gorm:"not null;size:768" json:"url"`
	Depth       int       `json:"depth"`
	ParentURL   string    `json:"parentUrl,omitempty"`
	StatusCode  int       `json:"statusCode"`
	LoadTimeMs  int64     `json:"loadTimeMs"`
	Title       string    `json:"title,omitempty"`
	ContentType string    `json:"contentType"`
	SizeBytes   int       `json:"sizeBytes"`
	Links       string    `json:"-"` // JSON: ["https://..."]
	Images      string    `json:"-"` // JSON: ["https://..."]
	Errors      string    `json:"-"` // JSON: ["navigation timeout"]
	CreatedAt   time.Time `json:"-"`
}

// User represents an authenticated user
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:100" json:"username"`
	Password  string    `gorm:"not null;size:255" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
