package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sykell/site-audit/internal/analyzer"
	"github.com/sykell/site-audit/internal/crawler"
	"github.com/sykell/site-audit/internal/db"
	"github.com/sykell/site-audit/internal/middleware"
	"github.com/sykell/site-audit/internal/queue"
	"github.com/sykell/site-audit/internal/service"
)

// SubmitAnalysisRequest represents the analysis submission payload.
type SubmitAnalysisRequest struct {
	URL     string           `json:"url" binding:"required,url"`
	Options *crawler.Options `json:"options"`
}

// PageResponse is one crawled page with its JSON columns expanded.
type PageResponse struct {
	URL         string   `json:"url"`
	Depth       int      `json:"depth"`
	ParentURL   string   `json:"parentUrl,omitempty"`
	StatusCode  int      `json:"statusCode"`
	LoadTimeMs  int64    `json:"loadTimeMs"`
	Title       string   `json:"title,omitempty"`
	ContentType string   `json:"contentType"`
	SizeBytes   int      `json:"sizeBytes"`
	Links       []string `json:"links"`
	Images      []string `json:"images"`
	Errors      []string `json:"errors"`
}

// AnalysisDetailResponse is the full report for one job.
type AnalysisDetailResponse struct {
	db.AnalysisJob
	Options         crawler.Options           `json:"options"`
	AggregateResult *analyzer.AggregateResult `json:"aggregateResult,omitempty"`
	Pages           []PageResponse            `json:"pages"`
}

// PaginatedResponse represents a paginated response
type PaginatedResponse struct {
	Data  interface{} `json:"data"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
	Total int64       `json:"total"`
	Pages int         `json:"pages"`
}

// BulkRequest represents a bulk operation request
type BulkRequest struct {
	Action string   `json:"action" binding:"required,oneof=rerun delete"`
	IDs    []string `json:"ids" binding:"required,min=1,max=100"`
}

// SubmitAnalysisHandler handles analysis submission. The job runs
// asynchronously; the response carries the ID to poll.
func SubmitAnalysisHandler(repo *service.AnalysisRepository, queueService *queue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		var req SubmitAnalysisRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Printf("Analysis submission validation error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid URL format",
				"details": err.Error(),
			})
			return
		}

		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "URL cannot be empty"})
			return
		}

		// One active analysis per URL per user.
		if existing, err := repo.FindActiveJobByURL(user.UserID, req.URL); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Analysis already in progress", "id": existing.ID})
			return
		} else if err != gorm.ErrRecordNotFound {
			log.Printf("Database error checking active jobs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		opts := crawler.DefaultOptions()
		if req.Options != nil {
			opts = req.Options.Normalize()
		}

		job, err := repo.CreateJob(user.UserID, req.URL, opts)
		if err != nil {
			log.Printf("Failed to create analysis job: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save analysis job"})
			return
		}

		if err := queueService.Enqueue(job.ID); err != nil {
			log.Printf("Failed to enqueue job %s: %v", job.ID, err)
			// Don't fail the request, just log the error
		}

		log.Printf("Submitted analysis for %s (job %s)", req.URL, job.ID)
		c.JSON(http.StatusAccepted, job)
	}
}

// ListAnalysesHandler handles job listing with pagination and search.
func ListAnalysesHandler(dbConn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}

		pageSize, err := strconv.Atoi(c.DefaultQuery("size", "10"))
		if err != nil || pageSize < 1 || pageSize > 100 {
			pageSize = 10
		}

		sort := c.DefaultQuery("sort", "created_at desc")
		allowedSorts := map[string]bool{
			"created_at desc": true,
			"created_at asc":  true,
			"updated_at desc": true,
			"updated_at asc":  true,
			"status asc":      true,
			"status desc":     true,
		}
		if !allowedSorts[sort] {
			sort = "created_at desc"
		}

		search := strings.TrimSpace(c.Query("q"))
		status := strings.TrimSpace(c.Query("status"))

		query := dbConn.Model(&db.AnalysisJob{}).Where("user_id = ?", user.UserID)

		if search != "" {
			query = query.Where("url LIKE ?", "%"+search+"%")
		}

		if status != "" {
			query = query.Where("status = ?", status)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			log.Printf("Failed to count analysis jobs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		offset := (page - 1) * pageSize
		pages := int((total + int64(pageSize) - 1) / int64(pageSize))

		var jobs []db.AnalysisJob
		if err := query.Order(sort).Limit(pageSize).Offset(offset).Find(&jobs).Error; err != nil {
			log.Printf("Failed to fetch analysis jobs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, PaginatedResponse{
			Data:  jobs,
			Page:  page,
			Size:  pageSize,
			Total: total,
			Pages: pages,
		})
	}
}

// GetAnalysisHandler handles retrieving a single job with its report.
func GetAnalysisHandler(repo *service.AnalysisRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		id := c.Param("id")
		job, err := repo.GetJobForUser(id, user.UserID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
				return
			}
			log.Printf("Failed to fetch job %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		detail := AnalysisDetailResponse{AnalysisJob: *job}

		if job.Options != "" {
			if err := json.Unmarshal([]byte(job.Options), &detail.Options); err != nil {
				log.Printf("Failed to parse options for job %s: %v", id, err)
			}
		}

		if job.AggregateResult != "" {
			var aggregate analyzer.AggregateResult
			if err := json.Unmarshal([]byte(job.AggregateResult), &aggregate); err != nil {
				log.Printf("Failed to parse aggregate result for job %s: %v", id, err)
			} else {
				detail.AggregateResult = &aggregate
			}
		}

		rows, err := repo.GetPageRecords(id)
		if err != nil {
			log.Printf("Failed to fetch page records for job %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		detail.Pages = toPageResponses(rows)

		c.JSON(http.StatusOK, detail)
	}
}

// CancelAnalysisHandler aborts a pending or in-flight job.
func CancelAnalysisHandler(repo *service.AnalysisRepository, queueService *queue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		id := c.Param("id")
		job, err := repo.GetJobForUser(id, user.UserID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
				return
			}
			log.Printf("Failed to fetch job %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if job.Status.Terminal() {
			c.JSON(http.StatusConflict, gin.H{"error": "Analysis already finished", "status": job.Status})
			return
		}

		// In-flight jobs are cancelled through the worker; queued jobs are
		// marked directly and skipped when the worker reaches them.
		if !queueService.Cancel(id) {
			if err := repo.UpdateJobStatus(id, db.StatusCancelled, "analysis cancelled", nil); err != nil {
				log.Printf("Failed to cancel queued job %s: %v", id, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel analysis"})
				return
			}
		}

		log.Printf("Cancelled analysis %s", id)
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": db.StatusCancelled})
	}
}

// BulkHandler handles bulk operations on analysis jobs.
func BulkHandler(dbConn *gorm.DB, queueService *queue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		var req BulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Printf("Bulk operation validation error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid bulk request",
				"details": err.Error(),
			})
			return
		}

		var affected int64
		var err error

		switch req.Action {
		case "rerun":
			// Reset finished jobs to pending; processing jobs are left alone.
			result := dbConn.Model(&db.AnalysisJob{}).
				Where("id IN ? AND user_id = ? AND status <> ?", req.IDs, user.UserID, db.StatusProcessing).
				Updates(map[string]interface{}{
					"status":             db.StatusPending,
					"error":              "",
					"completed_at":       nil,
					"aggregate_result":   "",
					"crawled_page_count": 0,
					"error_count":        0,
				})
			affected = result.RowsAffected
			err = result.Error

			if err == nil && affected > 0 {
				for _, id := range req.IDs {
					if enqueueErr := queueService.Enqueue(id); enqueueErr != nil {
						log.Printf("Failed to enqueue job %s: %v", id, enqueueErr)
					}
				}
			}

		case "delete":
			err = dbConn.Transaction(func(tx *gorm.DB) error {
				var owned []string
				if err := tx.Model(&db.AnalysisJob{}).
					Where("id IN ? AND user_id = ?", req.IDs, user.UserID).
					Pluck("id", &owned).Error; err != nil {
					return err
				}
				if len(owned) == 0 {
					return nil
				}
				if err := tx.Where("job_id IN ?", owned).Delete(&db.PageRecord{}).Error; err != nil {
					return err
				}
				result := tx.Where("id IN ?", owned).Delete(&db.AnalysisJob{})
				affected = result.RowsAffected
				return result.Error
			})

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
			return
		}

		if err != nil {
			log.Printf("Bulk operation failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to perform bulk operation"})
			return
		}

		log.Printf("Bulk %s operation completed: %d jobs affected", req.Action, affected)
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"action":   req.Action,
			"affected": affected,
		})
	}
}

// toPageResponses expands persisted page rows into API shapes.
func toPageResponses(rows []db.PageRecord) []PageResponse {
	pages := make([]PageResponse, 0, len(rows))
	for _, row := range rows {
		page := PageResponse{
			URL:         row.URL,
			Depth:       row.Depth,
			ParentURL:   row.ParentURL,
			StatusCode:  row.StatusCode,
			LoadTimeMs:  row.LoadTimeMs,
			Title:       row.Title,
			ContentType: row.ContentType,
			SizeBytes:   row.SizeBytes,
			Links:       []string{},
			Images:      []string{},
			Errors:      []string{},
		}
		unmarshalList(row.Links, &page.Links)
		unmarshalList(row.Images, &page.Images)
		unmarshalList(row.Errors, &page.Errors)
		pages = append(pages, page)
	}
	return pages
}

func unmarshalList(raw string, dst *[]string) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		log.Printf("Failed to parse persisted list: %v", err)
	}
}
