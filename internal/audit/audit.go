package audit

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/gluk-w/hopshell/internal/database"
	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/shell"
)

// DefaultRetentionDays is the default number of days to keep audit records.
const DefaultRetentionDays = 90

// PurgeSchedule is when StartPurgeJob runs.
const PurgeSchedule = "@daily"

// Auditor records session events to the database and the standard logger.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor writing to db. If retentionDays is 0,
// DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Emit implements shell.EventSink. Write failures are logged, not returned,
// so a broken audit store never blocks a session.
func (a *Auditor) Emit(e shell.Event) {
	if err := a.Record(e); err != nil {
		log.Printf("[audit] failed to write audit record: %v", err)
	}
}

// Record writes e to the database.
func (a *Auditor) Record(e shell.Event) error {
	created := e.Timestamp
	if created.IsZero() {
		created = a.nowFn()
	}
	rec := database.AuditRecord{
		SessionID:  e.SessionID,
		Kind:       string(e.Kind),
		Hop:        e.Hop,
		State:      e.State,
		Summary:    logutil.Truncate(e.Summary, maxSummaryLen),
		DurationMs: e.Duration.Milliseconds(),
		Failed:     e.Failed,
		CreatedAt:  created,
	}
	if err := a.db.Create(&rec).Error; err != nil {
		return err
	}
	if e.Failed {
		log.Printf("[audit] %s session=%s %s", e.Kind, e.SessionID, logutil.SanitizeForLog(e.Summary))
	}
	return nil
}

const maxSummaryLen = 4096

// QueryOptions specifies filters for Query.
type QueryOptions struct {
	SessionID  string
	Kind       string
	FailedOnly bool
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// QueryResult holds matching records, newest first, with pagination data.
type QueryResult struct {
	Entries []database.AuditRecord `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Query retrieves audit records matching opts.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.AuditRecord{})

	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.Kind != "" {
		tx = tx.Where("kind = ?", opts.Kind)
	}
	if opts.FailedOnly {
		tx = tx.Where("failed = ?", true)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.AuditRecord
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes records older than days (the retention period if
// days is 0) and returns how many were deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditRecord{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit records older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}

// StartPurgeJob schedules PurgeOlderThan on PurgeSchedule. Stop the
// returned scheduler on shutdown.
func (a *Auditor) StartPurgeJob() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(PurgeSchedule, func() {
		a.PurgeOlderThan(0)
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
