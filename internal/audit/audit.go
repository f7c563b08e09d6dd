// Package audit records the lifecycle of remote access for later review:
// connects, disconnects, channel activity, and file transfers, persisted in
// a local sqlite database with a bounded retention window.
package audit

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panemux/panemux/internal/logutil"
)

// Event types recorded by the core.
const (
	EventConnectEstablished = "connect_established"
	EventConnectFailed      = "connect_failed"
	EventDisconnected       = "disconnected"
	EventChannelOpened      = "channel_opened"
	EventChannelClosed      = "channel_closed"
	EventFileDownload       = "file_download"
	EventFileUpload         = "file_upload"
	EventFileRemove         = "file_remove"
)

// DefaultRetentionDays is how long records are kept when no retention is
// configured.
const DefaultRetentionDays = 90

// Record is one persisted audit row.
type Record struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	SessionID string `gorm:"index" json:"sessionId"`
	HostLabel string `json:"hostLabel"`
	EventType string `gorm:"index" json:"eventType"`
	Username  string `json:"username"`
	Details   string `json:"details"`
}

// Open creates or migrates the audit database at path and switches it to
// WAL mode.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("audit: get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("audit: set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: auto-migrate: %w", err)
	}
	return db, nil
}

// Auditor records and queries audit entries.
type Auditor struct {
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewAuditor wraps db. retentionDays <= 0 selects the default.
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

// Log persists one entry and mirrors it to the standard logger. Audit write
// failures are logged and returned but never block the audited operation.
func (a *Auditor) Log(rec Record) error {
	if err := a.db.Create(&rec).Error; err != nil {
		log.Printf("[audit] write failed: %v", err)
		return err
	}
	log.Printf("[audit] %s session=%s host=%s user=%s details=%s",
		rec.EventType,
		rec.SessionID,
		logutil.SanitizeForLog(rec.HostLabel),
		logutil.SanitizeForLog(rec.Username),
		logutil.SanitizeForLog(rec.Details),
	)
	return nil
}

// QueryOptions filters audit queries.
type QueryOptions struct {
	SessionID string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult carries matching records plus pagination metadata.
type QueryResult struct {
	Entries []Record `json:"entries"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Query returns matching records, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&Record{})
	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
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

	var entries []Record
	if err := tx.Order("created_at DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan deletes records beyond the retention window. days <= 0 uses
// the configured retention. Returns how many rows were removed.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc overrides the clock, for tests.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
