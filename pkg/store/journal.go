package store

import (
	"context"
	"strings"
	"time"

	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// AlertRecord 告警历史记录
type AlertRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Key        string    `json:"key" gorm:"type:varchar(191);uniqueIndex"`
	SessionID  string    `json:"session_id" gorm:"type:varchar(64);index"`
	Kind       string    `json:"kind" gorm:"type:varchar(32);index"`
	Severity   string    `json:"severity" gorm:"type:varchar(16)"`
	FrameSeq   uint64    `json:"frame_seq"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message" gorm:"type:text"`
	Timestamp  time.Time `json:"timestamp" gorm:"index"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AlertRecord) TableName() string {
	return "alert_records"
}

func (r *AlertRecord) toAlert() *models.Alert {
	return &models.Alert{
		Key:        r.Key,
		SessionID:  r.SessionID,
		Kind:       models.AlertKind(r.Kind),
		Severity:   models.Severity(r.Severity),
		Timestamp:  r.Timestamp,
		FrameSeq:   r.FrameSeq,
		Confidence: r.Confidence,
		Message:    r.Message,
	}
}

// AlertJournal persists delivered alerts so a session's history can be
// reviewed after the stream ends.
type AlertJournal struct {
	db *gorm.DB
}

// OpenJournal 打开 SQLite 数据库并自动迁移
func OpenJournal(dsn string) (*AlertJournal, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// every pooled connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	j := NewAlertJournal(db)
	if err := j.Migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

func NewAlertJournal(db *gorm.DB) *AlertJournal {
	return &AlertJournal{db: db}
}

// Migrate 自动迁移表结构
func (j *AlertJournal) Migrate() error {
	return j.db.AutoMigrate(&AlertRecord{})
}

// Record stores alerts. Keys already present are skipped.
func (j *AlertJournal) Record(ctx context.Context, alerts ...*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	records := make([]AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		records = append(records, AlertRecord{
			Key:        a.Key,
			SessionID:  a.SessionID,
			Kind:       string(a.Kind),
			Severity:   string(a.Severity),
			FrameSeq:   a.FrameSeq,
			Confidence: a.Confidence,
			Message:    a.Message,
			Timestamp:  a.Timestamp,
		})
	}
	return j.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&records).Error
}

// ListBySession returns a session's alerts oldest first. limit <= 0 means all.
func (j *AlertJournal) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Alert, error) {
	var records []AlertRecord
	q := j.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Alert, 0, len(records))
	for i := range records {
		out = append(out, records[i].toAlert())
	}
	return out, nil
}

// KindCount is one row of a session summary
type KindCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// Summary counts a session's alerts per kind
func (j *AlertJournal) Summary(ctx context.Context, sessionID string) ([]KindCount, error) {
	var rows []KindCount
	err := j.db.WithContext(ctx).
		Model(&AlertRecord{}).
		Select("kind, COUNT(*) AS count").
		Where("session_id = ?", sessionID).
		Group("kind").
		Order("kind").
		Scan(&rows).Error
	return rows, err
}

// Prune deletes alerts older than before and returns how many went.
func (j *AlertJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&AlertRecord{})
	return res.RowsAffected, res.Error
}

// Close closes the underlying connection pool
func (j *AlertJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
