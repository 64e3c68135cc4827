package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	EventCardRegister   = "card_register"
	EventTaskNew        = "task_new"
	EventTaskDone       = "task_done"
	EventTaskFail       = "task_fail"
	EventTaskCancel     = "task_cancel"
	EventPipelineStart  = "pipeline_start"
	EventPipelineDone   = "pipeline_done"
	EventPipelineFail   = "pipeline_fail"
	EventProcessStart   = "process_start"
	EventProcessStopped = "process_stopped"
)

type Entry struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index:idx_audit_timestamp"`
	EventType string    `gorm:"column:event_type;not null;index:idx_audit_event"`
	TaskID    string    `gorm:"column:task_id;not null;default:''"`
	AgentID   string    `gorm:"column:agent_id;not null;default:''"`
	Actor     string    `gorm:"column:actor;not null;default:''"`
	Detail    string    `gorm:"column:detail;not null;default:''"`
}

func (Entry) TableName() string {
	return "audit_log"
}

type Logger struct {
	db *gorm.DB
}

// Open opens (or creates) a sqlite audit database at dsn.
func Open(dsn string) (*Logger, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", dsn, err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Logger, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("audit: running migrations: %w", err)
	}

	return &Logger{db: db}, nil
}

func (l *Logger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (l *Logger) Log(ctx context.Context, eventType, taskID, agentID, actor string, detail any) error {
	var detailStr string
	switch v := detail.(type) {
	case string:
		detailStr = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			detailStr = fmt.Sprintf("%v", v)
		} else {
			detailStr = string(b)
		}
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TaskID:    taskID,
		AgentID:   agentID,
		Actor:     actor,
		Detail:    detailStr,
	}

	return l.db.WithContext(ctx).Create(entry).Error
}

func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := l.db.WithContext(ctx)

	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("timestamp <= ?", f.Until)
	}

	q = q.Order("timestamp DESC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []Entry
	err := q.Find(&entries).Error
	return entries, err
}

type Filter struct {
	EventType string
	TaskID    string
	AgentID   string
	Since     time.Time
	Until     time.Time
	Limit     int
}
