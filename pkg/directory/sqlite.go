package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/igorsilveira/deckhand/pkg/a2a"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type cardRecord struct {
	Capability string    `gorm:"primaryKey;column:capability"`
	Card       string    `gorm:"column:card;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (cardRecord) TableName() string { return "directory_cards" }

// SQLStore keeps registrations in a sqlite database so they survive a
// directory restart.
type SQLStore struct {
	db *gorm.DB
}

func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("directory: opening %s: %w", dsn, err)
	}
	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&cardRecord{}); err != nil {
		return nil, fmt.Errorf("directory: running migrations: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Save(ctx context.Context, capability string, card *a2a.AgentCard) error {
	b, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}
	rec := cardRecord{Capability: capability, Card: string(b), UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *SQLStore) Get(ctx context.Context, capability string) (*a2a.AgentCard, error) {
	var rec cardRecord
	err := s.db.WithContext(ctx).First(&rec, "capability = ?", capability).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCard(rec.Card)
}

func (s *SQLStore) List(ctx context.Context) ([]Registration, error) {
	var recs []cardRecord
	if err := s.db.WithContext(ctx).Order("capability").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(recs))
	for _, rec := range recs {
		card, err := decodeCard(rec.Card)
		if err != nil {
			return nil, err
		}
		out = append(out, Registration{Capability: rec.Capability, Card: card})
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeCard(raw string) (*a2a.AgentCard, error) {
	var card a2a.AgentCard
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return nil, fmt.Errorf("decoding card: %w", err)
	}
	return &card, nil
}
