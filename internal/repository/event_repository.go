package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"EventArb/internal/domain/models"
	domrepo "EventArb/internal/domain/repository"

	"gorm.io/gorm"
)

// eventRecord is the row written by the ingestion side.
type eventRecord struct {
	ID          string    `gorm:"primaryKey;size:128"`
	Kind        string    `gorm:"size:64;not null"`
	ScheduledAt time.Time `gorm:"index;not null"`
	Symbols     string    `gorm:"not null;default:''"`
	Consensus   *float64
	Enabled     bool `gorm:"index;not null;default:true"`
	UpdatedAt   time.Time
}

func (eventRecord) TableName() string { return "events" }

func (r eventRecord) toModel() models.Event {
	ev := models.Event{
		ID:          r.ID,
		Kind:        r.Kind,
		ScheduledAt: r.ScheduledAt.UTC(),
		Consensus:   r.Consensus,
		Enabled:     r.Enabled,
	}
	for _, s := range strings.Split(r.Symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			ev.Symbols = append(ev.Symbols, strings.ToUpper(s))
		}
	}
	return ev
}

// PostgresEventSource reads events from Postgres through gorm.
type PostgresEventSource struct {
	db *gorm.DB
}

func NewPostgresEventSource(db *gorm.DB) *PostgresEventSource {
	return &PostgresEventSource{db: db}
}

// Migrate creates the events table when the core runs against an empty
// database (local setups).
func (s *PostgresEventSource) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&eventRecord{}); err != nil {
		return fmt.Errorf("migrate events: %w", err)
	}
	return nil
}

func (s *PostgresEventSource) ListEnabledEvents(ctx context.Context) ([]models.Event, error) {
	var rows []eventRecord
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("scheduled_at asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

var _ domrepo.EventSource = (*PostgresEventSource)(nil)
