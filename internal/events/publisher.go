package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/bluray-scraper/internal/database"
	"github.com/maltedev/bluray-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeDiscRecordCompleted is published when a disc record is stored
	EventTypeDiscRecordCompleted EventType = "DISC_RECORD_COMPLETED"

	aggregateDiscRecord = "disc_record"
	eventSource         = "bluray-scraper"
)

// DiscRecordCompletedPayload is the payload of DISC_RECORD_COMPLETED
type DiscRecordCompletedPayload struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	SourceURL     string         `json:"source_url"`
	Title         string         `json:"title,omitempty"`
	ReleaseYear   string         `json:"release_year"`
	Country       string         `json:"country,omitempty"`
	UPC           string         `json:"upc,omitempty"`
	ASIN          string         `json:"amazon_id,omitempty"`
	MarketplaceID string         `json:"ebay_id,omitempty"`
	MissingLinks  bool           `json:"missing_links"`
	New           bool           `json:"new"`
	Record        *models.Record `json:"record"`
	Source        string         `json:"source"`
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type recordWriter interface {
	UpsertWithTx(ctx context.Context, tx pgx.Tx, rec *models.Record) (bool, error)
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores records and their events in one transaction, so a record
// is never visible without its event.
type Publisher struct {
	db      transactor
	records recordWriter
	outbox  outboxWriter
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:      db,
		records: database.NewRecordRepository(db),
		outbox:  database.NewOutboxRepository(db),
		logger:  logger.With("component", "event_publisher"),
	}
}

// PublishRecord upserts rec and queues a DISC_RECORD_COMPLETED event.
func (p *Publisher) PublishRecord(ctx context.Context, rec *models.Record) error {
	payload := &DiscRecordCompletedPayload{
		EventID:       uuid.New().String(),
		EventType:     string(EventTypeDiscRecordCompleted),
		Timestamp:     time.Now(),
		SourceURL:     rec.SourceURL,
		Title:         rec.Title,
		ReleaseYear:   rec.ReleaseYear,
		Country:       rec.Country,
		UPC:           rec.UPC,
		ASIN:          rec.ASIN,
		MarketplaceID: rec.MarketplaceID,
		MissingLinks:  rec.MissingLinks,
		Record:        rec,
		Source:        eventSource,
	}

	var outboxEvent *database.OutboxEvent
	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		inserted, err := p.records.UpsertWithTx(ctx, tx, rec)
		if err != nil {
			return err
		}
		payload.New = inserted

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		outboxEvent = &database.OutboxEvent{
			AggregateType: aggregateDiscRecord,
			AggregateID:   rec.SourceURL,
			EventType:     payload.EventType,
			Payload:       data,
			TargetStream:  database.StreamDiscRecords,
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"source_url", rec.SourceURL,
		"new", payload.New,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
