// internal/eventstore/eventstore.go
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event is one entry of an aggregate's journal.
type Event struct {
	ID            int64          `json:"id"`
	AggregateID   uuid.UUID      `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	EventData     []byte         `json:"event_data"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewEvent encodes payload as the event body.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event body into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.EventData, v)
}

// EventStore journals aggregate events. It never opens its own
// transaction: callers pass the transaction that changes the aggregate's
// read model, so the journal and the rows commit or roll back together.
type EventStore struct {
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*EventStore)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(es *EventStore) {
		es.tracer = tp.Tracer("libracirc/eventstore")
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(es *EventStore) {
		es.now = now
	}
}

func NewEventStore(opts ...Option) *EventStore {
	es := &EventStore{
		tracer: otel.Tracer("libracirc/eventstore"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(es)
	}
	return es
}

// AppendEvents appends events for an aggregate with optimistic concurrency
// control: expectedVersion must match the highest stored version.
func (es *EventStore) AppendEvents(ctx context.Context, q sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	var currentVersion int
	err := sqlx.GetContext(ctx, q, &currentVersion, q.Rebind(`
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = ?
	`), aggregateID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	insert := q.Rebind(`
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	for i, event := range events {
		version := expectedVersion + i + 1

		var metadata any
		if len(event.Metadata) > 0 {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata of event %d: %w", i, err)
			}
			metadata = string(raw)
		}

		_, err := q.ExecContext(ctx, insert,
			aggregateID,
			aggregateType,
			event.EventType,
			string(event.EventData),
			metadata,
			version,
			es.now().UTC(),
		)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents returns the events of one aggregate in version order.
func (es *EventStore) LoadEvents(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	rows, err := q.QueryxContext(ctx, rebind(q, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = ?
		ORDER BY version ASC
	`), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// StreamEvents returns up to batchSize events with an id above fromID,
// for projections that follow the whole journal.
func (es *EventStore) StreamEvents(ctx context.Context, q sqlx.QueryerContext, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	rows, err := q.QueryxContext(ctx, rebind(q, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`), fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func scanEvents(rows *sqlx.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			data      []byte
			metadata  []byte
			createdAt storage.Timestamp
		)
		err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&data,
			&metadata,
			&event.Version,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = data
		event.CreatedAt = createdAt.Time
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func rebind(q sqlx.QueryerContext, query string) string {
	if b, ok := q.(interface{ Rebind(string) string }); ok {
		return b.Rebind(query)
	}
	return query
}
