// pkg/eventstore/eventstore.go
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTableName = "loan_events"

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrEmptyTableName      = errors.New("event table name must not be empty")
	ErrNoEvents            = errors.New("no events to append")
)

// Event represents a domain event with full metadata
type Event struct {
	ID            int64                  `json:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     json.RawMessage        `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewEvent builds an event of the given type with payload encoded as JSON.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	return jsoniter.ConfigFastest.Unmarshal(e.EventData, v)
}

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EventStore is an append-only, per-aggregate versioned event log.
type EventStore struct {
	db        DB
	tableName string
	tracer    trace.Tracer
}

// Option configures an EventStore.
type Option func(*EventStore) error

// WithTableName sets the events table.
func WithTableName(name string) Option {
	return func(es *EventStore) error {
		if name == "" {
			return ErrEmptyTableName
		}
		es.tableName = name
		return nil
	}
}

// NewEventStore creates a new event store on top of a pgx pool.
func NewEventStore(db DB, opts ...Option) (*EventStore, error) {
	es := &EventStore{
		db:        db,
		tableName: defaultTableName,
		tracer:    otel.Tracer("libraryhub/eventstore"),
	}
	for _, opt := range opts {
		if err := opt(es); err != nil {
			return nil, err
		}
	}
	return es, nil
}

// Migrate creates the events table when it does not exist.
func (es *EventStore) Migrate(ctx context.Context) error {
	_, err := es.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGSERIAL PRIMARY KEY,
			aggregate_id UUID NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSONB NOT NULL,
			metadata JSONB,
			version INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (aggregate_id, version)
		)
	`, pgx.Identifier{es.tableName}.Sanitize()))
	if err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

// AppendEvents atomically appends events with optimistic concurrency control.
// expectedVersion is the version the caller last saw (0 for a new aggregate).
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if len(events) == 0 {
		return ErrNoEvents
	}

	tx, err := es.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	table := pgx.Identifier{es.tableName}.Sanitize()

	var currentVersion int
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0)
		FROM %s
		WHERE aggregate_id = $1
	`, table), aggregateID).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("query current version: %w", classify(err))
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, table)

	for i, event := range events {
		version := expectedVersion + i + 1
		metadataJSON, err := jsoniter.ConfigFastest.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of event %d: %w", i, err)
		}

		var eventID int64
		err = tx.QueryRow(ctx, insert,
			aggregateID,
			aggregateType,
			event.EventType,
			[]byte(event.EventData),
			metadataJSON,
			version,
			time.Now().UTC(),
		).Scan(&eventID)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", i, classify(err))
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents retrieves the events of an aggregate in version order.
// toVersion <= 0 means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := fmt.Sprintf(`
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM %s
		WHERE aggregate_id = $1
		AND version >= $2
	`, pgx.Identifier{es.tableName}.Sanitize())

	args := []interface{}{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version ASC"

	rows, err := es.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var event Event
		var data, metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&data,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = data

		if len(metadataJSON) > 0 {
			if err := jsoniter.ConfigFastest.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// classify turns version races detected by PostgreSQL into ErrConcurrencyConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.SerializationFailure:
			return ErrConcurrencyConflict
		}
	}
	return err
}
