package ingestion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	ierrors "github.com/flowscope/iac/infrastructure/errors"
	"github.com/flowscope/iac/infrastructure/logging"
	"github.com/flowscope/iac/infrastructure/metrics"
)

// PostgresStore is the production EventStore backed by a single
// unified_events table. Idempotency is enforced at the database layer via
// a unique constraint on event_id and ON CONFLICT DO NOTHING, mirroring
// the in-memory ReplayGuard's insert-if-absent contract so either
// implementation can back the orchestrator interchangeably.
type PostgresStore struct {
	db      *sqlx.DB
	log     *logging.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics sink that InsertMany and Query record
// query duration and outcome against; nil disables recording.
func (s *PostgresStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *PostgresStore) recordQuery(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	s.metrics.RecordDatabaseQuery("iac", operation, status, time.Since(start))
	s.metrics.SetDatabaseConnections(s.db.Stats().OpenConnections)
}

// NewPostgresStore opens a connection pool against dsn and verifies it
// with a ping before returning.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, ierrors.StoreUnavailable("failed to connect to postgres", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ierrors.StoreUnavailable("postgres ping failed", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &PostgresStore{db: db, log: logging.Default()}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const insertEventSQL = `
INSERT INTO unified_events (
	event_id, network, chain_id, tx_hash, log_index, block_number,
	timestamp, from_address, to_address, token_address, amount,
	amount_usd, event_type, ingestion_source
) VALUES (
	:event_id, :network, :chain_id, :tx_hash, :log_index, :block_number,
	:timestamp, :from_address, :to_address, :token_address, :amount,
	:amount_usd, :event_type, :ingestion_source
)
ON CONFLICT (event_id) DO NOTHING
`

// InsertMany assigns event ids via the replay guard's hashing scheme and
// upserts every event, relying on ON CONFLICT DO NOTHING for idempotency.
// Duplicate counts are derived from rows actually affected, not from an
// in-process guard, so this store is safe to run across multiple
// orchestrator instances.
func (s *PostgresStore) InsertMany(ctx context.Context, events []UnifiedEvent) (report ReplayReport, err error) {
	start := time.Now()
	defer func() { s.recordQuery("insert_many", start, err) }()

	if len(events) == 0 {
		return report, nil
	}

	for i := range events {
		if events[i].EventID == "" {
			events[i].EventID = ComputeEventID(events[i].Network, events[i].TxHash, events[i].LogIndex)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return report, ierrors.StoreUnavailable("failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		result, err := tx.NamedExecContext(ctx, insertEventSQL, ev)
		if err != nil {
			report.Errors++
			report.ErrorMessages = append(report.ErrorMessages, fmt.Sprintf("%s: %v", ev.EventID, err))
			continue
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			report.Duplicates++
		} else {
			report.Inserted++
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		err = ierrors.StoreIntegrity("failed to commit event batch", commitErr)
		return report, err
	}
	return report, nil
}

// Query runs a filtered read against unified_events. Only one indexed
// dimension is honored per call, matching the in-memory store's
// single-index lookup contract.
func (s *PostgresStore) Query(ctx context.Context, filter EventFilter) (events []UnifiedEvent, err error) {
	start := time.Now()
	defer func() { s.recordQuery("query", start, err) }()

	query := "SELECT * FROM unified_events WHERE network = $1"
	args := []interface{}{filter.Network}

	switch {
	case filter.BlockNumber != nil:
		query += " AND block_number = $2"
		args = append(args, *filter.BlockNumber)
	case filter.FromAddress != "":
		query += " AND from_address = $2"
		args = append(args, filter.FromAddress)
	case filter.ToAddress != "":
		query += " AND to_address = $2"
		args = append(args, filter.ToAddress)
	case filter.TokenAddress != "":
		query += " AND token_address = $2"
		args = append(args, filter.TokenAddress)
	}

	query += " ORDER BY block_number DESC, log_index DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	if err = s.db.SelectContext(ctx, &events, query, args...); err != nil {
		if err == sql.ErrNoRows {
			err = nil
			return nil, nil
		}
		err = ierrors.StoreUnavailable("query failed", err)
		return nil, err
	}
	return events, nil
}

// CountByNetwork returns the number of events recorded for network.
func (s *PostgresStore) CountByNetwork(ctx context.Context, network string) (count int64, err error) {
	start := time.Now()
	defer func() { s.recordQuery("count_by_network", start, err) }()

	err = s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM unified_events WHERE network = $1", network)
	if err != nil {
		err = ierrors.StoreUnavailable("count query failed", err)
		return 0, err
	}
	return count, nil
}
