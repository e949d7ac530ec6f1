// securecomms - A secure messaging SDK built on Matrix.
// Copyright (C) 2024 Sudo Platform contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrix

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

const (
	syncKeyFilterID   = "filter_id"
	syncKeyNextBatch  = "next_batch"
	syncKeySlidingPos = "sliding_pos"
)

// SQLStore is a Store persisted with dbutil. Sync tokens are scoped by user
// ID while room timelines and receipts are shared by every user of the
// database. Timeline order is insertion order, tracked by stream_order.
type SQLStore struct {
	db       *dbutil.Database
	capacity int
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *dbutil.Database) *SQLStore {
	return &SQLStore{db: db, capacity: defaultTimelineCapacity}
}

// OpenSQLiteStore opens (creating if needed) an SQLite database at path and
// ensures the schema.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := dbutil.NewWithDialect(fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", path), "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}
	store := NewSQLStore(db)
	if err = store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// SetCapacity limits the number of timeline events kept per room. Values
// below one restore the default.
func (s *SQLStore) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = defaultTimelineCapacity
	}
	s.capacity = capacity
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS timeline_event (
			room_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			txn_id TEXT NOT NULL DEFAULT '',
			stream_order BIGINT NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			sender TEXT NOT NULL,
			event_json BLOB NOT NULL,
			delivery_status TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (room_id, event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS read_receipt (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS timeline_event_order_idx
			ON timeline_event (room_id, stream_order)`,
		`CREATE INDEX IF NOT EXISTS timeline_event_txn_idx
			ON timeline_event (room_id, txn_id) WHERE txn_id <> ''`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure store schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSyncValue(ctx context.Context, userID id.UserID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx,
		`SELECT value FROM sync_state WHERE user_id=$1 AND key=$2`,
		userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLStore) setSyncValue(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_state (user_id, key, value, updated_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, key) DO UPDATE SET
			value=excluded.value,
			updated_ts=excluded.updated_ts
	`, userID, key, value, time.Now().UnixMilli())
	return err
}

func (s *SQLStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.setSyncValue(ctx, userID, syncKeyFilterID, filterID)
}

func (s *SQLStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.getSyncValue(ctx, userID, syncKeyFilterID)
}

func (s *SQLStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.setSyncValue(ctx, userID, syncKeyNextBatch, nextBatchToken)
}

func (s *SQLStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.getSyncValue(ctx, userID, syncKeyNextBatch)
}

func (s *SQLStore) SaveSlidingSyncPos(ctx context.Context, userID id.UserID, pos string) error {
	return s.setSyncValue(ctx, userID, syncKeySlidingPos, pos)
}

func (s *SQLStore) LoadSlidingSyncPos(ctx context.Context, userID id.UserID) (string, error) {
	return s.getSyncValue(ctx, userID, syncKeySlidingPos)
}

func (s *SQLStore) nextStreamOrder(ctx context.Context, tx *sql.Tx, roomID id.RoomID) (int64, error) {
	var order sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(stream_order) FROM timeline_event WHERE room_id=?`, roomID,
	).Scan(&order)
	if err != nil {
		return 0, err
	}
	return order.Int64 + 1, nil
}

func (s *SQLStore) trim(ctx context.Context, tx *sql.Tx, roomID id.RoomID) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM timeline_event
		WHERE room_id=? AND stream_order <= (
			SELECT stream_order FROM timeline_event
			WHERE room_id=?
			ORDER BY stream_order DESC
			LIMIT 1 OFFSET ?
		)
	`, roomID, roomID, s.capacity)
	return err
}

func (s *SQLStore) AddTimelineEvents(ctx context.Context, roomID id.RoomID, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.RawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := s.nextStreamOrder(ctx, tx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get stream order: %w", err)
	}
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
		}
		if txnID := evt.Unsigned.TransactionID; txnID != "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE timeline_event SET event_id=?, event_json=?, timestamp_ms=?, delivery_status=?
				WHERE room_id=? AND txn_id=?
			`, evt.ID, data, evt.Timestamp, entities.DeliveryStatusSent, roomID, txnID)
			if err != nil {
				return fmt.Errorf("failed to replace local echo %s: %w", txnID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				continue
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO timeline_event (room_id, event_id, stream_order, timestamp_ms, sender, event_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (room_id, event_id) DO UPDATE SET
				event_json=excluded.event_json,
				timestamp_ms=excluded.timestamp_ms
		`, roomID, evt.ID, order, evt.Timestamp, evt.Sender, data)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", evt.ID, err)
		}
		order++
	}
	if err = s.trim(ctx, tx, roomID); err != nil {
		return fmt.Errorf("failed to trim timeline: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) AddLocalEcho(ctx context.Context, roomID id.RoomID, txnID string, evt *event.Event, status entities.DeliveryStatus) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal local echo: %w", err)
	}
	tx, err := s.db.RawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	order, err := s.nextStreamOrder(ctx, tx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get stream order: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO timeline_event (room_id, event_id, txn_id, stream_order, timestamp_ms, sender, event_json, delivery_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, roomID, evt.ID, txnID, order, evt.Timestamp, evt.Sender, data, status)
	if err != nil {
		return fmt.Errorf("failed to insert local echo: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateLocalEcho(ctx context.Context, roomID id.RoomID, txnID string, eventID id.EventID, status entities.DeliveryStatus) error {
	var err error
	if eventID != "" {
		_, err = s.db.Exec(ctx, `
			UPDATE timeline_event SET event_id=$1, delivery_status=$2
			WHERE room_id=$3 AND txn_id=$4 AND NOT EXISTS (
				SELECT 1 FROM timeline_event WHERE room_id=$3 AND event_id=$1
			)
		`, eventID, status, roomID, txnID)
	} else {
		_, err = s.db.Exec(ctx,
			`UPDATE timeline_event SET delivery_status=$1 WHERE room_id=$2 AND txn_id=$3`,
			status, roomID, txnID,
		)
	}
	return err
}

func (s *SQLStore) scanTimelineEvents(rows dbutil.Rows) ([]*TimelineEvent, error) {
	defer rows.Close()
	out := make([]*TimelineEvent, 0)
	for rows.Next() {
		var (
			eventID id.EventID
			data    []byte
			entry   TimelineEvent
			status  string
		)
		if err := rows.Scan(&eventID, &entry.TxnID, &data, &status); err != nil {
			return nil, err
		}
		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", eventID, err)
		}
		evt.ID = eventID
		entry.Event = &evt
		entry.Status = entities.DeliveryStatus(status)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (s *SQLStore) Timeline(ctx context.Context, roomID id.RoomID, limit int) ([]*TimelineEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(ctx, `
		SELECT event_id, txn_id, event_json, delivery_status FROM (
			SELECT event_id, txn_id, event_json, delivery_status, stream_order
			FROM timeline_event
			WHERE room_id=$1
			ORDER BY stream_order DESC
			LIMIT $2
		) ORDER BY stream_order ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	return s.scanTimelineEvents(rows)
}

func (s *SQLStore) GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*TimelineEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT event_id, txn_id, event_json, delivery_status FROM timeline_event WHERE room_id=$1 AND event_id=$2`,
		roomID, eventID,
	)
	if err != nil {
		return nil, err
	}
	entries, err := s.scanTimelineEvents(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (s *SQLStore) SetReadReceipt(ctx context.Context, roomID id.RoomID, userID id.UserID, receipt ReadReceipt) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO read_receipt (room_id, user_id, event_id, timestamp_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			event_id=CASE WHEN excluded.timestamp_ms >= read_receipt.timestamp_ms THEN excluded.event_id ELSE read_receipt.event_id END,
			timestamp_ms=CASE WHEN excluded.timestamp_ms >= read_receipt.timestamp_ms THEN excluded.timestamp_ms ELSE read_receipt.timestamp_ms END
	`, roomID, userID, receipt.EventID, receipt.Timestamp.UnixMilli())
	return err
}

func (s *SQLStore) ReadReceipts(ctx context.Context, roomID id.RoomID) (map[id.UserID]ReadReceipt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, event_id, timestamp_ms FROM read_receipt WHERE room_id=$1`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[id.UserID]ReadReceipt)
	for rows.Next() {
		var (
			userID  id.UserID
			receipt ReadReceipt
			tsMS    int64
		)
		if err = rows.Scan(&userID, &receipt.EventID, &tsMS); err != nil {
			return nil, err
		}
		receipt.Timestamp = time.UnixMilli(tsMS)
		out[userID] = receipt
	}
	return out, rows.Err()
}
