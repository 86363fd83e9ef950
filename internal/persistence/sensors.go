package persistence

import (
	"context"
	"fmt"
	"time"
)

// SensorRecord is one delivered (sensor, measure, value) sample at a point
// in time, scoped to an ecosystem.
type SensorRecord struct {
	SensorUID    string
	EcosystemUID string
	Measure      string
	Timestamp    time.Time
	Value        float64
}

// RecordSensorReading inserts rec into sensors_history. A reading already
// present under the uniqueness constraint is silently ignored rather than
// erroring, since the same value can legitimately be offered twice (once
// live, once via buffer replay).
func (s *Store) RecordSensorReading(ctx context.Context, rec SensorRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO sensors_history
			(sensor_uid, ecosystem_uid, measure, timestamp, value)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SensorUID, rec.EcosystemUID, rec.Measure, rec.Timestamp, rec.Value,
	)
	if err != nil {
		return fmt.Errorf("persistence: insert sensor reading: %w", err)
	}
	return nil
}

// BufferedSensorRecord is a SensorRecord awaiting a broker acknowledgement.
type BufferedSensorRecord struct {
	UUID string
	SensorRecord
}

// BufferSensorReading stores rec in sensors_buffer under uuid, to be
// replayed once the broker reconnects.
func (s *Store) BufferSensorReading(ctx context.Context, uuid string, rec SensorRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO sensors_buffer
			(uuid, sensor_uid, ecosystem_uid, measure, timestamp, value)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid, rec.SensorUID, rec.EcosystemUID, rec.Measure, rec.Timestamp, rec.Value,
	)
	if err != nil {
		return fmt.Errorf("persistence: buffer sensor reading: %w", err)
	}
	return nil
}

// PendingBuffered returns up to limit not-yet-failed buffered rows, oldest
// first, for a replay attempt.
func (s *Store) PendingBuffered(ctx context.Context, limit int) ([]BufferedSensorRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT uuid, sensor_uid, ecosystem_uid, measure, timestamp, value
		FROM sensors_buffer
		WHERE failed = 0
		ORDER BY id ASC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: query buffered readings: %w", err)
	}
	defer rows.Close()

	var out []BufferedSensorRecord
	for rows.Next() {
		var rec BufferedSensorRecord
		if err := rows.Scan(&rec.UUID, &rec.SensorUID, &rec.EcosystemUID, &rec.Measure, &rec.Timestamp, &rec.Value); err != nil {
			return nil, fmt.Errorf("persistence: scan buffered reading: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AckBuffered resolves a buffered row by uuid: success deletes it (and
// promotes it into sensors_history), failure flags it without deleting so
// an operator can inspect rows the aggregator explicitly rejected.
func (s *Store) AckBuffered(ctx context.Context, uuid string, success bool) error {
	if !success {
		_, err := s.conn.ExecContext(ctx, `UPDATE sensors_buffer SET failed = 1 WHERE uuid = ?`, uuid)
		if err != nil {
			return fmt.Errorf("persistence: flag buffered reading failed: %w", err)
		}
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin ack transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT sensor_uid, ecosystem_uid, measure, timestamp, value
		FROM sensors_buffer WHERE uuid = ?`, uuid)
	var rec SensorRecord
	if err := row.Scan(&rec.SensorUID, &rec.EcosystemUID, &rec.Measure, &rec.Timestamp, &rec.Value); err != nil {
		return fmt.Errorf("persistence: lookup buffered reading %s: %w", uuid, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO sensors_history
			(sensor_uid, ecosystem_uid, measure, timestamp, value)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SensorUID, rec.EcosystemUID, rec.Measure, rec.Timestamp, rec.Value,
	); err != nil {
		return fmt.Errorf("persistence: promote buffered reading: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sensors_buffer WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("persistence: delete buffered reading: %w", err)
	}
	return tx.Commit()
}
