package persistence

import (
	"context"
	"fmt"
	"time"
)

// HealthRecord is one (camera, index) plant-health measurement.
type HealthRecord struct {
	EcosystemUID string
	CameraUID    string
	Index        string // MPRI | NDRGI | NDVI | VARI
	Timestamp    time.Time
	Value        float64
}

// RecordHealth inserts rec into health_history, ignoring an exact repeat.
func (s *Store) RecordHealth(ctx context.Context, rec HealthRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO health_history
			(ecosystem_uid, camera_uid, index_name, timestamp, value)
		VALUES (?, ?, ?, ?, ?)`,
		rec.EcosystemUID, rec.CameraUID, rec.Index, rec.Timestamp, rec.Value,
	)
	if err != nil {
		return fmt.Errorf("persistence: insert health record: %w", err)
	}
	return nil
}

// RecentHealth returns the most recent health records for ecosystemUID,
// newest first, bounded by limit.
func (s *Store) RecentHealth(ctx context.Context, ecosystemUID string, limit int) ([]HealthRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT ecosystem_uid, camera_uid, index_name, timestamp, value
		FROM health_history
		WHERE ecosystem_uid = ?
		ORDER BY timestamp DESC
		LIMIT ?`, ecosystemUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: query health records: %w", err)
	}
	defer rows.Close()

	var out []HealthRecord
	for rows.Next() {
		var rec HealthRecord
		if err := rows.Scan(&rec.EcosystemUID, &rec.CameraUID, &rec.Index, &rec.Timestamp, &rec.Value); err != nil {
			return nil, fmt.Errorf("persistence: scan health record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
