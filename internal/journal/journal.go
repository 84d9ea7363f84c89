// Package journal records provisioning history in SQLite: one row per
// synchronization pass, one per device provisioned in it and one per
// datapoint the bridge created in the catalog.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPassNotFound is returned when a pass id does not exist.
var ErrPassNotFound = errors.New("journal: pass not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Pass is one synchronization pass.
type Pass struct {
	ID         int64      `json:"id"`
	Trigger    string     `json:"trigger"`
	Gateway    string     `json:"gateway"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Devices    int        `json:"devices"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// DeviceRecord is the outcome of provisioning one device in a pass.
type DeviceRecord struct {
	PassID     int64     `json:"pass_id"`
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	Datapoints int       `json:"datapoints"`
	Bindings   int       `json:"bindings"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Creation is a datapoint created in the catalog by the bridge.
type Creation struct {
	PassID      int64     `json:"pass_id"`
	DeviceID    string    `json:"device_id"`
	DatapointID string    `json:"datapoint_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository stores and reads the provisioning journal.
type Repository interface {
	BeginPass(ctx context.Context, trigger, gateway string) (int64, error)
	FinishPass(ctx context.Context, id int64, devices, failed int, errMsg string) error
	RecordDevice(ctx context.Context, rec DeviceRecord) error
	RecordCreation(ctx context.Context, c Creation) error

	ListPasses(ctx context.Context, limit int) ([]Pass, error)
	PassDevices(ctx context.Context, passID int64) ([]DeviceRecord, error)
	DeviceHistory(ctx context.Context, deviceID string, limit int) ([]DeviceRecord, error)
	ListCreations(ctx context.Context, limit int) ([]Creation, error)
}

// SQLiteRepository implements Repository on the tables created by the
// provisioning_journal migration.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a journal backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// BeginPass opens a pass and returns its id.
func (r *SQLiteRepository) BeginPass(ctx context.Context, trigger, gateway string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_passes (trigger, gateway, started_at) VALUES (?, ?, ?)`,
		trigger, gateway, r.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting pass: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading pass id: %w", err)
	}
	return id, nil
}

// FinishPass stores the totals of a pass.
func (r *SQLiteRepository) FinishPass(ctx context.Context, id int64, devices, failed int, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_passes SET finished_at = ?, devices = ?, failed = ?, error = ? WHERE id = ?`,
		r.now().Format(time.RFC3339Nano), devices, failed, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("updating pass: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPassNotFound
	}
	return nil
}

// RecordDevice appends a device outcome. RecordedAt defaults to now.
func (r *SQLiteRepository) RecordDevice(ctx context.Context, rec DeviceRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_provisions
		 (pass_id, device_id, device_type, state, error, datapoints, bindings, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PassID, rec.DeviceID, rec.DeviceType, rec.State, rec.Error,
		rec.Datapoints, rec.Bindings, rec.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting device record: %w", err)
	}
	return nil
}

// RecordCreation appends a datapoint creation. CreatedAt defaults to now.
func (r *SQLiteRepository) RecordCreation(ctx context.Context, c Creation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO datapoint_creations (pass_id, device_id, datapoint_id, name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.PassID, c.DeviceID, c.DatapointID, c.Name, c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting creation: %w", err)
	}
	return nil
}

// ListPasses returns the most recent passes first.
func (r *SQLiteRepository) ListPasses(ctx context.Context, limit int) ([]Pass, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trigger, gateway, started_at, finished_at, devices, failed, error
		 FROM sync_passes ORDER BY id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying passes: %w", err)
	}
	defer rows.Close()

	passes := []Pass{}
	for rows.Next() {
		var p Pass
		var started string
		var finished sql.NullString
		if err := rows.Scan(&p.ID, &p.Trigger, &p.Gateway, &started, &finished,
			&p.Devices, &p.Failed, &p.Error); err != nil {
			return nil, fmt.Errorf("scanning pass: %w", err)
		}
		if p.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, err
			}
			p.FinishedAt = &t
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passes: %w", err)
	}
	return passes, nil
}

const deviceColumns = `pass_id, device_id, device_type, state, error, datapoints, bindings, recorded_at`

// PassDevices returns the device outcomes of one pass in provisioning order.
func (r *SQLiteRepository) PassDevices(ctx context.Context, passID int64) ([]DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM device_provisions WHERE pass_id = ? ORDER BY id`,
		passID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pass devices: %w", err)
	}
	return scanDevices(rows)
}

// DeviceHistory returns the outcomes recorded for a device, newest first.
func (r *SQLiteRepository) DeviceHistory(ctx context.Context, deviceID string, limit int) ([]DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM device_provisions WHERE device_id = ? ORDER BY id DESC LIMIT ?`,
		deviceID, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	return scanDevices(rows)
}

func scanDevices(rows *sql.Rows) ([]DeviceRecord, error) {
	defer rows.Close()

	records := []DeviceRecord{}
	for rows.Next() {
		var rec DeviceRecord
		var recorded string
		if err := rows.Scan(&rec.PassID, &rec.DeviceID, &rec.DeviceType, &rec.State,
			&rec.Error, &rec.Datapoints, &rec.Bindings, &recorded); err != nil {
			return nil, fmt.Errorf("scanning device record: %w", err)
		}
		t, err := parseTime(recorded)
		if err != nil {
			return nil, err
		}
		rec.RecordedAt = t
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device records: %w", err)
	}
	return records, nil
}

// ListCreations returns created datapoints, newest first.
func (r *SQLiteRepository) ListCreations(ctx context.Context, limit int) ([]Creation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pass_id, device_id, datapoint_id, name, created_at
		 FROM datapoint_creations ORDER BY id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying creations: %w", err)
	}
	defer rows.Close()

	creations := []Creation{}
	for rows.Next() {
		var c Creation
		var created string
		if err := rows.Scan(&c.PassID, &c.DeviceID, &c.DatapointID, &c.Name, &created); err != nil {
			return nil, fmt.Errorf("scanning creation: %w", err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		creations = append(creations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating creations: %w", err)
	}
	return creations, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}
