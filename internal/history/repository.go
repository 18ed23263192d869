package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/guestlink-core/internal/link"
)

const (
	// DefaultListLimit is the number of reports List returns by default.
	DefaultListLimit = 50

	// MaxListLimit caps the number of reports List returns.
	MaxListLimit = 200

	// timestampLayout is fixed width so stored timestamps sort as text.
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Report is one accepted guest report.
type Report struct {
	// ID is a UUID assigned when the report is stored.
	ID string `json:"id"`

	// MAC is the reporting guest.
	MAC link.Address `json:"mac"`

	// Command is the 4-character command that carried the report.
	Command string `json:"command"`

	// ButtonPresses is the counter value reported (0 for discovery).
	ButtonPresses uint32 `json:"buttonPresses"`

	// ReceivedAt is when the report was accepted (UTC).
	ReceivedAt time.Time `json:"receivedAt"`
}

// Repository stores and retrieves reports.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one report. Empty ID and zero ReceivedAt are filled in.
	Record(ctx context.Context, r Report) error

	// List returns the most recent reports for mac, newest first.
	// limit is clamped to [1, MaxListLimit]; non-positive selects
	// DefaultListLimit.
	List(ctx context.Context, mac link.Address, limit int) ([]Report, error)

	// Prune deletes reports older than olderThan and returns the count.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the guest_reports table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open SQLite connection.
// The guest_reports table must exist (see migrations).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts a report.
func (r *SQLiteRepository) Record(ctx context.Context, rep Report) error {
	if rep.MAC.IsZero() || rep.Command == "" {
		return fmt.Errorf("%w: mac and command are required", ErrInvalidReport)
	}
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	if rep.ReceivedAt.IsZero() {
		rep.ReceivedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guest_reports (id, mac, command, button_presses, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rep.ID,
		rep.MAC.String(),
		rep.Command,
		int64(rep.ButtonPresses),
		rep.ReceivedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting guest report: %w", err)
	}
	return nil
}

// List returns recent reports for mac, newest first.
func (r *SQLiteRepository) List(ctx context.Context, mac link.Address, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mac, command, button_presses, received_at
		 FROM guest_reports
		 WHERE mac = ?
		 ORDER BY received_at DESC
		 LIMIT ?`,
		mac.String(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying guest reports: %w", err)
	}
	defer rows.Close()

	reports := make([]Report, 0, limit)
	for rows.Next() {
		var (
			rep        Report
			macText    string
			presses    int64
			receivedAt string
		)
		if err := rows.Scan(&rep.ID, &macText, &rep.Command, &presses, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning guest report: %w", err)
		}

		if rep.MAC, err = link.ParseAddress(macText); err != nil {
			return nil, fmt.Errorf("parsing stored mac: %w", err)
		}
		rep.ButtonPresses = uint32(presses) //nolint:gosec // stored from a uint32
		if rep.ReceivedAt, err = time.Parse(timestampLayout, receivedAt); err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}

		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating guest reports: %w", err)
	}

	return reports, nil
}

// Prune deletes reports received before now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM guest_reports WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting guest reports: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
