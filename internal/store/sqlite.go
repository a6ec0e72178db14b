package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/bank-notifications/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveNotifications inserts or refreshes a batch of notifications. A read
// flag already recorded locally is never cleared by an older copy.
func (s *SQLiteStore) SaveNotifications(
	ctx context.Context,
	userID model.UserID,
	ns []model.Notification,
) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO notifications (
			id, user_id, message, type, raw_type, severity,
			timestamp, is_read, reference_id, reference_type,
			additional_data, archived_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)
		ON CONFLICT(id) DO UPDATE SET
			user_id         = excluded.user_id,
			message         = excluded.message,
			type            = excluded.type,
			raw_type        = excluded.raw_type,
			severity        = excluded.severity,
			timestamp       = excluded.timestamp,
			is_read         = MAX(notifications.is_read, excluded.is_read),
			reference_id    = excluded.reference_id,
			reference_type  = excluded.reference_type,
			additional_data = excluded.additional_data,
			archived_at     = excluded.archived_at`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, n := range ns {
		var refID sql.NullInt64
		if n.ReferenceID != nil {
			refID = sql.NullInt64{Int64: *n.ReferenceID, Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			int64(n.ID), int64(userID), n.Message, string(n.Type), n.RawType, int(n.Severity),
			n.Timestamp.UTC(), boolToInt(n.IsRead), refID, string(n.ReferenceType),
			n.AdditionalData, now,
		)
		if err != nil {
			return fmt.Errorf("upserting notification %d: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// Notifications returns every archived notification for a user, newest
// first.
func (s *SQLiteStore) Notifications(
	ctx context.Context,
	userID model.UserID,
) ([]model.Notification, error) {
	return s.QueryNotifications(ctx, userID, NotificationFilter{})
}

// QueryNotifications retrieves a user's notifications matching the filter,
// newest first.
func (s *SQLiteStore) QueryNotifications(
	ctx context.Context,
	userID model.UserID,
	filter NotificationFilter,
) ([]model.Notification, error) {
	conditions := []string{"user_id = ?"}
	args := []interface{}{int64(userID)}

	if filter.UnreadOnly {
		conditions = append(conditions, "is_read = 0")
	}
	if filter.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if filter.MinSeverity != nil {
		conditions = append(conditions, "severity >= ?")
		args = append(args, int(*filter.MinSeverity))
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, "message LIKE ?")
		args = append(args, "%"+*filter.Query+"%")
	}

	query := "SELECT " + notificationColumns + " FROM notifications WHERE " +
		strings.Join(conditions, " AND ") +
		" ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead marks a single archived notification as read.
// Unknown IDs are ignored.
func (s *SQLiteStore) MarkNotificationRead(
	ctx context.Context,
	id model.NotificationID,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", int64(id),
	)
	if err != nil {
		return fmt.Errorf("marking notification %d as read: %w", id, err)
	}
	return nil
}

// UnreadCount counts a user's archived unread notifications.
func (s *SQLiteStore) UnreadCount(ctx context.Context, userID model.UserID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", int64(userID),
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// DeleteNotifications removes a user's archive.
func (s *SQLiteStore) DeleteNotifications(ctx context.Context, userID model.UserID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE user_id = ?", int64(userID))
	if err != nil {
		return fmt.Errorf("deleting notifications for user %d: %w", userID, err)
	}
	return nil
}

// SavePreferences caches the last preferences document seen for a user.
func (s *SQLiteStore) SavePreferences(
	ctx context.Context,
	userID model.UserID,
	prefs model.Preferences,
) error {
	doc, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO preferences (user_id, document, updated_at)
		VALUES (?, ?, ?)`,
		int64(userID), string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving preferences for user %d: %w", userID, err)
	}
	return nil
}

// GetPreferences returns the cached preferences for a user, or ErrNotFound.
func (s *SQLiteStore) GetPreferences(
	ctx context.Context,
	userID model.UserID,
) (*model.Preferences, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc,
		"SELECT document FROM preferences WHERE user_id = ?", int64(userID),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("preferences for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting preferences for user %d: %w", userID, err)
	}

	var prefs model.Preferences
	if err := json.Unmarshal([]byte(doc), &prefs); err != nil {
		return nil, fmt.Errorf("unmarshaling preferences: %w", err)
	}
	return &prefs, nil
}

const notificationColumns = `id, message, type, raw_type, severity, timestamp,
	is_read, reference_id, reference_type, additional_data`

// scanNotification scans a notification row from a sqlx.Rows result set.
func scanNotification(rows *sqlx.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		id        int64
		typ       string
		severity  int
		timestamp time.Time
		readInt   int
		refID     sql.NullInt64
		refType   string
	)

	err := rows.Scan(
		&id, &n.Message, &typ, &n.RawType, &severity, &timestamp,
		&readInt, &refID, &refType, &n.AdditionalData,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	n.ID = model.NotificationID(id)
	n.Type = model.ParseNotificationType(typ)
	n.Severity = model.Severity(severity)
	n.Timestamp = timestamp.Local()
	n.IsRead = readInt != 0
	n.ReferenceType = model.ReferenceType(refType)
	if refID.Valid {
		v := refID.Int64
		n.ReferenceID = &v
	}

	return n, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
