// Package store: SQLite-backed session store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the database file; the parent directory is
// created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteSessionColumns = `phone_hash, phone_number, stage, identity_ref, otp_attempts, last_otp_sent_at, verified_at, is_locked, expires_at, created_at, updated_at`

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, phone string) (models.Session, error) {
	if strings.TrimSpace(phone) == "" {
		return models.Session{}, models.ErrEmptyPhoneNumber
	}
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (phone_hash, phone_number, stage, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone_hash) DO NOTHING`,
		hash, util.NormalizePhone(phone), string(models.StageUnverified), now.Add(models.SessionTTL), now, now)
	if err != nil {
		slog.Error("SQLiteStore GetOrCreateSession insert failed", "error", err, "phoneHash", hash)
		return models.Session{}, fmt.Errorf("failed to upsert session: %w", err)
	}
	sess, err := s.getSession(ctx, hash, now)
	if err != nil {
		return models.Session{}, err
	}
	if sess == nil {
		return models.Session{}, models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore GetOrCreateSession succeeded", "phoneHash", hash, "stage", sess.Stage)
	return *sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	return s.getSession(ctx, util.HashPhone(phone), time.Now().UTC())
}

// getSession loads a session by hash and applies the lazy expiry reset.
func (s *SQLiteStore) getSession(ctx context.Context, hash string, now time.Time) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM auth_sessions WHERE phone_hash = ?`, hash)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore getSession scan failed", "error", err, "phoneHash", hash)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.Expired(now) {
		newExpiry := now.Add(models.SessionTTL)
		_, err := s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET stage = ?, otp_attempts = 0, is_locked = 0, expires_at = ?, updated_at = ?
			WHERE phone_hash = ? AND expires_at < ?`,
			string(models.StageUnverified), newExpiry, now, hash, now)
		if err != nil {
			slog.Error("SQLiteStore getSession expiry reset failed", "error", err, "phoneHash", hash)
			return nil, fmt.Errorf("failed to reset expired session: %w", err)
		}
		sess.Stage = models.StageUnverified
		sess.OTPAttempts = 0
		sess.IsLocked = false
		sess.ExpiresAt = newExpiry
		sess.UpdatedAt = now
		slog.Debug("SQLiteStore session expired, reset applied", "phoneHash", hash)
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateStage(ctx context.Context, phone string, stage models.AuthStage, identityRef string) error {
	if !models.IsValidAuthStage(stage) {
		return models.ErrInvalidStage
	}
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	var res sql.Result
	var err error
	if stage == models.StageVerified {
		res, err = s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET stage = ?, identity_ref = CASE WHEN ? != '' THEN ? ELSE identity_ref END,
				verified_at = ?, updated_at = ?
			WHERE phone_hash = ?`,
			string(stage), identityRef, identityRef, now, now, hash)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET stage = ?, identity_ref = CASE WHEN ? != '' THEN ? ELSE identity_ref END,
				updated_at = ?
			WHERE phone_hash = ?`,
			string(stage), identityRef, identityRef, now, hash)
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateStage failed", "error", err, "phoneHash", hash, "stage", stage)
		return fmt.Errorf("failed to update stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore UpdateStage succeeded", "phoneHash", hash, "stage", stage)
	return nil
}

func (s *SQLiteStore) RecordOTPSent(ctx context.Context, phone string) (bool, error) {
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	cutoff := now.Add(-models.OTPCooldown)
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions SET last_otp_sent_at = ?, stage = ?, updated_at = ?
		WHERE phone_hash = ? AND (last_otp_sent_at IS NULL OR last_otp_sent_at <= ?)`,
		now, string(models.StageOTPSent), now, hash, cutoff)
	if err != nil {
		slog.Error("SQLiteStore RecordOTPSent failed", "error", err, "phoneHash", hash)
		return false, fmt.Errorf("failed to record otp sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("SQLiteStore RecordOTPSent", "phoneHash", hash, "allowed", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) IncrementOTPAttempts(ctx context.Context, phone string) (models.AttemptState, error) {
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.AttemptState{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions SET
			otp_attempts = otp_attempts + 1,
			is_locked = CASE WHEN otp_attempts + 1 >= ? THEN 1 ELSE is_locked END,
			stage = CASE WHEN otp_attempts + 1 >= ? THEN ? ELSE stage END,
			updated_at = ?
		WHERE phone_hash = ?`,
		models.MaxOTPAttempts, models.MaxOTPAttempts, string(models.StageUnverified), now, hash)
	if err != nil {
		slog.Error("SQLiteStore IncrementOTPAttempts failed", "error", err, "phoneHash", hash)
		return models.AttemptState{}, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.AttemptState{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.AttemptState{}, models.ErrSessionNotFound
	}

	var state models.AttemptState
	if err := tx.QueryRowContext(ctx, `SELECT otp_attempts, is_locked FROM auth_sessions WHERE phone_hash = ?`, hash).
		Scan(&state.Attempts, &state.Locked); err != nil {
		slog.Error("SQLiteStore IncrementOTPAttempts readback failed", "error", err, "phoneHash", hash)
		return models.AttemptState{}, fmt.Errorf("failed to read attempt state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.AttemptState{}, fmt.Errorf("failed to commit: %w", err)
	}
	slog.Debug("SQLiteStore IncrementOTPAttempts succeeded", "phoneHash", hash, "attempts", state.Attempts, "locked", state.Locked)
	return state, nil
}

func (s *SQLiteStore) ResetOTPAttempts(ctx context.Context, phone string) error {
	hash := util.HashPhone(phone)
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions SET otp_attempts = 0, is_locked = 0, updated_at = ? WHERE phone_hash = ?`,
		time.Now().UTC(), hash)
	if err != nil {
		slog.Error("SQLiteStore ResetOTPAttempts failed", "error", err, "phoneHash", hash)
		return fmt.Errorf("failed to reset otp attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore ResetOTPAttempts succeeded", "phoneHash", hash)
	return nil
}

func (s *SQLiteStore) IsVerified(ctx context.Context, phone string) (bool, error) {
	now := time.Now().UTC()
	sess, err := s.getSession(ctx, util.HashPhone(phone), now)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	return models.IsVerifiedStage(sess.Stage) && now.Before(sess.ExpiresAt) && !sess.IsLocked, nil
}

func (s *SQLiteStore) ClearAuth(ctx context.Context, phone string) error {
	hash := util.HashPhone(phone)
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions SET stage = ?, identity_ref = '', verified_at = NULL, updated_at = ?
		WHERE phone_hash = ?`,
		string(models.StageUnverified), time.Now().UTC(), hash)
	if err != nil {
		slog.Error("SQLiteStore ClearAuth failed", "error", err, "phoneHash", hash)
		return fmt.Errorf("failed to clear auth: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("SQLiteStore ClearAuth succeeded", "phoneHash", hash)
	return nil
}

func (s *SQLiteStore) AddMedicineResponse(ctx context.Context, r models.MedicineResponse) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO medicine_responses (phone_hash, action, responded_at) VALUES (?, ?, ?)`,
		r.PhoneHash, string(r.Action), r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddMedicineResponse failed", "error", err, "phoneHash", r.PhoneHash)
		return fmt.Errorf("failed to insert medicine response: %w", err)
	}
	slog.Debug("SQLiteStore AddMedicineResponse succeeded", "phoneHash", r.PhoneHash, "action", r.Action)
	return nil
}

func (s *SQLiteStore) SetRemindersEnabled(ctx context.Context, phone string, enabled bool) error {
	hash := util.HashPhone(phone)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_prefs (phone_hash, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(phone_hash) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		hash, enabled, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SetRemindersEnabled failed", "error", err, "phoneHash", hash)
		return fmt.Errorf("failed to set reminder preference: %w", err)
	}
	slog.Debug("SQLiteStore SetRemindersEnabled succeeded", "phoneHash", hash, "enabled", enabled)
	return nil
}

func (s *SQLiteStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`,
		r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
