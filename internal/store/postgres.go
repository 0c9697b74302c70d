// Package store: PostgreSQL-backed session store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/appayureze-cloud/astra/internal/models"
	"github.com/appayureze-cloud/astra/internal/util"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running PostgreSQL migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

const pgSessionColumns = `phone_hash, phone_number, stage, identity_ref, otp_attempts, last_otp_sent_at, verified_at, is_locked, expires_at, created_at, updated_at`

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, phone string) (models.Session, error) {
	if strings.TrimSpace(phone) == "" {
		return models.Session{}, models.ErrEmptyPhoneNumber
	}
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (phone_hash, phone_number, stage, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone_hash) DO NOTHING`,
		hash, util.NormalizePhone(phone), string(models.StageUnverified), now.Add(models.SessionTTL), now, now)
	if err != nil {
		slog.Error("PostgresStore GetOrCreateSession insert failed", "error", err, "phoneHash", hash)
		return models.Session{}, fmt.Errorf("failed to upsert session: %w", err)
	}
	sess, err := s.getSession(ctx, hash, now)
	if err != nil {
		return models.Session{}, err
	}
	if sess == nil {
		return models.Session{}, models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore GetOrCreateSession succeeded", "phoneHash", hash, "stage", sess.Stage)
	return *sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, phone string) (*models.Session, error) {
	return s.getSession(ctx, util.HashPhone(phone), time.Now().UTC())
}

// getSession loads a session by hash and applies the lazy expiry reset.
func (s *PostgresStore) getSession(ctx context.Context, hash string, now time.Time) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgSessionColumns+` FROM auth_sessions WHERE phone_hash = $1`, hash)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore getSession scan failed", "error", err, "phoneHash", hash)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.Expired(now) {
		newExpiry := now.Add(models.SessionTTL)
		_, err := s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET stage = $1, otp_attempts = 0, is_locked = FALSE, expires_at = $2, updated_at = $3
			WHERE phone_hash = $4 AND expires_at < $5`,
			string(models.StageUnverified), newExpiry, now, hash, now)
		if err != nil {
			slog.Error("PostgresStore getSession expiry reset failed", "error", err, "phoneHash", hash)
			return nil, fmt.Errorf("failed to reset expired session: %w", err)
		}
		sess.Stage = models.StageUnverified
		sess.OTPAttempts = 0
		sess.IsLocked = false
		sess.ExpiresAt = newExpiry
		sess.UpdatedAt = now
		slog.Debug("PostgresStore session expired, reset applied", "phoneHash", hash)
	}
	return sess, nil
}

func (s *PostgresStore) UpdateStage(ctx context.Context, phone string, stage models.AuthStage, identityRef string) error {
	if !models.IsValidAuthStage(stage) {
		return models.ErrInvalidStage
	}
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	var res sql.Result
	var err error
	if stage == models.StageVerified {
		res, err = s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET stage = $1, identity_ref = CASE WHEN $2 != '' THEN $2 ELSE identity_ref END,
				verified_at = $3, updated_at = $3
			WHERE phone_hash = $4`,
			string(stage), identityRef, now, hash)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE auth_sessions SET stage = $1, identity_ref = CASE WHEN $2 != '' THEN $2 ELSE identity_ref END,
				updated_at = $3
			WHERE phone_hash = $4`,
			string(stage), identityRef, now, hash)
	}
	if err != nil {
		slog.Error("PostgresStore UpdateStage failed", "error", err, "phoneHash", hash, "stage", stage)
		return fmt.Errorf("failed to update stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore UpdateStage succeeded", "phoneHash", hash, "stage", stage)
	return nil
}

func (s *PostgresStore) RecordOTPSent(ctx context.Context, phone string) (bool, error) {
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	cutoff := now.Add(-models.OTPCooldown)
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions SET last_otp_sent_at = $1, stage = $2, updated_at = $1
		WHERE phone_hash = $3 AND (last_otp_sent_at IS NULL OR last_otp_sent_at <= $4)`,
		now, string(models.StageOTPSent), hash, cutoff)
	if err != nil {
		slog.Error("PostgresStore RecordOTPSent failed", "error", err, "phoneHash", hash)
		return false, fmt.Errorf("failed to record otp sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	slog.Debug("PostgresStore RecordOTPSent", "phoneHash", hash, "allowed", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) IncrementOTPAttempts(ctx context.Context, phone string) (models.AttemptState, error) {
	now := time.Now().UTC()
	hash := util.HashPhone(phone)
	var state models.AttemptState
	err := s.db.QueryRowContext(ctx, `
		UPDATE auth_sessions SET
			otp_attempts = otp_attempts + 1,
			is_locked = CASE WHEN otp_attempts + 1 >= $1 THEN TRUE ELSE is_locked END,
			stage = CASE WHEN otp_attempts + 1 >= $1 THEN $2 ELSE stage END,
			updated_at = $3
		WHERE phone_hash = $4
		RETURNING otp_attempts, is_locked`,
		models.MaxOTPAttempts, string(models.StageUnverified), now, hash).
		Scan(&state.Attempts, &state.Locked)
	if err == sql.ErrNoRows {
		return models.AttemptState{}, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore IncrementOTPAttempts failed", "error", err, "phoneHash", hash)
		return models.AttemptState{}, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	slog.Debug("PostgresStore IncrementOTPAttempts succeeded", "phoneHash", hash, "attempts", state.Attempts, "locked", state.Locked)
	return state, nil
}

func (s *PostgresStore) ResetOTPAttempts(ctx context.Context, phone string) error {
	hash := util.HashPhone(phone)
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions SET otp_attempts = 0, is_locked = FALSE, updated_at = $1 WHERE phone_hash = $2`,
		time.Now().UTC(), hash)
	if err != nil {
		slog.Error("PostgresStore ResetOTPAttempts failed", "error", err, "phoneHash", hash)
		return fmt.Errorf("failed to reset otp attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore ResetOTPAttempts succeeded", "phoneHash", hash)
	return nil
}

func (s *PostgresStore) IsVerified(ctx context.Context, phone string) (bool, error) {
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

func (s *PostgresStore) ClearAuth(ctx context.Context, phone string) error {
	hash := util.HashPhone(phone)
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions SET stage = $1, identity_ref = '', verified_at = NULL, updated_at = $2
		WHERE phone_hash = $3`,
		string(models.StageUnverified), time.Now().UTC(), hash)
	if err != nil {
		slog.Error("PostgresStore ClearAuth failed", "error", err, "phoneHash", hash)
		return fmt.Errorf("failed to clear auth: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	slog.Debug("PostgresStore ClearAuth succeeded", "phoneHash", hash)
	return nil
}

func (s *PostgresStore) AddMedicineResponse(ctx context.Context, r models.MedicineResponse) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO medicine_responses (phone_hash, action, responded_at) VALUES ($1, $2, $3)`,
		r.PhoneHash, string(r.Action), r.Time)
	if err != nil {
		slog.Error("PostgresStore AddMedicineResponse failed", "error", err, "phoneHash", r.PhoneHash)
		return fmt.Errorf("failed to insert medicine response: %w", err)
	}
	slog.Debug("PostgresStore AddMedicineResponse succeeded", "phoneHash", r.PhoneHash, "action", r.Action)
	return nil
}

func (s *PostgresStore) SetRemindersEnabled(ctx context.Context, phone string, enabled bool) error {
	hash := util.HashPhone(phone)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_prefs (phone_hash, enabled, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (phone_hash) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`,
		hash, enabled, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SetRemindersEnabled failed", "error", err, "phoneHash", hash)
		return fmt.Errorf("failed to set reminder preference: %w", err)
	}
	slog.Debug("PostgresStore SetRemindersEnabled succeeded", "phoneHash", hash, "enabled", enabled)
	return nil
}

func (s *PostgresStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`,
		r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
