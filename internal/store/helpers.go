package store

import (
	"database/sql"

	"github.com/appayureze-cloud/astra/internal/models"
)

// scanSessionRow scans a Session from a single sql.Row.
func scanSessionRow(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var stage string
	var lastOTPSentAt, verifiedAt sql.NullTime
	err := row.Scan(
		&sess.PhoneHash, &sess.PhoneNumber, &stage, &sess.IdentityRef, &sess.OTPAttempts,
		&lastOTPSentAt, &verifiedAt, &sess.IsLocked, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.Stage = models.AuthStage(stage)
	if lastOTPSentAt.Valid {
		sess.LastOTPSentAt = &lastOTPSentAt.Time
	}
	if verifiedAt.Valid {
		sess.VerifiedAt = &verifiedAt.Time
	}
	return &sess, nil
}
