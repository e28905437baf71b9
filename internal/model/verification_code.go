package model

type VerificationType string

const (
	VerificationAdminConfirm  VerificationType = "admin_confirm"
	VerificationUserVerify    VerificationType = "user_verify"
	VerificationLoginOTP      VerificationType = "login_otp"
	VerificationPasswordReset VerificationType = "password_reset"
)

// MaxVerificationAttempts is the number of failed lookups a (user, type)
// pair may accumulate before its active code is locked.
const MaxVerificationAttempts = 5

func (t VerificationType) Valid() bool {
	switch t {
	case VerificationAdminConfirm, VerificationUserVerify, VerificationLoginOTP, VerificationPasswordReset:
		return true
	}
	return false
}

// DefaultTTLMinutes is the lifetime each workflow gives its codes.
func (t VerificationType) DefaultTTLMinutes() int {
	if t == VerificationLoginOTP {
		return 10
	}
	return 30
}

type VerificationCode struct {
	ID            string           `json:"id"`
	UserID        int64            `json:"user_id"`
	Code          string           `json:"-"`
	Type          VerificationType `json:"type"`
	Metadata      string           `json:"metadata,omitempty"`
	ExpiresAt     int64            `json:"expires_at"`
	ConsumedAt    *int64           `json:"consumed_at,omitempty"`
	AttemptCount  int              `json:"attempt_count"`
	LastAttemptAt *int64           `json:"last_attempt_at,omitempty"`
	LockedUntil   *int64           `json:"locked_until,omitempty"`
	CreatedAt     int64            `json:"created_at"`
}

// Matchable reports whether the code may be returned by a lookup at now.
func (c *VerificationCode) Matchable(now int64) bool {
	if c.ConsumedAt != nil || now >= c.ExpiresAt {
		return false
	}
	return !c.IsLocked(now)
}

func (c *VerificationCode) IsLocked(now int64) bool {
	return c.LockedUntil != nil && *c.LockedUntil > now
}

// AttemptResult is the state of a code after a failed lookup was charged
// to it.
type AttemptResult struct {
	Count       int
	LockedUntil *int64
}
