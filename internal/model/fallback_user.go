package model

import "time"

type FallbackState string

const (
	FallbackStateCreated            FallbackState = "created"
	FallbackStateEmailOTPSent       FallbackState = "email_otp_sent"
	FallbackStateEmailVerified      FallbackState = "email_verified"
	FallbackStateAdminCodeGenerated FallbackState = "admin_code_generated"
	FallbackStateAdminConfirmed     FallbackState = "admin_confirmed"
)

// FallbackUser is an account registered while the durable store was down.
// It only lives in process memory until an operator reconciles it.
type FallbackUser struct {
	Email                        string    `json:"email"`
	Password                     string    `json:"-"`
	DisplayName                  string    `json:"display_name"`
	Role                         Role      `json:"role"`
	CreatedAt                    time.Time `json:"created_at"`
	EmailVerificationOTP         string    `json:"-"`
	EmailVerificationSentAt      time.Time `json:"email_verification_sent_at,omitempty"`
	AdminConfirmationCode        string    `json:"-"`
	AdminConfirmationGeneratedAt time.Time `json:"admin_confirmation_generated_at,omitempty"`
	IsEmailVerified              bool      `json:"is_email_verified"`
	IsAdminConfirmed             bool      `json:"is_admin_confirmed"`
}

func (u *FallbackUser) State() FallbackState {
	switch {
	case u.IsAdminConfirmed:
		return FallbackStateAdminConfirmed
	case u.AdminConfirmationCode != "":
		return FallbackStateAdminCodeGenerated
	case u.IsEmailVerified:
		return FallbackStateEmailVerified
	case !u.EmailVerificationSentAt.IsZero():
		return FallbackStateEmailOTPSent
	}
	return FallbackStateCreated
}
