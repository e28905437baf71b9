package model

const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailed      = "auth.login.failed"
	ActionLogout           = "auth.logout"
	ActionOTPRequested     = "auth.otp.requested"
	ActionPasswordForgot   = "auth.password.forgot"
	ActionPasswordReset    = "auth.password.reset"
	ActionFallbackRegister = "auth.fallback.register"
	ActionFallbackVerified = "auth.fallback.email_verified"
	ActionFallbackAdminOK  = "auth.fallback.admin_confirmed"
)

type ActivityLog struct {
	ID        string                 `json:"id"`
	UserID    *int64                 `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt int64                  `json:"created_at"`
}
