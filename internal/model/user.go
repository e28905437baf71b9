package model

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleDev   Role = "dev"
)

// FallbackUserID marks a SessionUser that has no durable row.
const FallbackUserID int64 = -1

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleDev:
		return true
	}
	return false
}

// Privileged roles get the wider OTP request budget.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleDev
}

type User struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	PasswordHash   string `json:"-"`
	DisplayName    string `json:"display_name"`
	Role           Role   `json:"role"`
	EmailVerified  bool   `json:"email_verified"`
	AdminConfirmed bool   `json:"admin_confirmed"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// SessionUser is the authorization view handed to callers.
type SessionUser struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	DisplayName    string `json:"display_name"`
	EmailVerified  bool   `json:"email_verified"`
	AdminConfirmed bool   `json:"admin_confirmed"`
}

func (u *User) SessionView() *SessionUser {
	return &SessionUser{
		ID:             u.ID,
		Email:          u.Email,
		Role:           u.Role,
		DisplayName:    u.DisplayName,
		EmailVerified:  u.EmailVerified,
		AdminConfirmed: u.AdminConfirmed,
	}
}

func (u *SessionUser) IsFallback() bool {
	return u.ID == FallbackUserID
}
