package users

import (
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType represents a user role
type RoleType string

const (
	RoleAdmin  RoleType = "admin"  // Can manage users and force-revoke sessions
	RoleEditor RoleType = "editor" // Can create and edit prompts
	RoleViewer RoleType = "viewer" // Read-only access
)

// AccountStatus represents the lifecycle state of a user account
type AccountStatus string

const (
	StatusActive        AccountStatus = "active"
	StatusSuspended     AccountStatus = "suspended"
	StatusPendingReset  AccountStatus = "pending_reset" // password reset requested, login forces a new password
)

type User struct {
	ID           string        `json:"id,omitempty"`          // Unique identifier for the user
	Email        string        `json:"email,omitempty"`       // User's email address
	Username     string        `json:"username,omitempty"`    // Unique username
	PasswordHash string        `json:"-"`                     // Hashed version of the user's password - never serialize
	FirstName    string        `json:"first_name,omitempty"`  // First name of the user
	LastName     string        `json:"last_name,omitempty"`   // Last name of the user
	Role         RoleType      `json:"role,omitempty"`        // Role drives the feature permission table
	Status       AccountStatus `json:"status,omitempty"`      // Account lifecycle state
	DateJoined   time.Time     `json:"date_joined,omitempty"` // Date and time when the user registered
	LastLogin    time.Time     `json:"last_login,omitempty"`  // Last time the user logged in
}

// CanLogin reports whether the account state permits authentication.
func (u *User) CanLogin() bool {
	return u.Status == StatusActive || u.Status == StatusPendingReset
}

// Public returns a copy safe to hand to callers outside the auth boundary.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.PasswordHash = ""
	return &clone
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// HashPasswordWithCost hashes with an explicit bcrypt cost (config-driven).
func HashPasswordWithCost(password string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
