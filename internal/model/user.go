package model

import (
	"net/mail"
	"strings"
	"time"
)

// Regras de senha do cadastro e do login
const (
	MinRegisterPasswordLength = 8
	MinLoginPasswordLength    = 6
)

// User representa um usuário da aplicação
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose password hash in JSON
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session representa uma sessão autenticada persistida
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NormalizeEmail aplica trim e minúsculas
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate valida o cadastro e retorna todas as violações
func (r RegisterRequest) Validate() error {
	verr := &ValidationError{}
	validateEmail(verr, r.Email)
	if len(r.Password) < MinRegisterPasswordLength {
		verr.Add("password", "password must be at least 8 characters")
	}
	if r.Password != r.ConfirmPassword {
		verr.Add("confirmPassword", "passwords do not match")
	}
	return verr.OrNil()
}

// Validate valida o login
func (r LoginRequest) Validate() error {
	verr := &ValidationError{}
	validateEmail(verr, r.Email)
	if len(r.Password) < MinLoginPasswordLength {
		verr.Add("password", "password must be at least 6 characters")
	}
	return verr.OrNil()
}

func validateEmail(verr *ValidationError, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		verr.Add("email", "email is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		verr.Add("email", "invalid email address")
	}
}
