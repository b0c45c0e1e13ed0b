package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository armazena os usuários
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// SessionRepository armazena as sessões autenticadas
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuthService handles registration, login and session lifecycle
type AuthService struct {
	users           UserRepository
	sessions        SessionRepository
	sessionDuration time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	// Background cleanup control
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup
	startOnce     sync.Once
}

// NewAuthService creates a new authentication service
func NewAuthService(users UserRepository, sessions SessionRepository, sessionDuration time.Duration) *AuthService {
	if sessionDuration <= 0 {
		sessionDuration = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AuthService{
		users:           users,
		sessions:        sessions,
		sessionDuration: sessionDuration,
		cleanupInterval: time.Hour,
		now:             time.Now,
		cleanupCtx:      ctx,
		cleanupCancel:   cancel,
	}
}

// SessionDuration retorna a validade das sessões
func (s *AuthService) SessionDuration() time.Duration {
	return s.sessionDuration
}

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with its hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Register cria um usuário com senha em bcrypt
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("gerar hash da senha: %w", err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        model.NormalizeEmail(req.Email),
		PasswordHash: hash,
	}
	err = s.users.Create(ctx, user)
	logger.Audit(ctx, logger.AuditEvent{
		Action:   logger.AuditActionUserCreate,
		UserID:   user.ID,
		Email:    user.Email,
		Resource: "user",
		Success:  err == nil,
		Error:    errString(err),
	})
	if err != nil {
		return nil, err
	}

	logger.Get(ctx).Info().Str("user_id", user.ID).Msg("Usuário cadastrado")
	return user, nil
}

// Login valida as credenciais e cria uma sessão persistida
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest, userAgent string) (*model.Session, *model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	email := model.NormalizeEmail(req.Email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, nil, err
	}
	if user == nil || !CheckPassword(req.Password, user.PasswordHash) {
		metrics.RecordLogin(false)
		logger.Audit(ctx, logger.AuditEvent{
			Action:   logger.AuditActionLoginFailed,
			Email:    email,
			Resource: "session",
			Success:  false,
		})
		return nil, nil, model.ErrInvalidCredentials
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, nil, fmt.Errorf("gerar sessão: %w", err)
	}

	now := s.now()
	session := &model.Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionDuration),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("gravar sessão: %w", err)
	}

	metrics.RecordLogin(true)
	logger.Audit(ctx, logger.AuditEvent{
		Action:   logger.AuditActionLogin,
		UserID:   user.ID,
		Email:    user.Email,
		Resource: "session",
		Success:  true,
	})
	return session, user, nil
}

// Logout remove a sessão
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.sessions.Delete(ctx, token)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	logger.Audit(ctx, logger.AuditEvent{
		Action:   logger.AuditActionLogout,
		UserID:   logger.GetUserID(ctx),
		Resource: "session",
		Success:  true,
	})
	return nil
}

// ResolveSession returns the live session for token; expired sessions are
// deleted and reported as model.ErrNotFound.
func (s *AuthService) ResolveSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, model.ErrNotFound
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, token); err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Get(ctx).Warn().Err(err).Msg("Erro ao remover sessão expirada")
		}
		logger.Audit(ctx, logger.AuditEvent{
			Action:   logger.AuditActionSessionExpired,
			UserID:   session.UserID,
			Resource: "session",
			Success:  true,
		})
		return nil, model.ErrNotFound
	}
	return session, nil
}

// CurrentUser retorna o usuário autenticado
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// StartSessionCleanup starts a goroutine to periodically purge expired sessions
func (s *AuthService) StartSessionCleanup() {
	s.startOnce.Do(func() {
		s.cleanupWg.Add(1)
		go s.cleanupLoop()
	})
}

// StopSessionCleanup para a rotina de limpeza
func (s *AuthService) StopSessionCleanup() {
	s.cleanupCancel()
	s.cleanupWg.Wait()
}

func (s *AuthService) cleanupLoop() {
	defer s.cleanupWg.Done()

	log := logger.Global()
	log.Info().Msg("Limpeza de sessões iniciada")

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupCtx.Done():
			log.Info().Msg("Limpeza de sessões parando")
			return
		case <-ticker.C:
			s.purgeExpired(s.cleanupCtx)
		}
	}
}

func (s *AuthService) purgeExpired(ctx context.Context) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		logger.Global().Error().Err(err).Msg("Erro ao remover sessões expiradas")
		return
	}
	if n > 0 {
		logger.Global().Info().Int64("removed", n).Msg("Sessões expiradas removidas")
	}
}

// generateSessionToken generates a secure random session token
func generateSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
