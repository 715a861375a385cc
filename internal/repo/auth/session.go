package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"go.uber.org/zap"
)

// Session holds the bearer token of the signed-in user. The backend verifies
// the token; the claims are only read here to know who we are.
type Session interface {
	Token() string
	Identity() models.Identity
	SetToken(token string) (models.Identity, error)
	Logout()
	OnLogout(fn func()) (off func())
}

type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

type session struct {
	log *zap.SugaredLogger

	mu       sync.RWMutex
	token    string
	identity models.Identity
	hooks    map[int]func()
	nextHook int
}

func NewSession(conf *config.Config, log *zap.SugaredLogger) (Session, error) {
	s := &session{
		log:   log.Named("auth"),
		hooks: make(map[int]func()),
	}
	if conf.Auth.Token == "" {
		return s, nil
	}
	if _, err := s.SetToken(conf.Auth.Token); err != nil {
		return nil, err
	}
	return s, nil
}

func ParseIdentity(token string) (models.Identity, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return models.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return models.Identity{}, fmt.Errorf("token has no subject")
	}
	role := models.Role(strings.ToLower(claims.Role))
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return models.Identity{
		ID:   claims.Subject,
		Name: claims.Name,
		Role: role,
	}, nil
}

func (s *session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *session) Identity() models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *session) SetToken(token string) (models.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	identity, err := ParseIdentity(token)
	if err != nil {
		return models.Identity{}, err
	}
	s.mu.Lock()
	s.token = token
	s.identity = identity
	s.mu.Unlock()
	s.log.Infow("signed in", "user_id", identity.ID, "role", identity.Role)
	return identity, nil
}

// Logout clears the token and runs the logout hooks. It does nothing when
// already signed out.
func (s *session) Logout() {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	userID := s.identity.ID
	s.token = ""
	s.identity = models.Identity{}
	hooks := make([]func(), 0, len(s.hooks))
	for i := 0; i < s.nextHook; i++ {
		if fn, ok := s.hooks[i]; ok {
			hooks = append(hooks, fn)
		}
	}
	s.mu.Unlock()

	s.log.Warnw("signed out", "user_id", userID)
	for _, fn := range hooks {
		fn()
	}
}

func (s *session) OnLogout(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextHook
	s.nextHook++
	s.hooks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.hooks, id)
	}
}
