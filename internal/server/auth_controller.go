package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"go.uber.org/zap"
)

// Connector is the realtime connection, restarted after a new sign in.
type Connector interface {
	Start()
	Stop(ctx context.Context) error
}

type AuthController interface {
	SetToken(c echo.Context, req SetTokenRequest) (models.Identity, error)
	Me(c echo.Context, req struct{}) (models.Identity, error)
	Logout(c echo.Context, req struct{}) error
}

type authController struct {
	session   auth.Session
	connector Connector
	log       *zap.SugaredLogger
}

func NewAuthController(session auth.Session, connector Connector, log *zap.SugaredLogger) AuthController {
	return &authController{
		session:   session,
		connector: connector,
		log:       log.Named("auth"),
	}
}

type SetTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// SetToken signs in with a new bearer token. Signing in as another user
// first logs the current one out, which leaves their rooms and session.
func (ac *authController) SetToken(c echo.Context, req SetTokenRequest) (models.Identity, error) {
	next, err := auth.ParseIdentity(strings.TrimSpace(strings.TrimPrefix(req.Token, "Bearer ")))
	if err != nil {
		ac.log.Debugw("reject token", "error", err)
		return models.Identity{}, echo.NewHTTPError(http.StatusBadRequest, "invalid token")
	}
	if prev := ac.session.Identity(); !prev.IsZero() && prev.ID != next.ID {
		ac.log.Infow("switching user", "from", prev.ID, "to", next.ID)
		ac.session.Logout()
		if err := ac.connector.Stop(c.Request().Context()); err != nil {
			return models.Identity{}, fmt.Errorf("stop realtime connection: %w", err)
		}
	}
	identity, err := ac.session.SetToken(req.Token)
	if err != nil {
		return models.Identity{}, echo.NewHTTPError(http.StatusBadRequest, "invalid token")
	}
	ac.connector.Start()
	return identity, nil
}

func (ac *authController) Me(_ echo.Context, _ struct{}) (models.Identity, error) {
	identity := ac.session.Identity()
	if identity.IsZero() {
		return models.Identity{}, models.ErrUnauthenticated
	}
	return identity, nil
}

func (ac *authController) Logout(_ echo.Context, _ struct{}) error {
	ac.session.Logout()
	return nil
}
