package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/consult-live/internal/usecase"
)

type SessionController interface {
	Join(c echo.Context, req JoinSessionRequest) (*models.SessionSnapshot, error)
	Leave(c echo.Context, req struct{}) error
	Current(c echo.Context, req struct{}) (*models.SessionSnapshot, error)
	SetMedia(c echo.Context, req SetMediaRequest) (*models.SessionSnapshot, error)
	ScreenShare(c echo.Context, req ScreenShareRequest) (*models.SessionSnapshot, error)
	Mute(c echo.Context, req ParticipantRequest) error
	Remove(c echo.Context, req ParticipantRequest) error
	Log(c echo.Context, req SessionLogRequest) (*mongodb.Page[models.SessionLogEntry], error)
}

type sessionController struct {
	session usecase.SessionUsecase
}

func NewSessionController(session usecase.SessionUsecase) SessionController {
	return &sessionController{session: session}
}

type JoinSessionRequest struct {
	SessionID string `param:"session_id" validate:"required"`
}

type SetMediaRequest struct {
	Video *bool `json:"video"`
	Audio *bool `json:"audio"`
}

type ScreenShareRequest struct {
	Enabled bool `json:"enabled"`
}

type ParticipantRequest struct {
	UID string `param:"uid" validate:"required"`
}

type SessionLogRequest struct {
	SessionID string `param:"session_id" validate:"required"`
	Limit     int64  `query:"limit" validate:"gte=0"`
	Skip      int64  `query:"skip" validate:"gte=0"`
}

func (sc *sessionController) Join(c echo.Context, req JoinSessionRequest) (*models.SessionSnapshot, error) {
	return sc.session.Join(c.Request().Context(), req.SessionID)
}

// Leave runs the teardown detached from the request so a client that hangs
// up does not cut it short.
func (sc *sessionController) Leave(c echo.Context, _ struct{}) error {
	if _, err := sc.session.Current(); err != nil {
		return err
	}
	sc.session.Leave(context.WithoutCancel(c.Request().Context()), models.LeaveReasonUser)
	return nil
}

func (sc *sessionController) Current(_ echo.Context, _ struct{}) (*models.SessionSnapshot, error) {
	return sc.session.Current()
}

func (sc *sessionController) SetMedia(c echo.Context, req SetMediaRequest) (*models.SessionSnapshot, error) {
	ctx := c.Request().Context()
	if req.Video != nil {
		if err := sc.session.SetVideoEnabled(ctx, *req.Video); err != nil {
			return nil, err
		}
	}
	if req.Audio != nil {
		if err := sc.session.SetAudioEnabled(ctx, *req.Audio); err != nil {
			return nil, err
		}
	}
	return sc.session.Current()
}

func (sc *sessionController) ScreenShare(c echo.Context, req ScreenShareRequest) (*models.SessionSnapshot, error) {
	if err := sc.session.SetScreenShare(c.Request().Context(), req.Enabled); err != nil {
		return nil, err
	}
	return sc.session.Current()
}

func (sc *sessionController) Mute(c echo.Context, req ParticipantRequest) error {
	return sc.session.Moderate(c.Request().Context(), req.UID, models.ModerateMute)
}

func (sc *sessionController) Remove(c echo.Context, req ParticipantRequest) error {
	return sc.session.Moderate(c.Request().Context(), req.UID, models.ModerateRemove)
}

func (sc *sessionController) Log(c echo.Context, req SessionLogRequest) (*mongodb.Page[models.SessionLogEntry], error) {
	return sc.session.Log(c.Request().Context(), req.SessionID, req.Limit, req.Skip)
}
