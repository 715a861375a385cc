package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/consult-live/internal/server/middleware"
	"github.com/nguyentranbao-ct/consult-live/internal/usecase"
)

type ChatController interface {
	Directory(c echo.Context, req struct{}) (*models.Directory, error)
	SetSection(c echo.Context, req SetSectionRequest) (usecase.ChatSnapshot, error)
	SelectPeer(c echo.Context, req SelectPeerRequest) (usecase.ChatSnapshot, error)
	SelectCourse(c echo.Context, req SelectCourseRequest) (usecase.ChatSnapshot, error)
	Messages(c echo.Context, req struct{}) ([]models.MessageView, error)
	SendMessage(c echo.Context, req SendMessageRequest) (*SendMessageResponse, error)
	RetryMessage(c echo.Context, req RetryMessageRequest) error
}

type chatController struct {
	chat usecase.ChatUsecase
}

func NewChatController(chat usecase.ChatUsecase) ChatController {
	return &chatController{chat: chat}
}

type SetSectionRequest struct {
	Section models.Section `json:"section" validate:"required,oneof=chat forum"`
}

type SelectPeerRequest struct {
	PeerID string `json:"peer_id" validate:"required"`
}

type SelectCourseRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required,notblank,max=4000"`
}

type SendMessageResponse struct {
	TempID string `json:"temp_id"`
}

type RetryMessageRequest struct {
	TempID string `param:"temp_id" validate:"required"`
}

func (cc *chatController) Directory(c echo.Context, _ struct{}) (*models.Directory, error) {
	return cc.chat.Directory(c.Request().Context())
}

func (cc *chatController) SetSection(c echo.Context, req SetSectionRequest) (usecase.ChatSnapshot, error) {
	if err := cc.chat.SetSection(c.Request().Context(), req.Section); err != nil {
		return usecase.ChatSnapshot{}, err
	}
	return cc.chat.Snapshot(), nil
}

func (cc *chatController) SelectPeer(c echo.Context, req SelectPeerRequest) (usecase.ChatSnapshot, error) {
	if err := cc.chat.SelectPeer(c.Request().Context(), req.PeerID); err != nil {
		return usecase.ChatSnapshot{}, err
	}
	return cc.chat.Snapshot(), nil
}

func (cc *chatController) SelectCourse(c echo.Context, req SelectCourseRequest) (usecase.ChatSnapshot, error) {
	if err := cc.chat.SelectCourse(c.Request().Context(), req.CourseID); err != nil {
		return usecase.ChatSnapshot{}, err
	}
	return cc.chat.Snapshot(), nil
}

func (cc *chatController) Messages(_ echo.Context, _ struct{}) ([]models.MessageView, error) {
	return cc.chat.Messages(), nil
}

func (cc *chatController) SendMessage(c echo.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	tempID, err := cc.chat.Send(c.Request().Context(), req.Text)
	if err != nil {
		return nil, err
	}
	if tempID == "" {
		return nil, pkgmdw.NewResponseError(http.StatusBadRequest, "message_refused", "message was not sent")
	}
	return &SendMessageResponse{TempID: tempID}, nil
}

func (cc *chatController) RetryMessage(c echo.Context, req RetryMessageRequest) error {
	return cc.chat.Retry(c.Request().Context(), req.TempID)
}
