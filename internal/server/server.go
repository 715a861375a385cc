package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	pkgmdw "github.com/nguyentranbao-ct/consult-live/internal/server/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Controllers struct {
	fx.In

	Handler Controller
	Chat    ChatController
	Session SessionController
	Auth    AuthController
	Stream  *StreamHub
}

// NewEcho builds the gateway with its middleware and routes.
func NewEcho(conf *config.Config, session auth.Session, log *zap.SugaredLogger, ctrl Controllers) (*echo.Echo, error) {
	origin, err := regexp.Compile(conf.Server.AllowedOrigin)
	if err != nil {
		return nil, err
	}
	httpLog := log.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = pkgmdw.ErrorHandler(httpLog)

	logConfig := pkgmdw.LogRequestConfig{
		Logger: httpLog,
		Enabled: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path != "/health" && path != "/metrics"
		},
		QueryParams: func(echo.Context) bool { return true },
		Redact:      []string{"token"},
		KeyAndValues: func(c echo.Context) []any {
			if id := session.Identity(); !id.IsZero() {
				return []any{"user_id", id.ID}
			}
			return nil
		},
	}

	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.CORS(origin))
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			httpLog.Errorw("PANIC RECOVER", "error", err, "stack", string(stack), "request_id", pkgmdw.GetRequestID(c))
			return nil
		},
	}))

	e.GET("/health", ctrl.Handler.Health)

	api := e.Group("/api/v1")
	api.GET("/stream", ctrl.Stream.Handle)

	authAPI := api.Group("/auth")
	authAPI.PUT("/token", pkgmdw.WrapHandler(ctrl.Auth.SetToken))
	authAPI.DELETE("/token", pkgmdw.WrapHandler(ctrl.Auth.Logout))
	authAPI.GET("/me", pkgmdw.WrapHandler(ctrl.Auth.Me))

	chat := api.Group("/chat")
	chat.GET("/directory", pkgmdw.WrapHandler(ctrl.Chat.Directory))
	chat.PUT("/section", pkgmdw.WrapHandler(ctrl.Chat.SetSection))
	chat.PUT("/peer", pkgmdw.WrapHandler(ctrl.Chat.SelectPeer))
	chat.PUT("/course", pkgmdw.WrapHandler(ctrl.Chat.SelectCourse))
	chat.GET("/messages", pkgmdw.WrapHandler(ctrl.Chat.Messages))
	chat.POST("/messages", pkgmdw.WrapHandler(ctrl.Chat.SendMessage))
	chat.POST("/messages/:temp_id/retry", pkgmdw.WrapHandler(ctrl.Chat.RetryMessage))

	sessions := api.Group("/sessions")
	sessions.GET("/current", pkgmdw.WrapHandler(ctrl.Session.Current))
	sessions.POST("/leave", pkgmdw.WrapHandler(ctrl.Session.Leave))
	sessions.PUT("/media", pkgmdw.WrapHandler(ctrl.Session.SetMedia))
	sessions.POST("/screen-share", pkgmdw.WrapHandler(ctrl.Session.ScreenShare))
	sessions.POST("/participants/:uid/mute", pkgmdw.WrapHandler(ctrl.Session.Mute))
	sessions.POST("/participants/:uid/remove", pkgmdw.WrapHandler(ctrl.Session.Remove))
	sessions.POST("/:session_id/join", pkgmdw.WrapHandler(ctrl.Session.Join))
	sessions.GET("/:session_id/log", pkgmdw.WrapHandler(ctrl.Session.Log))

	return e, nil
}

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	log *zap.SugaredLogger,
	e *echo.Echo,
	hub *StreamHub,
) {
	log = log.Named("http")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow("starting HTTP server", "addr", conf.Server.Addr)
				if err := e.Start(conf.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("HTTP server stopped", "error", err)
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := hub.Close(ctx); err != nil {
				log.Warnw("close stream hub", "error", err)
			}
			return e.Shutdown(ctx)
		},
	})
}
