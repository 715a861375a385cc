package app

import (
	"context"
	"sync"

	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/backend"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/rtc"
	"github.com/nguyentranbao-ct/consult-live/internal/server"
	"github.com/nguyentranbao-ct/consult-live/internal/usecase"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func Invoke(funcs ...any) *fx.App {
	conf := config.MustLoad()
	log := MustLogger(conf.Log)
	log.Named("app").Debugw("config loaded",
		"server_addr", conf.Server.Addr,
		"backend", conf.Backend.BaseURL,
		"socket", conf.Socket.URL,
		"database_enabled", conf.Database.Enabled,
		"kafka_enabled", conf.Kafka.Enabled,
	)
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Named("fx").Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Supply(conf, log),
		fx.Provide(
			auth.NewSession,
			backend.NewClient,
			newSocketClient,
			newStreamHub,
			newBeacon,
			newSessionLog,

			fx.Annotate(rtc.NewSignalFactory, fx.As(new(rtc.ClientFactory))),
			fx.Annotate(rtc.NewVirtualDevices, fx.As(new(rtc.Devices))),
			fx.Annotate(rtc.NewSurfaceRegistry, fx.As(fx.Self()), fx.As(new(rtc.Surfaces))),

			usecase.NewChatUsecase,
			usecase.NewSessionUsecase,

			server.NewHandler,
			server.NewChatController,
			server.NewSessionController,
			server.NewAuthController,
			server.NewEcho,
		),
		fx.Invoke(PublishSnapshots),
		fx.Invoke(MountRemoteSurfaces),
		fx.Invoke(LeaveOnShutdown),
		fx.Invoke(funcs...),
	)
}

// PublishSnapshots pushes every chat and session change to the UI stream.
func PublishSnapshots(chat usecase.ChatUsecase, session usecase.SessionUsecase, hub *server.StreamHub) {
	chat.Observe(hub.PublishChat)
	session.Observe(hub.PublishSession)
}

// MountRemoteSurfaces keeps one remote video surface per participant
// publishing video, the way the page renders a tile for each of them.
func MountRemoteSurfaces(session usecase.SessionUsecase, surfaces *rtc.SurfaceRegistry) {
	var (
		mu      sync.Mutex
		mounted = map[string]bool{}
	)
	session.Observe(func(snap *models.SessionSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		want := map[string]bool{}
		if snap != nil {
			for _, p := range snap.Participants {
				if p.HasVideo {
					want[rtc.RemoteSurface(p.UID)] = true
				}
			}
		}
		for key := range mounted {
			if !want[key] {
				surfaces.Unmount(key)
				delete(mounted, key)
			}
		}
		for key := range want {
			if !mounted[key] {
				surfaces.Mount(key)
				mounted[key] = true
			}
		}
	})
}

// LeaveOnShutdown tears the live session down when the process stops, the
// same way closing the page does.
func LeaveOnShutdown(lc fx.Lifecycle, session usecase.SessionUsecase, log *zap.SugaredLogger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Leave also aborts a join still in flight
			if _, err := session.Current(); err == nil {
				log.Named("app").Infow("leaving live session on shutdown")
			}
			session.Leave(ctx, models.LeaveReasonUnload)
			return nil
		},
	})
}
