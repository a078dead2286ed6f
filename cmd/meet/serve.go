package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/Meet/internal/adapters/capture"
	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/record"
	"github.com/dkeye/Meet/internal/adapters/rtc"
	wsignal "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/adapters/store"
	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var resumeOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and the room client",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&resumeOnStart, "resume", false, "rejoin the saved room on start")
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := store.OpenBolt(cfg.StorePath)
	if err != nil {
		return err
	}
	defer db.Close()

	factory, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.ICEServers))
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	var sinks media.SinkFactory
	if cfg.RecordDir != "" {
		sinks = record.NewRecorder(cfg.RecordDir)
	}
	files := capture.NewFiles(cfg.MediaDir, capture.ScreenOptions{Width: 1920, Height: 1080, FrameRate: 15})

	o := orch.New(orch.Config{
		Requests: gateway.Requests{
			StringIDs:  cfg.StringRoomIDs,
			Bitrate:    cfg.Bitrate,
			Publishers: cfg.Publishers,
		},
		Session: gateway.Options{
			KeepAlive:        cfg.KeepAlivePeriod,
			ReconnectDelay:   cfg.ReconnectDelay,
			ReconnectCeiling: cfg.ReconnectCeiling,
		},
		Video: core.Constraints{
			Width:     cfg.Video.Width,
			Height:    cfg.Video.Height,
			FrameRate: cfg.Video.FrameRate,
		},
	}, orch.Deps{
		Dialer:  wsignal.NewDialer(cfg.GatewayURL),
		Media:   factory,
		Capture: files,
		Devices: files,
		Store:   db,
		Sinks:   sinks,
	})

	if resumeOnStart {
		info, err := o.Resume(ctx)
		switch {
		case errors.Is(err, orch.ErrNothingToResume):
			log.Info().Msg("no saved room to resume")
		case err != nil:
			log.Error().Err(err).Msg("resume failed")
		default:
			log.Info().Str("room", info.Room.String()).Msg("resumed saved room")
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(ctx, cfg, o),
	}

	go func() {
		log.Info().Str("addr", addr).Str("gateway", cfg.GatewayURL).Msg("Meet started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Close(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
	return nil
}
