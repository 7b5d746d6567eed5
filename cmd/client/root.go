package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/voicelink/internal/adapters/http"
	"github.com/dkeye/voicelink/internal/app/session"
	"github.com/dkeye/voicelink/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voicelink",
		Short:         "Join a real-time media room from the command line",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.AddCommand(newJoinCmd())
	return root
}

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Connect to a room and stay until interrupted",
		Long: `Connect to a room, optionally publish microphone and camera, and print the
participant list whenever it changes.

Examples:
  voicelink join --room lobby --identity alice --token-url http://localhost:7880/token
  voicelink join --room lobby --identity bob --role listener --http --http-port 8080
  voicelink join --token "$TOKEN" --server wss://media.example --room lobby --identity carol`,
		RunE: runJoin,
	}
	f := cmd.Flags()
	f.String("room", "", "room to join")
	f.String("identity", "", "local identity")
	f.String("display-name", "", "name shown to other participants")
	f.String("role", "", "host, guest or listener")
	f.Bool("publish", true, "request publish rights")
	f.Bool("auto-publish", false, "publish microphone and camera once connected")
	f.String("token", "", "use this token instead of asking the credential service")
	f.String("server", "", "media server address for --token")
	f.String("token-url", "", "credential service URL")
	f.String("codec", "", "signaling codec: json or msgpack")
	f.Int("max-retries", 0, "connect retries on network failures")
	f.Duration("retry-delay", 0, "initial backoff delay")
	f.String("video-file", "", "IVF (VP8) file used as camera")
	f.String("audio-file", "", "Ogg (Opus) file used as microphone")
	f.String("lock-dir", "", "directory for device lock files")
	f.Bool("http", false, "serve the local control API")
	f.Int("http-port", 0, "port of the local control API")
	return cmd
}

func runJoin(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	o, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer o.Close()

	table := newParticipantTable(os.Stdout)
	unsubscribe := o.Subscribe(table.Update)
	defer unsubscribe()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		httpCfg := cfg.HTTP.Config
		httpCfg.Mode = cfg.Mode
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler: router.SetupRouter(gctx, httpCfg, o),
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("control API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		err := o.Connect(gctx)
		switch {
		case err == nil, errors.Is(err, session.ErrAborted):
		case cfg.HTTP.Enabled:
			// The session can still be retried through the control API.
			log.Error().Err(err).Msg("connect failed")
		default:
			return err
		}
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Shutting down")
	if derr := o.Disconnect(context.Background()); derr != nil {
		log.Error().Err(derr).Msg("disconnect")
	}
	return err
}
