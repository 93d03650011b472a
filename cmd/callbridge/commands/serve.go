// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sprucehealth/callbridge/carrier"
	"github.com/sprucehealth/callbridge/config"
	"github.com/sprucehealth/callbridge/console"
	"github.com/sprucehealth/callbridge/engine"
	"github.com/sprucehealth/callbridge/httpstub"
	"github.com/sprucehealth/callbridge/storage"
	"github.com/sprucehealth/callbridge/twilioapi"
	"github.com/sprucehealth/callbridge/vonage"
	"github.com/sprucehealth/callbridge/webhook"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher and the carrier webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		setupLogger(cfg.LogLevel)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		c, err := newCarrier(cfg)
		if err != nil {
			return err
		}
		store, err := newStore(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfg, c, store)
	},
}

func newCarrier(cfg *config.Config) (carrier.Client, error) {
	hc := httpstub.NewDefaultClient(30 * time.Second)
	var (
		c   carrier.Client
		err error
	)
	switch cfg.Carrier {
	case config.CarrierVonage:
		key, kerr := vonage.LoadPrivateKey(cfg.Vonage.PrivateKeyPath)
		if kerr != nil {
			return nil, kerr
		}
		tokens, terr := vonage.NewTokenIssuer(cfg.Vonage.AppID, key, cfg.Vonage.TokenTTL)
		if terr != nil {
			return nil, terr
		}
		c, err = vonage.New(vonage.Config{
			VoiceBaseURL:  cfg.Vonage.VoiceBaseURL,
			APIBaseURL:    cfg.Vonage.APIBaseURL,
			ServiceNumber: cfg.ServicePhoneNumber,
			RingTimeout:   cfg.Session.RingTimeout,
		}, tokens, hc)
	case config.CarrierTwilio:
		c, err = twilioapi.New(twilioapi.Config{
			AccountSID:    cfg.Twilio.AccountSID,
			AuthToken:     cfg.Twilio.AuthToken,
			SocketSIPURI:  cfg.Twilio.SocketSIPURI,
			ServiceNumber: cfg.ServicePhoneNumber,
			RingTimeout:   cfg.Session.RingTimeout,
		}, hc)
	default:
		return nil, fmt.Errorf("unknown carrier %q", cfg.Carrier)
	}
	if err != nil {
		return nil, err
	}
	if mode := cfg.CallFlowMode(); !carrier.Supports(c, mode) {
		return nil, fmt.Errorf("carrier %s cannot drive call flow %s", cfg.Carrier, mode)
	}
	return c, nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Recording.Backend {
	case config.BackendLocal:
		local, err := storage.NewLocal(cfg.Recording.Dir)
		if err != nil {
			return nil, err
		}
		return local, nil
	case config.BackendS3:
		s3cfg := cfg.Recording.S3
		client, err := storage.NewS3Client(storage.S3Options{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			UsePathStyle:    s3cfg.UsePathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, s3cfg.Bucket, s3cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown recording backend %q", cfg.Recording.Backend)
	}
}

// app holds the wired components of a running instance
type app struct {
	registry   *engine.Registry
	dispatcher *engine.Dispatcher
	correlator *engine.Correlator
	webhook    *webhook.Server
	router     *gin.Engine
}

func newApp(cfg *config.Config, c carrier.Client, store storage.Store, clock engine.Clock) (*app, error) {
	if clock == nil {
		clock = engine.NewAutoClock()
	}
	mode := cfg.CallFlowMode()
	registry := engine.NewRegistry()
	dispatcher, err := engine.NewDispatcher(engine.DispatcherConfig{
		CallsPerSecond:  cfg.Dispatch.CallsPerSecond,
		ExtraDelay:      cfg.Dispatch.ExtraDelay,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		ProcessorServer: cfg.ProcessorServer,
		CallbackBase:    cfg.PublicBaseURL,
		Mode:            mode,
	}, registry, c, clock)
	if err != nil {
		return nil, err
	}
	correlator := engine.NewCorrelator(engine.CorrelatorConfig{
		Mode:            mode,
		GraceDelay:      cfg.Session.GraceDelay,
		SignalDigits:    cfg.Session.SignalDigits,
		ProcessorServer: cfg.ProcessorServer,
	}, registry, dispatcher, c, store, clock)
	dispatcher.SetSignaler(correlator)

	hooks := webhook.New(webhook.Options{
		PublicBaseURL:  cfg.PublicBaseURL,
		DefaultCallee:  cfg.CalleeNumber,
		ServiceNumber:  cfg.ServicePhoneNumber,
		RecordAllCalls: cfg.RecordAllCalls,
	}, dispatcher, correlator, c)
	cs := console.NewConsoleServer(registry, dispatcher, mode, clock.Now)

	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	hooks.Register(r)
	cs.Register(r)

	log.Info().Str("module", "cmd").Str("carrier", cfg.Carrier).Str("call_flow", string(mode)).Dur("tick", dispatcher.Interval()).Msg("router setup")

	return &app{
		registry:   registry,
		dispatcher: dispatcher,
		correlator: correlator,
		webhook:    hooks,
		router:     r,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, c carrier.Client, store storage.Store) error {
	a, err := newApp(cfg, c, store, engine.NewAutoClock())
	if err != nil {
		return err
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = a.dispatcher.Run(ctx)
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("module", "cmd").Str("addr", addr).Msg("callbridge started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Str("module", "cmd").Msg("server error")
			return err
		}
	}

	log.Info().Str("module", "cmd").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "cmd").Msg("server forced to shutdown")
	}
	<-dispatchDone
	a.webhook.Wait()
	log.Info().Str("module", "cmd").Msg("server exited gracefully")
	return nil
}
