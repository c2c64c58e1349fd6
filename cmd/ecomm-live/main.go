// Command ecomm-live runs the shopping assistant server: REST chat and
// product search plus the live WebSocket voice sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gargravish/EComm-Gemini-Live/pkg/core/search"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/config"
	"github.com/gargravish/EComm-Gemini-Live/pkg/gateway/metrics"
	gatewayserver "github.com/gargravish/EComm-Gemini-Live/pkg/gateway/server"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/bq"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/gemini"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/tts"
	"github.com/gargravish/EComm-Gemini-Live/pkg/providers/vertex"
	"github.com/gargravish/EComm-Gemini-Live/pkg/store"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// No ReadTimeout or WriteTimeout: the WebSocket endpoints hold the
		// connection open for the whole session.
	}
}

func run(ctx context.Context, logger *slog.Logger, deps appDeps) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gem, err := gemini.New(ctx, gemini.Config{
		APIKey:          cfg.GeminiAPIKey,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}

	searchSvc := &search.Service{Logger: logger}
	if cfg.SearchConfigured() {
		vx, err := vertex.New(ctx, vertex.Config{
			ProjectID:      cfg.ProjectID,
			Location:       cfg.Location,
			FeatureStoreID: cfg.FeatureStoreID,
			FeatureViewID:  cfg.FeatureViewID,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return fmt.Errorf("vertex: %w", err)
		}
		defer vx.Close()

		catalog, err := bq.New(ctx, bq.Config{
			ProjectID: cfg.ProjectID,
			Dataset:   cfg.BigQueryDataset,
			Table:     cfg.BigQueryTable,
		})
		if err != nil {
			return fmt.Errorf("bigquery: %w", err)
		}
		defer catalog.Close()

		searchSvc.Embedder = vx
		searchSvc.Searcher = vx
		searchSvc.Catalog = catalog
	} else {
		logger.Warn("vector search not configured, /api/search will return errors")
	}

	var ttsProvider tts.Provider
	ttsAvailable := false
	if g, err := tts.NewGoogle(ctx, tts.Config{
		LanguageCode:  cfg.TTSLanguageCode,
		VoiceName:     cfg.TTSVoiceName,
		AudioEncoding: cfg.TTSAudioEncoding,
	}); err != nil {
		logger.Warn("text-to-speech unavailable, live sessions run text-only", "error", err)
	} else {
		defer g.Close()
		ttsProvider = g
		ttsAvailable = true
	}

	var responses store.ResponseStore
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, store.Options{TTL: cfg.ResponseTTL})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		responses = rs
		logger.Info("using redis response store", "addr", cfg.RedisAddr)
	} else {
		responses = store.NewMemory(store.Options{TTL: cfg.ResponseTTL})
	}
	defer responses.Close()

	gw := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Gemini:       gem,
		Search:       searchSvc,
		TTS:          ttsProvider,
		Store:        responses,
		Metrics:      metrics.New("ecomm"),
		TTSAvailable: ttsAvailable,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting server",
		"addr", cfg.Addr,
		"live_model", cfg.LiveModel,
		"live2_model", cfg.Live2Model,
		"search_configured", cfg.SearchConfigured(),
		"tts_available", ttsAvailable,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnLiveSessionsDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		gw.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "ecomm-live: load .env: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "ecomm-live: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
