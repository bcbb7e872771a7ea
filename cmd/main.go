package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"places_service/internal/api"
	"places_service/internal/config"
	"places_service/internal/core"
	"places_service/internal/domain/model"
	"places_service/internal/domain/repository"
	"places_service/internal/infrastructure/mlclient"
	"places_service/internal/infrastructure/onnx"
	"places_service/internal/infrastructure/routing"
	"places_service/internal/infrastructure/session"
	"places_service/internal/infrastructure/worker"
	"places_service/internal/logging"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("places service stopped")
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := suture.New("places-service", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Str("event", e.String()).Msg("supervisor event")
		},
	})

	var pg *repository.PostgresStore
	if cfg.Cache.Driver == "postgres" || cfg.Training.SaveData {
		pg, err = repository.NewPostgresStore(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pg.Close()
	}

	// Feature store
	var store core.FeatureStore
	switch cfg.Cache.Driver {
	case "postgres":
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres feature store: %w", err)
		}
		store = pg
	default:
		bs, err := repository.OpenBadgerStore(cfg.Cache)
		if err != nil {
			return err
		}
		defer bs.Close()
		if err := bs.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate badger feature store: %w", err)
		}
		store = bs
		supervisor.Add(repository.NewGCService(bs, cfg.Cache.GCInterval))
	}

	// Prediction log for later training
	var recorder core.PredictionRecorder
	if cfg.Training.SaveData {
		rec := repository.NewPostgresPredictionRecorder(pg.DB())
		if err := rec.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate prediction log: %w", err)
		}
		recorder = rec
	}

	scopes := repository.NewScopeRegistry()
	upstream := repository.NewOverpassPool(cfg.Overpass, scopes)

	// Accessibility model, driven by the inference worker
	predictor := newPredictor(cfg.Model)
	bridge := worker.NewBridge(predictor, 64)
	supervisor.Add(bridge)
	bridge.Start()
	go warmupPredictor(ctx, bridge)

	// Review classifier
	var (
		classifier      core.TextClassifier
		classifierState = func() model.SessionState { return model.SessionFailed }
	)
	if cfg.Classifier.Endpoint != "" {
		c := mlclient.NewHTTPMLClient(cfg.Classifier)
		classifier = c
		classifierState = c.State
		go func() {
			if err := c.Warmup(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Warn().Err(err).Msg("review classifier unavailable")
			}
		}()
	} else {
		logging.Warn().Msg("classifier.endpoint not set, review classification disabled")
	}

	routes := core.NewRoutePlanner(routing.NewClient(cfg.Routing), scopes, cfg.Routing.AvoidRadius)

	handler := api.NewHandler(api.Deps{
		Discovery:       core.NewDiscoveryService(upstream, store, bridge, scopes, cfg.Discovery.ShowPlacesZoom),
		Predictions:     core.NewPredictionService(bridge, recorder, cfg.Training.SaveData),
		Reviews:         core.NewReviewService(classifier),
		Routes:          routes,
		PredictorState:  predictor.State,
		ClassifierState: classifierState,
		WorkerReady:     bridge.IsReady,
	})
	supervisor.Add(api.NewServer(cfg.Server.Addr(), api.NewRouter(handler, cfg.Server), cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", cfg.Server.Addr()).Str("cache", cfg.Cache.Driver).Msg("starting places service")
	err = supervisor.Serve(ctx)
	bridge.Terminate()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("places service stopped")
	return nil
}

// newPredictor builds the accessibility predictor. A missing or broken
// sidecar config leaves the predictor permanently unavailable rather than
// failing startup.
func newPredictor(cfg config.ModelConfig) *onnx.Predictor {
	modelCfg, err := onnx.LoadModelConfig(cfg.ConfigPath)
	if err != nil {
		logging.Error().Err(err).Str("path", cfg.ConfigPath).Msg("accessibility model config unavailable")
		holder := session.New("accessibility", func(context.Context) (onnx.Runner, error) {
			return nil, err
		}, nil)
		return onnx.NewPredictor(onnx.ModelConfig{}, holder, cfg.TopContributors)
	}

	holder := session.New("accessibility",
		onnx.Loader(cfg.SharedLibraryPath, cfg.Path, modelCfg),
		func(r onnx.Runner) error { return r.Close() })
	return onnx.NewPredictor(modelCfg, holder, cfg.TopContributors)
}

func warmupPredictor(ctx context.Context, bridge *worker.Bridge) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := bridge.Init(ctx); err != nil {
		logging.Warn().Err(err).Msg("accessibility model unavailable, predictions disabled")
		return
	}
	if err := bridge.Warmup(ctx); err != nil {
		logging.Warn().Err(err).Msg("accessibility model warmup failed")
		return
	}
	logging.Info().Msg("accessibility model ready")
}
