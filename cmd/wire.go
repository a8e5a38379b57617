package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/auth"
	"github.com/example/coursegrab/internal/config"
	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/logging"
	"github.com/example/coursegrab/internal/obs"
	"github.com/example/coursegrab/internal/portal"
	"github.com/example/coursegrab/internal/ratelimit"
	"github.com/example/coursegrab/internal/store"
)

// app holds the components shared by run and its dry-run mode.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *obs.Metrics
	courses []course.Course
	client  *portal.Client
	broker  *auth.Broker
	prober  *portal.Prober
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	courses, err := cfg.CourseList()
	if err != nil {
		return nil, err
	}
	metrics := obs.NewMetrics()

	var limiter *ratelimit.Window
	if cfg.RateLimit.MaxRequests > 0 {
		limiter = ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateWindow())
	}
	client := portal.New(portal.Options{
		BaseURL: cfg.Portal.BaseURL,
		Timeout: cfg.PortalTimeout(),
		Limiter: limiter,
		Metrics: metrics,
	})

	acq, err := acquirerFor(cfg)
	if err != nil {
		return nil, err
	}
	opts := auth.Options{
		CacheDuration: cfg.TokenCacheDuration(),
		Logger:        log,
		Metrics:       metrics,
	}
	if cfg.Token.Verify {
		opts.Verifier = client
	}
	hashKey, blockKey, ok, err := cfg.TokenCacheKeys()
	if err != nil {
		return nil, err
	}
	if ok {
		opts.Cache = auth.NewTokenCache(cfg.Token.CacheFile, hashKey, blockKey, cfg.TokenCacheDuration())
	}

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		courses: courses,
		client:  client,
		broker:  auth.NewBroker(acq, opts),
		prober: &portal.Prober{
			Client:            client,
			AllowOverCapacity: cfg.AllowOverCapacity,
			Log:               logging.Component(log, "portal"),
			Metrics:           metrics,
		},
	}, nil
}

// acquirerFor prefers a configured token over the login command.
func acquirerFor(cfg *config.Config) (auth.Acquirer, error) {
	if cfg.Token.Value != "" {
		return auth.StaticAcquirer{Token: cfg.Token.Value}, nil
	}
	password, err := cfg.ResolvePassword()
	if err != nil {
		return nil, err
	}
	return auth.CommandAcquirer{
		Command:  cfg.Token.Command,
		Username: cfg.Username,
		Password: password,
		Browser:  cfg.Browser,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.Store.DSN,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return st, nil
}
