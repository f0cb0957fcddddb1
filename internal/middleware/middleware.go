package middleware

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb   *database.Redis
	log   *logger.Logger
	cfg   *config.Config
	audit *telemetry.Recorder

	// local limiters take over while Redis is unreachable
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New creates a new Middleware instance. rdb may be nil.
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config, audit *telemetry.Recorder) *Middleware {
	return &Middleware{
		rdb:      rdb,
		log:      log.WithComponent("http"),
		cfg:      cfg,
		audit:    audit,
		limiters: make(map[string]*rate.Limiter),
	}
}
