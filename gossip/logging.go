package gossip

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type loggingService struct {
	logger  log.Logger
	service Service
}

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {
	return &loggingService{logger, s}
}

// Sync wraps this service's Sync method with
// added logging capabilities.
func (s *loggingService) Sync(ctx context.Context, peer string) error {

	start := time.Now()
	err := s.service.Sync(ctx, peer)

	logger := log.With(s.logger,
		"method", "SYNC",
		"peer", peer,
		"took", time.Since(start),
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to complete synchronization round", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}
