package gossip

import (
	"context"

	"github.com/go-kit/kit/metrics"
)

type metricsService struct {
	service Service
	rounds  metrics.Counter
	failed  metrics.Counter
}

// NewMetricsService wraps a provided existing service with the
// provided round counters.
func NewMetricsService(s Service, rounds metrics.Counter, failed metrics.Counter) Service {
	return &metricsService{
		service: s,
		rounds:  rounds,
		failed:  failed,
	}
}

// Sync wraps this service's Sync method with added metrics capabilities.
func (s *metricsService) Sync(ctx context.Context, peer string) error {

	err := s.service.Sync(ctx, peer)

	s.rounds.Add(1)

	if err != nil {
		s.failed.Add(1)
	}

	return err
}
