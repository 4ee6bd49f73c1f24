package generation

import (
	"context"

	"github.com/parleyhq/parley/pkg/logging"
)

// FallbackService tries the primary generator first and falls back to
// a secondary provider when it fails.
type FallbackService struct {
	primary  Service
	fallback Service
	logger   *logging.Logger
}

// NewFallbackService wires a primary generator with an optional
// fallback. A nil fallback means failures surface directly.
func NewFallbackService(primary, fallback Service, logger *logging.Logger) *FallbackService {
	if primary == nil {
		panic("generation: primary service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackService{
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("generation"),
	}
}

func (s *FallbackService) Answer(ctx context.Context, req Request) (Response, error) {
	resp, err := s.primary.Answer(ctx, req)
	if err == nil {
		return resp, nil
	}

	s.logger.Warn("primary generator failed",
		"error", err.Error(),
		"fallback_available", s.fallback != nil,
	)
	if s.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := s.fallback.Answer(ctx, req)
	if fallbackErr != nil {
		s.logger.Error("fallback generator also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}
	s.logger.Info("fallback generator succeeded after primary failure")
	return fallbackResp, nil
}

var _ Service = (*FallbackService)(nil)
