package pin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricepin/pricepin/internal/captoken"
)

// DefaultListLimit caps the public pin listing.
const DefaultListLimit = 1000

// Recorder observes pin lifecycle events.
type Recorder interface {
	PinCreated()
	PinDeleted()
	PinDeleteDenied()
}

// Config tunes the pin service.
type Config struct {
	ListLimit int
}

// Service creates and deletes pins guarded by delete tokens.
type Service struct {
	repo     Repository
	tokens   *captoken.Manager
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewService builds a pin service instance.
func NewService(repo Repository, tokens *captoken.Manager, cfg Config, logger *slog.Logger) *Service {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	return &Service{
		repo:   repo,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// Created is the result of Create. DeleteToken.Plaintext is returned exactly
// once and is not retrievable afterwards.
type Created struct {
	Pin         Pin
	DeleteToken captoken.Token
}

// Create validates attrs, mints a delete token and stores the pin with the
// token digest.
func (s *Service) Create(ctx context.Context, attrs Attributes) (Created, error) {
	if err := attrs.Validate(); err != nil {
		return Created{}, err
	}

	tok, err := s.tokens.Issue()
	if err != nil {
		return Created{}, fmt.Errorf("issue delete token: %w", err)
	}

	p, err := s.repo.Create(ctx, attrs.build(tok.Digest, s.now()))
	if err != nil {
		return Created{}, err
	}

	if s.recorder != nil {
		s.recorder.PinCreated()
	}
	s.logger.Info("pin created", slog.Int64("pin_id", p.ID))
	return Created{Pin: p, DeleteToken: tok}, nil
}

// Delete removes the pin when presented matches its delete token. A missing
// and a wrong token both yield ErrUnauthorized.
func (s *Service) Delete(ctx context.Context, id int64, presented string) error {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if !s.tokens.Check(p.DeleteTokenDigest, presented) {
		if s.recorder != nil {
			s.recorder.PinDeleteDenied()
		}
		s.logger.Warn("pin delete denied", slog.Int64("pin_id", id))
		return ErrUnauthorized
	}

	if err := s.repo.Delete(ctx, id, p.DeleteTokenDigest); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if s.recorder != nil {
		s.recorder.PinDeleted()
	}
	s.logger.Info("pin deleted", slog.Int64("pin_id", id))
	return nil
}

// List returns the most recent pins.
func (s *Service) List(ctx context.Context) ([]Pin, error) {
	return s.repo.ListRecent(ctx, s.cfg.ListLimit)
}
