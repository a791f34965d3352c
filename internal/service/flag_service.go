package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidindex/internal/domain"
	"github.com/alanyoungcy/bidindex/internal/observability"
)

// ReindexTrigger requests metadata re-verification of one token.
type ReindexTrigger interface {
	RequestReindex(ctx context.Context, ref domain.TokenRef, col domain.Collection) error
}

// FlagRequest is one flag write.
type FlagRequest struct {
	Token   domain.TokenRef
	Flagged bool
	Actor   string
}

// FlagService updates a token's flag and requests a metadata reindex when the
// value changes. The reindex is enqueued before the token row is written, so
// a failed enqueue leaves the token untouched.
type FlagService struct {
	tokens      domain.TokenStore
	collections domain.CollectionStore
	trigger     ReindexTrigger
	locks       domain.LockManager
	audit       domain.AuditStore
	lockTTL     time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewFlagService creates a FlagService. lockTTL bounds how long one update
// may hold the per-token lock.
func NewFlagService(
	tokens domain.TokenStore,
	collections domain.CollectionStore,
	trigger ReindexTrigger,
	locks domain.LockManager,
	audit domain.AuditStore,
	lockTTL time.Duration,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *FlagService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &FlagService{
		tokens:      tokens,
		collections: collections,
		trigger:     trigger,
		locks:       locks,
		audit:       audit,
		lockTTL:     lockTTL,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "flag_service")),
		now:         time.Now,
	}
}

// SetFlag writes req.Flagged to the token. It returns domain.ErrNotFound for
// an unknown token and domain.ErrLockHeld while another update of the same
// token is in progress.
func (s *FlagService) SetFlag(ctx context.Context, req FlagRequest) error {
	unlock, err := s.locks.Acquire(ctx, "token-flag:"+req.Token.String(), s.lockTTL)
	if err != nil {
		return fmt.Errorf("flag_service: lock %s: %w", req.Token, err)
	}
	defer unlock()

	token, err := s.tokens.Get(ctx, req.Token)
	if err != nil {
		return fmt.Errorf("flag_service: load token %s: %w", req.Token, err)
	}

	now := s.now().UTC()
	upd := domain.FlagUpdate{Ref: req.Token, Flagged: req.Flagged, UpdatedAt: now}
	changed := token.IsFlagged != req.Flagged

	if changed {
		col, err := s.collection(ctx, token)
		if err != nil {
			return err
		}
		if err := s.trigger.RequestReindex(ctx, req.Token, col); err != nil {
			return fmt.Errorf("flag_service: request reindex for %s: %w", req.Token, err)
		}
		upd.ChangedAt = &now
	}

	if err := s.tokens.UpdateFlag(ctx, upd); err != nil {
		return fmt.Errorf("flag_service: update token %s: %w", req.Token, err)
	}

	result := "unchanged"
	if changed {
		result = "changed"
	}
	s.metrics.FlagUpdates.WithLabelValues(result).Inc()

	detail := map[string]any{
		"actor":    req.Actor,
		"token":    req.Token.String(),
		"previous": token.IsFlagged,
		"flag":     req.Flagged,
		"changed":  changed,
	}
	if err := s.audit.Log(ctx, "token.flag", detail); err != nil {
		s.logger.Warn("audit log write failed", slog.String("error", err.Error()))
	}
	s.logger.Info("token flag updated",
		slog.String("actor", req.Actor),
		slog.String("token", req.Token.String()),
		slog.Bool("previous", token.IsFlagged),
		slog.Bool("flag", req.Flagged),
	)
	return nil
}

// collection resolves the token's collection. A missing collection is not
// an error; the reindex then uses the default method.
func (s *FlagService) collection(ctx context.Context, token domain.Token) (domain.Collection, error) {
	col := domain.Collection{ID: token.CollectionID}
	if token.CollectionID == "" {
		return col, nil
	}
	found, err := s.collections.GetByID(ctx, token.CollectionID)
	switch {
	case err == nil:
		return found, nil
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Warn("token collection not found, using default indexing method",
			slog.String("token", token.Ref.String()),
			slog.String("collection", token.CollectionID),
		)
		return col, nil
	default:
		return domain.Collection{}, fmt.Errorf("flag_service: load collection %s: %w", token.CollectionID, err)
	}
}
