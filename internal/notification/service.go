package notification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/expensems/emspush/internal/backend"
	"github.com/expensems/emspush/internal/errors"
	"github.com/expensems/emspush/internal/logging"
	"github.com/expensems/emspush/internal/page"
)

// API is the backend surface the sync service needs. Implemented by
// backend.Client.
type API interface {
	ListNotifications(ctx context.Context, pageNum, perPage int) (*backend.NotificationPage, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id int64) error
	DeleteAllNotifications(ctx context.Context) error
}

// ServiceConfig tunes the sync service
type ServiceConfig struct {
	// PageSize is the backend list page size
	PageSize int
	// MaxPages bounds a single refresh; deeper history is fetched by the
	// list UI on demand
	MaxPages int
	// MaxMirror bounds the local record mirror
	MaxMirror int
}

// DefaultServiceConfig returns default sync configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		PageSize:  20,
		MaxPages:  5,
		MaxMirror: 1000,
	}
}

// Service keeps one tab's record mirror and state store reconciled with the
// backend. Delivery events never mutate the mirror directly: they arrive as
// bus signals, and every signal triggers a re-fetch of authoritative state.
type Service struct {
	config ServiceConfig
	api    API
	mirror *Mirror
	state  *page.StateStore
	bus    *page.Bus

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewService creates a sync service for a tab
func NewService(config ServiceConfig, api API, bus *page.Bus, state *page.StateStore) *Service {
	if config.PageSize <= 0 {
		config.PageSize = DefaultServiceConfig().PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultServiceConfig().MaxPages
	}

	logger := logging.ForService("notification-sync")
	if logger == nil {
		logger = slog.Default().With("service", "notification-sync")
	}

	return &Service{
		config: config,
		api:    api,
		mirror: NewMirror(config.MaxMirror),
		state:  state,
		bus:    bus,
		logger: logger,
	}
}

// Mirror returns the local record mirror
func (s *Service) Mirror() *Mirror {
	return s.mirror
}

// Start subscribes to the bus and re-fetches on every signal until ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	signals, subCtx := s.bus.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case sig := <-signals:
				s.logger.Debug("refresh signal", "seq", sig.Seq, "tag", sig.Tag)
				if err := s.Refresh(runCtx); err != nil {
					s.logger.Error("refresh after signal failed", "error", err)
				}
			case <-subCtx.Done():
				return
			case <-runCtx.Done():
				s.bus.Unsubscribe(signals)
				return
			}
		}
	}()
}

// Stop terminates the signal loop
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Refresh fetches the authoritative list and recomputes derived state
func (s *Service) Refresh(ctx context.Context) error {
	var all []backend.NotificationRecord

	pageNum := 1
	for {
		result, err := s.api.ListNotifications(ctx, pageNum, s.config.PageSize)
		if err != nil {
			return err
		}
		all = append(all, result.Data...)

		if pageNum >= result.LastPage || pageNum >= s.config.MaxPages {
			break
		}
		pageNum++
	}

	s.mirror.Replace(all)
	s.state.RecomputeUnread(s.mirror.List())
	s.logger.Debug("mirror refreshed", "records", len(all))
	return nil
}

// MarkRead optimistically marks a record read locally and syncs the backend.
// On backend failure the optimistic update is discarded by a re-fetch.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	if err := s.mirror.MarkRead(id); err != nil && !errors.IsNotFound(err) {
		return err
	}
	s.state.RecomputeUnread(s.mirror.List())

	if err := s.api.MarkRead(ctx, id); err != nil {
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.logger.Error("rollback refresh failed", "error", refreshErr)
		}
		return err
	}
	return nil
}

// MarkAllRead optimistically marks everything read and syncs the backend
func (s *Service) MarkAllRead(ctx context.Context) error {
	s.mirror.MarkAllRead()
	s.state.RecomputeUnread(s.mirror.List())

	if err := s.api.MarkAllRead(ctx); err != nil {
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.logger.Error("rollback refresh failed", "error", refreshErr)
		}
		return err
	}
	return nil
}

// Delete optimistically removes a record and syncs the backend
func (s *Service) Delete(ctx context.Context, id int64) error {
	s.mirror.Delete(id)
	s.state.RecomputeUnread(s.mirror.List())

	if err := s.api.DeleteNotification(ctx, id); err != nil {
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.logger.Error("rollback refresh failed", "error", refreshErr)
		}
		return err
	}
	return nil
}

// DeleteAll clears the mirror and the backend
func (s *Service) DeleteAll(ctx context.Context) error {
	s.mirror.Clear()
	s.state.RecomputeUnread(nil)

	if err := s.api.DeleteAllNotifications(ctx); err != nil {
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.logger.Error("rollback refresh failed", "error", refreshErr)
		}
		return err
	}
	return nil
}
