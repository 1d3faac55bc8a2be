package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/kvlet/internal/history"
	"github.com/loykin/kvlet/internal/metrics"
	"github.com/loykin/kvlet/internal/record"
	"github.com/loykin/kvlet/internal/store"
)

// Dispatcher performs one outbound notification call.
type Dispatcher interface {
	Dispatch(ctx context.Context, id, state string, info *string, target record.Target) (record.Response, error)
}

// Service runs set, get and list against a store and a dispatcher.
type Service struct {
	st     store.Store
	disp   Dispatcher
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	histSinks []history.Sink
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for operation and history failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHistorySinks appends sinks that receive one event per step.
func WithHistorySinks(sinks ...history.Sink) Option {
	return func(s *Service) { s.histSinks = append(s.histSinks, sinks...) }
}

// WithClock overrides the time source for history events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, disp Dispatcher, opts ...Option) *Service {
	s := &Service{
		st:     st,
		disp:   disp,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetHistorySinks replaces the configured history sinks.
// Passing nil or no sinks clears the list.
func (s *Service) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.histSinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Set reconciles w into the store and, when the resolved record has a
// dispatchable target, notifies it once and persists the outcome.
// It returns nil when no dispatch happened.
//
// A dispatch failure leaves the record as written. An outcome that cannot be
// persisted is reported as a StorageError even though the call succeeded.
func (s *Service) Set(ctx context.Context, w record.Write) (*record.Response, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	rec, created, err := s.st.ReconcileWrite(ctx, w)
	if err != nil {
		s.logger.Error("Failed to write record", "id", w.ID, "error", err)
		return nil, err
	}
	metrics.IncWrite(created)
	s.emit(ctx, history.NewEvent(history.EventWrite, rec, s.now()))
	s.logger.Debug("Record written", "id", rec.ID, "state", rec.State, "created", created)

	if !rec.Target.Dispatchable() {
		return nil, nil
	}
	target := *rec.Target
	method := target.Method.String()

	start := time.Now()
	out, err := s.disp.Dispatch(ctx, rec.ID, rec.State, rec.Info, target)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.IncDispatchFailure(method, elapsed)
		evt := history.NewEvent(history.EventDispatchFailed, rec, s.now())
		evt.Error = err.Error()
		s.emit(ctx, evt)
		s.logger.Warn("Dispatch failed", "id", rec.ID, "method", method, "url", target.Endpoint, "error", err)
		return nil, err
	}
	metrics.ObserveDispatch(method, out.StatusCode, elapsed)

	if err := s.st.RecordOutcome(ctx, rec.ID, out.StatusCode, out.Body); err != nil {
		metrics.IncOutcomeWriteFailure()
		s.logger.Error("Dispatch succeeded but outcome was not stored",
			"id", rec.ID, "status", out.StatusCode, "error", err)
		return nil, err
	}
	evt := history.NewEvent(history.EventDispatch, rec, s.now())
	evt.StatusCode = out.StatusCode
	s.emit(ctx, evt)
	return &out, nil
}

// Get returns the record for id, or nil when it does not exist.
// A non-nil target replaces the stored one on an existing record. Get never
// dispatches.
func (s *Service) Get(ctx context.Context, id string, target *record.Target) (*record.Record, error) {
	if id == "" {
		return nil, &record.ConfigError{Field: "id", Msg: "must not be empty"}
	}
	if target == nil {
		return s.st.Lookup(ctx, id)
	}
	rec, err := s.st.UpdateTarget(ctx, id, target)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	metrics.IncTargetUpdate()
	s.emit(ctx, history.NewEvent(history.EventTargetUpdate, *rec, s.now()))
	s.logger.Info("Notification target updated", "id", id, "method", target.Method.String(), "url", target.Endpoint)
	return rec, nil
}

// List returns up to limit records, newest first, optionally filtered by
// exact state.
func (s *Service) List(ctx context.Context, limit int, state string) ([]record.Record, error) {
	return s.st.List(ctx, store.ListOptions{Limit: limit, State: state})
}

// Close closes the history sinks. The store is owned by the caller.
func (s *Service) Close() error {
	s.mu.Lock()
	sinks := s.histSinks
	s.histSinks = nil
	s.mu.Unlock()
	var errs []error
	for _, h := range sinks {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) emit(ctx context.Context, evt history.Event) {
	s.mu.RLock()
	sinks := append([]history.Sink(nil), s.histSinks...)
	s.mu.RUnlock()
	for _, h := range sinks {
		if err := h.Send(ctx, evt); err != nil {
			s.logger.Warn("Failed to send history event", "type", evt.Type, "id", evt.ID, "error", err)
		}
	}
}
