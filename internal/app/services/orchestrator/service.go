// Package orchestrator drains the outbox and performs chat-platform side
// effects: creating interview channels, tearing them down after a decision
// and welcoming approved members. Delivery is at-least-once with bounded
// retries; every handler is idempotent.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/metrics"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

const batchSize = 20

// ChatGateway abstracts the chat platform. Implementations must be
// idempotent: deleting a channel that is already gone succeeds.
type ChatGateway interface {
	CreateInterviewChannel(ctx context.Context, applicantUserID, displayName string) (string, error)
	DeleteChannel(ctx context.Context, channelRef string) error
	WelcomeMember(ctx context.Context, applicantUserID, displayName string) error
}

// ChannelAttacher writes a created channel reference back onto the
// application record.
type ChannelAttacher interface {
	AttachChannel(ctx context.Context, applicationID, channelRef string) (application.Application, error)
	Get(ctx context.Context, id string) (application.Application, error)
}

// Notifier raises an operator alert when an event dead-letters.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Config tunes dispatch behaviour.
type Config struct {
	PollInterval  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	SweepSchedule string
}

// Service is the interview channel orchestrator.
type Service struct {
	store    storage.OutboxStore
	apps     storage.ApplicationStore
	gateway  ChatGateway
	attacher ChannelAttacher
	notifier Notifier
	cfg      Config
	log      *logger.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// New constructs the orchestrator.
func New(store storage.OutboxStore, apps storage.ApplicationStore, gateway ChatGateway, attacher ChannelAttacher, notifier Notifier, cfg Config, log *logger.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 10 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("orchestrator")
	}
	return &Service{
		store:    store,
		apps:     apps,
		gateway:  gateway,
		attacher: attacher,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Run polls the outbox until the context is cancelled. The reconciliation
// sweep runs on its own cron schedule when one is configured.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.SweepSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() {
			if err := s.Sweep(ctx); err != nil {
				s.log.WithError(err).Warn("reconciliation sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
		s.cron.Start()
		defer s.cron.Stop()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.log.WithField("poll_interval", s.cfg.PollInterval.String()).Info("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.DrainOnce(ctx); err != nil {
				s.log.WithError(err).Warn("outbox drain failed")
			}
		}
	}
}

// DrainOnce processes one batch of due events.
func (s *Service) DrainOnce(ctx context.Context) error {
	events, err := s.store.ListDueEvents(ctx, s.now(), batchSize)
	if err != nil {
		return fmt.Errorf("list due events: %w", err)
	}
	for _, ev := range events {
		s.dispatch(ctx, ev)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, ev outbox.Event) {
	log := s.log.WithField("event_id", ev.ID).
		WithField("kind", string(ev.Kind)).
		WithField("application_id", ev.ApplicationID)

	start := s.now()
	err := s.handle(ctx, ev)
	metrics.RecordOutboxDispatch(string(ev.Kind), s.now().Sub(start), err == nil)
	if err == nil {
		if markErr := s.store.MarkDelivered(ctx, ev.ID, s.now()); markErr != nil {
			log.WithError(markErr).Error("mark event delivered")
		}
		return
	}

	attempts := ev.Attempts + 1
	dead := attempts >= s.cfg.MaxAttempts
	next := s.now().Add(s.backoff(attempts))

	if markErr := s.store.MarkFailed(ctx, ev.ID, attempts, next, err.Error(), dead); markErr != nil {
		log.WithError(markErr).Error("mark event failed")
		return
	}

	if dead {
		metrics.RecordDeadLetter()
		log.WithError(err).WithField("attempts", attempts).Error("event dead-lettered")
		s.alert(ctx, fmt.Sprintf("outbox event %s (%s) for application %s dead-lettered after %d attempts: %v",
			ev.ID, ev.Kind, ev.ApplicationID, attempts, err))
		return
	}
	log.WithError(err).
		WithField("attempts", attempts).
		WithField("next_attempt_at", next.Format(time.RFC3339)).
		Warn("event delivery failed, will retry")
}

// backoff grows exponentially from the base, capped at an hour.
func (s *Service) backoff(attempts int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d > time.Hour {
			return time.Hour
		}
	}
	return d
}

func (s *Service) handle(ctx context.Context, ev outbox.Event) error {
	switch ev.Kind {
	case outbox.KindInterviewRequested:
		return s.handleInterviewRequested(ctx, ev)
	case outbox.KindCleanupInterviewChannel:
		return s.handleCleanup(ctx, ev)
	case outbox.KindMemberWelcomed:
		return s.handleWelcome(ctx, ev)
	default:
		// Unknown kinds are delivered, not retried forever.
		s.log.WithField("kind", string(ev.Kind)).Warn("dropping event of unknown kind")
		return nil
	}
}

func (s *Service) handleInterviewRequested(ctx context.Context, ev outbox.Event) error {
	var payload outbox.InterviewRequestedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	app, err := s.attacher.Get(ctx, ev.ApplicationID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			// Application erased since the event was queued.
			return nil
		}
		return err
	}
	if app.Status != application.StatusInterviewing {
		// Decided or withdrawn before the channel existed; nothing to do.
		return nil
	}
	if app.ChannelRef != "" {
		// A previous attempt created the channel; the redelivery is a no-op.
		return nil
	}

	channelRef, err := s.gateway.CreateInterviewChannel(ctx, payload.ApplicantUserID, payload.DisplayName)
	if err != nil {
		return fmt.Errorf("create interview channel: %w", err)
	}

	if _, err := s.attacher.AttachChannel(ctx, ev.ApplicationID, channelRef); err != nil {
		if apperrors.IsCode(err, apperrors.CodeConflict) {
			// The application left interviewing while we were creating the
			// channel. Tear the orphan down rather than leak it.
			if delErr := s.gateway.DeleteChannel(ctx, channelRef); delErr != nil {
				return fmt.Errorf("delete orphaned channel %s: %w", channelRef, delErr)
			}
			return nil
		}
		return err
	}

	s.log.WithField("application_id", ev.ApplicationID).
		WithField("channel_ref", channelRef).
		Info("interview channel created")
	return nil
}

func (s *Service) handleCleanup(ctx context.Context, ev outbox.Event) error {
	var payload outbox.CleanupPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.ChannelRef == "" {
		return nil
	}
	if err := s.gateway.DeleteChannel(ctx, payload.ChannelRef); err != nil {
		return fmt.Errorf("delete channel %s: %w", payload.ChannelRef, err)
	}
	s.log.WithField("channel_ref", payload.ChannelRef).Info("interview channel removed")
	return nil
}

func (s *Service) handleWelcome(ctx context.Context, ev outbox.Event) error {
	var payload outbox.WelcomePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := s.gateway.WelcomeMember(ctx, payload.ApplicantUserID, payload.DisplayName); err != nil {
		return fmt.Errorf("welcome member: %w", err)
	}
	return nil
}

// Sweep reconciles interviewing applications that still have no channel by
// re-queueing the creation side effect. Handler idempotency makes the
// occasional duplicate harmless.
func (s *Service) Sweep(ctx context.Context) error {
	apps, err := s.apps.ListApplications(ctx, application.Query{
		Status: application.StatusInterviewing,
		Limit:  200,
	})
	if err != nil {
		return fmt.Errorf("list interviewing applications: %w", err)
	}

	requeued := 0
	for _, app := range apps {
		if app.ChannelRef != "" {
			continue
		}
		payload, _ := json.Marshal(outbox.InterviewRequestedPayload{
			ApplicantUserID: app.Applicant.UserID,
			DisplayName:     app.Applicant.DisplayName,
		})
		if _, err := s.store.EnqueueEvent(ctx, outbox.Event{
			Kind:          outbox.KindInterviewRequested,
			ApplicationID: app.ID,
			Payload:       payload,
		}); err != nil {
			s.log.WithError(err).WithField("application_id", app.ID).Warn("sweep re-enqueue failed")
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.log.WithField("requeued", requeued).Info("reconciliation sweep re-queued channel creation")
	}
	return nil
}

// DeadLetters lists dead events for operator inspection.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]outbox.Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.store.ListDeadEvents(ctx, limit)
	if err != nil {
		return nil, apperrors.Internal("list dead events", err)
	}
	return events, nil
}

// Retry moves a dead event back to pending for immediate redelivery.
func (s *Service) Retry(ctx context.Context, eventID string) (outbox.Event, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return outbox.Event{}, apperrors.NotFound("outbox event")
	}
	if err != nil {
		return outbox.Event{}, apperrors.Internal("load outbox event", err)
	}
	if ev.State != outbox.StateDead {
		return outbox.Event{}, apperrors.Conflict("only dead events can be retried").
			WithDetails("state", string(ev.State))
	}
	requeued, err := s.store.RequeueEvent(ctx, eventID)
	if err != nil {
		return outbox.Event{}, apperrors.Internal("requeue outbox event", err)
	}
	s.log.WithField("event_id", eventID).Info("dead event re-queued")
	return requeued, nil
}

func (s *Service) alert(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		s.log.WithError(err).Warn("dead-letter alert failed")
	}
}
