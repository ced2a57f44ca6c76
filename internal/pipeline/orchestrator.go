// Package pipeline sequences one topic through code generation, the session
// cache, the notification channel and the record store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/scenegen/pkg/types"
)

// Generator turns a topic into animation code.
type Generator interface {
	Generate(ctx context.Context, topic string) (string, error)
}

// SnapshotCache holds the short-lived session snapshot.
type SnapshotCache interface {
	Put(ctx context.Context, sessionID string, scene *types.Scene, ttl time.Duration) error
	Close() error
}

// Publisher announces a session on a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, n types.Notification) error
}

// RecordWriter creates the durable record.
type RecordWriter interface {
	Create(ctx context.Context, scene *types.Scene) (string, error)
}

// Deps are the process-wide clients a run uses. They are created once by the
// caller and shared across concurrent runs.
type Deps struct {
	Generator Generator
	Cache     SnapshotCache
	Bus       Publisher
	Store     RecordWriter
}

// Options tune a run. Zero values take defaults.
type Options struct {
	TTL     time.Duration
	Channel string
	NewID   func() string
	Now     func() time.Time
	Logger  *slog.Logger
}

const defaultTTL = time.Hour

// Orchestrator runs the generate → cache → notify → persist sequence.
type Orchestrator struct {
	deps    Deps
	ttl     time.Duration
	channel string
	newID   func() string
	now     func() time.Time
	logger  *slog.Logger
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Generator == nil:
		return nil, fmt.Errorf("%w: generator is nil", types.ErrConfiguration)
	case deps.Cache == nil:
		return nil, fmt.Errorf("%w: cache is nil", types.ErrConfiguration)
	case deps.Bus == nil:
		return nil, fmt.Errorf("%w: notification bus is nil", types.ErrConfiguration)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: record store is nil", types.ErrConfiguration)
	}
	o := &Orchestrator{
		deps:    deps,
		ttl:     opts.TTL,
		channel: opts.Channel,
		newID:   opts.NewID,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if o.ttl <= 0 {
		o.ttl = defaultTTL
	}
	if o.channel == "" {
		o.channel = types.DefaultChannel
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// ValidateTopic rejects blank topics.
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("%w: topic is required", types.ErrValidation)
	}
	return nil
}

// Run generates code for topic, caches the snapshot, announces it and records
// it. Steps that completed before a failure are not undone.
func (o *Orchestrator) Run(ctx context.Context, topic string) (*types.RunResult, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	start := o.now()

	code, err := o.deps.Generator.Generate(ctx, topic)
	if err != nil {
		o.logger.Error("generation failed", "topic", topic, "error", err)
		return nil, err
	}

	sessionID := o.newID()
	log := o.logger.With("session_id", sessionID)
	scene := types.NewScene(topic, code, o.now())

	if err := o.saveAndNotify(ctx, sessionID, scene); err != nil {
		log.Error("save and notify failed", "error", err)
		return nil, err
	}

	record := *scene
	record.UpdatedAt = record.CreatedAt
	recordID, err := o.deps.Store.Create(ctx, &record)
	if err != nil {
		log.Error("record create failed", "error", err)
		return nil, err
	}

	log.Info("session ready", "record_id", recordID, "elapsed", o.now().Sub(start))
	return &types.RunResult{SessionID: sessionID, Status: types.RunStatusGeneratedAndNotified}, nil
}

func (o *Orchestrator) saveAndNotify(ctx context.Context, sessionID string, scene *types.Scene) error {
	if err := o.deps.Cache.Put(ctx, sessionID, scene, o.ttl); err != nil {
		return err
	}
	n := types.Notification{SessionID: sessionID, Status: types.SignalReadyToRun}
	if err := o.deps.Bus.Publish(ctx, o.channel, n); err != nil {
		if !errors.Is(err, types.ErrCacheUnavailable) {
			err = fmt.Errorf("%w: publish: %v", types.ErrCacheUnavailable, err)
		}
		return err
	}
	return nil
}

// Close releases the cache connection. The record store and model client are
// owned by the caller.
func (o *Orchestrator) Close() error {
	return o.deps.Cache.Close()
}
