package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/pkg/types"
)

// Store is the durable record store for scenes. Records are only ever
// created by the pipeline; status changes belong to the render workers.
type Store interface {
	Create(ctx context.Context, scene *types.Scene) (string, error)
	Get(ctx context.Context, id string) (*types.Scene, error)
	List(ctx context.Context, limit int) ([]types.Scene, error)
	Close() error
}

const defaultListLimit = 50

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "mongo":
		s, err := OpenMongo(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported store driver %q", types.ErrConfiguration, cfg.Driver)
	}
}

// Validate checks a scene against the record schema.
func Validate(s *types.Scene) error {
	if s == nil {
		return errors.New("scene is nil")
	}
	if strings.TrimSpace(s.Topic) == "" {
		return errors.New("topic is required")
	}
	if strings.TrimSpace(s.GeneratedCode) == "" {
		return errors.New("manimCode is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("status %q is not one of %v", s.Status, types.Statuses)
	}
	return nil
}

// prepare validates s and returns a copy with defaults filled in.
func prepare(s *types.Scene, now time.Time) (types.Scene, error) {
	if err := Validate(s); err != nil {
		return types.Scene{}, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	out := *s
	out.ID = ""
	if out.SchemaVersion == 0 {
		out.SchemaVersion = types.SceneSchemaVersion
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	out.UpdatedAt = out.UpdatedAt.UTC()
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
