// SPDX-License-Identifier: MIT

package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
)

// Job is what the external tagger receives for a finished recording.
type Job struct {
	RecordingID string   `json:"recording_id"`
	Path        string   `json:"path"`
	Metadata    Metadata `json:"metadata"`
	DurationSec float64  `json:"duration_seconds"`
	Reason      string   `json:"reason"`
	FinishedAt  string   `json:"finished_at"`
}

// NewJob builds the handoff payload for an entry.
func NewJob(e Entry) Job {
	return Job{
		RecordingID: e.ID,
		Path:        e.Path,
		Metadata:    e.Metadata,
		DurationSec: e.Duration().Seconds(),
		Reason:      e.Reason,
		FinishedAt:  e.EndedAt.UTC().Format(time.RFC3339),
	}
}

// Handoff delivers finished recordings to the tagging collaborator.
type Handoff interface {
	Submit(ctx context.Context, job Job) error
	Close() error
}

// NewHandoff builds the configured handoff backend.
func NewHandoff(cfg config.HandoffConfig, logger zerolog.Logger) (Handoff, error) {
	switch cfg.Backend {
	case "", "log":
		return &LogHandoff{logger: logger}, nil
	case "redis":
		return NewRedisHandoff(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown handoff backend %q", domain.ErrConfigurationInvalid, cfg.Backend)
	}
}

// LogHandoff only records the job in the log; an operator-run tagger picks
// the file up from disk.
type LogHandoff struct {
	logger zerolog.Logger
}

func (h *LogHandoff) Submit(_ context.Context, job Job) error {
	h.logger.Info().
		Str(xglog.FieldEvent, "recording.handoff").
		Str(xglog.FieldRecordingID, job.RecordingID).
		Str(xglog.FieldPath, job.Path).
		Str("title", job.Metadata.Title).
		Float64("duration_seconds", job.DurationSec).
		Msg("recording ready for tagging")
	metrics.RecordingHandoffs.WithLabelValues("log", "ok").Inc()
	return nil
}

func (h *LogHandoff) Close() error { return nil }

// RedisHandoff pushes JSON jobs onto a Redis list consumed by the tagger.
type RedisHandoff struct {
	client *redis.Client
	queue  string
	logger zerolog.Logger
}

// NewRedisHandoff connects to Redis and verifies the connection.
func NewRedisHandoff(cfg config.HandoffConfig, logger zerolog.Logger) (*RedisHandoff, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.RedisAddr).
		Int("db", cfg.RedisDB).
		Str("queue", cfg.Queue).
		Msg("connected to Redis handoff queue")

	return &RedisHandoff{client: client, queue: cfg.Queue, logger: logger}, nil
}

func (h *RedisHandoff) Submit(ctx context.Context, job Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := h.client.LPush(ctx, h.queue, buf).Err(); err != nil {
		metrics.RecordingHandoffs.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("redis handoff: %w", err)
	}
	metrics.RecordingHandoffs.WithLabelValues("redis", "ok").Inc()
	h.logger.Info().
		Str(xglog.FieldEvent, "recording.handoff").
		Str(xglog.FieldRecordingID, job.RecordingID).
		Str("queue", h.queue).
		Msg("recording queued for tagging")
	return nil
}

func (h *RedisHandoff) Close() error {
	return h.client.Close()
}
