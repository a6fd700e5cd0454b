package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/portal-realtime/internal/core/domain"
	"github.com/arklim/portal-realtime/internal/core/port"
)

const defaultPresencePrefix = "portal:presence"

type presenceRecord struct {
	domain.SessionPresence
	ExpiresAt time.Time `json:"expires_at"`
}

// PresenceRepository stores the last status of every live session of a user in one hash.
// Each field carries its own expiry; the key itself expires with the freshest report.
type PresenceRepository struct {
	client *red.Client
	prefix string
}

// NewPresenceRepository constructs a presence store.
func NewPresenceRepository(client *red.Client, keyPrefix string) *PresenceRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPresencePrefix
	}
	return &PresenceRepository{client: client, prefix: prefix}
}

// SaveSession records the session report for ttl.
func (r *PresenceRepository) SaveSession(ctx context.Context, userID string, presence domain.SessionPresence, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := r.key(userID)
	if key == "" {
		return errors.New("user id must not be empty")
	}
	sessionID := strings.TrimSpace(presence.SessionID)
	if sessionID == "" {
		return errors.New("session id must not be empty")
	}

	reportedAt := presence.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(presenceRecord{
		SessionPresence: presence,
		ExpiresAt:       reportedAt.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("encode session presence: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.HSet(ctx, key, sessionID, payload)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session presence: %w", err)
	}
	return nil
}

// RemoveSession deletes the session report.
func (r *PresenceRepository) RemoveSession(ctx context.Context, userID, sessionID string) error {
	key := r.key(userID)
	if key == "" {
		return errors.New("user id must not be empty")
	}
	if err := r.client.HDel(ctx, key, strings.TrimSpace(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis remove session presence: %w", err)
	}
	return nil
}

// ListSessions returns the reports that are still live at now, ordered by session id.
// Expired reports are removed as a side effect.
func (r *PresenceRepository) ListSessions(ctx context.Context, userID string, now time.Time) ([]domain.SessionPresence, error) {
	key := r.key(userID)
	if key == "" {
		return nil, errors.New("user id must not be empty")
	}

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list session presence: %w", err)
	}

	sessions := make([]domain.SessionPresence, 0, len(fields))
	var expired []string
	for field, raw := range fields {
		var record presenceRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			expired = append(expired, field)
			continue
		}
		if !now.Before(record.ExpiresAt) {
			expired = append(expired, field)
			continue
		}
		sessions = append(sessions, record.SessionPresence)
	}

	if len(expired) > 0 {
		if err := r.client.HDel(ctx, key, expired...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune session presence: %w", err)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID < sessions[j].SessionID
	})
	return sessions, nil
}

func (r *PresenceRepository) key(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.PresenceStore = (*PresenceRepository)(nil)
