// internal/webhooks/subscription/store.go
package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"booking-webhooks/internal/common/errors"
	"booking-webhooks/internal/common/logger"
	"booking-webhooks/internal/models"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Store resolves the active webhook subscriptions interested in a trigger.
// Reads go through a short-lived redis cache when a client is configured;
// the store never writes subscription rows.
type Store struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
	logger   logger.Logger
}

func NewStore(db *sql.DB, redisClient *redis.Client, cacheTTL time.Duration, log logger.Logger) *Store {
	return &Store{
		db:       db,
		redis:    redisClient,
		cacheTTL: cacheTTL,
		logger:   log.WithFields(map[string]interface{}{"component": "subscription-store"}),
	}
}

// cacheRecord mirrors models.Subscription for the redis cache. The model
// hides the secret from JSON on purpose; the cache must keep it, or cache
// hits would deliver unsigned requests.
type cacheRecord struct {
	ID            string   `json:"id"`
	UserID        int64    `json:"userId"`
	TeamID        *int64   `json:"teamId,omitempty"`
	EventTypeID   *int64   `json:"eventTypeId,omitempty"`
	SubscriberURL string   `json:"subscriberUrl"`
	Secret        string   `json:"secret"`
	Active        bool     `json:"active"`
	EventTriggers []string `json:"eventTriggers"`
	AppID         *string  `json:"appId,omitempty"`
}

func toCacheRecords(subs []models.Subscription) []cacheRecord {
	out := make([]cacheRecord, len(subs))
	for i, sub := range subs {
		triggers := make([]string, len(sub.EventTriggers))
		for j, t := range sub.EventTriggers {
			triggers[j] = string(t)
		}
		out[i] = cacheRecord{
			ID:            sub.ID,
			UserID:        sub.UserID,
			TeamID:        sub.TeamID,
			EventTypeID:   sub.EventTypeID,
			SubscriberURL: sub.SubscriberURL,
			Secret:        sub.Secret,
			Active:        sub.Active,
			EventTriggers: triggers,
			AppID:         sub.AppID,
		}
	}
	return out
}

func fromCacheRecords(records []cacheRecord) []models.Subscription {
	out := make([]models.Subscription, len(records))
	for i, rec := range records {
		triggers := make([]models.TriggerKind, len(rec.EventTriggers))
		for j, t := range rec.EventTriggers {
			triggers[j] = models.TriggerKind(t)
		}
		out[i] = models.Subscription{
			ID:            rec.ID,
			UserID:        rec.UserID,
			TeamID:        rec.TeamID,
			EventTypeID:   rec.EventTypeID,
			SubscriberURL: rec.SubscriberURL,
			Secret:        rec.Secret,
			Active:        rec.Active,
			EventTriggers: triggers,
			AppID:         rec.AppID,
		}
	}
	return out
}

const resolveQuery = `
SELECT id, user_id, team_id, event_type_id, subscriber_url, secret, active, event_triggers, app_id
FROM webhooks
WHERE active = TRUE
  AND $1 = ANY(event_triggers)
  AND (user_id = $2
       OR ($3::bigint IS NOT NULL AND event_type_id = $3)
       OR ($4::bigint IS NOT NULL AND team_id = $4))`

// Resolve returns every active subscription with trigger in its enabled set,
// scoped to the user plus the optional event type and team. Order is not
// significant. A storage error propagates to the caller.
func (s *Store) Resolve(ctx context.Context, userID int64, eventTypeID, teamID *int64, trigger models.TriggerKind) ([]models.Subscription, error) {
	if !trigger.Valid() {
		return nil, errors.NewInvalidTriggerError(string(trigger))
	}

	cacheKey := s.cacheKey(userID, eventTypeID, teamID, trigger)
	if s.redis != nil {
		if val, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var records []cacheRecord
			if err := json.Unmarshal([]byte(val), &records); err == nil {
				return fromCacheRecords(records), nil
			}
		}
	}

	rows, err := s.db.QueryContext(ctx, resolveQuery, string(trigger), userID, eventTypeID, teamID)
	if err != nil {
		return nil, errors.NewSubscriberLookupFailedError(err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var triggers pq.StringArray
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.TeamID, &sub.EventTypeID,
			&sub.SubscriberURL, &sub.Secret, &sub.Active, &triggers, &sub.AppID,
		); err != nil {
			return nil, errors.NewSubscriberLookupFailedError(err)
		}
		sub.EventTriggers = make([]models.TriggerKind, len(triggers))
		for i, t := range triggers {
			sub.EventTriggers[i] = models.TriggerKind(t)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewSubscriberLookupFailedError(err)
	}

	if s.redis != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(toCacheRecords(subs)); err == nil {
			if err := s.redis.Set(ctx, cacheKey, data, s.cacheTTL).Err(); err != nil {
				s.logger.Debug("subscription cache write failed", map[string]interface{}{
					"key":   cacheKey,
					"error": err.Error(),
				})
			}
		}
	}

	return subs, nil
}

func (s *Store) cacheKey(userID int64, eventTypeID, teamID *int64, trigger models.TriggerKind) string {
	et, team := int64(0), int64(0)
	if eventTypeID != nil {
		et = *eventTypeID
	}
	if teamID != nil {
		team = *teamID
	}
	return fmt.Sprintf("wh:%s:%d:%d:%d", trigger, userID, et, team)
}
