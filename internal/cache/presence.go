package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStore mirrors presence edges into Redis under
// <prefix>:presence:<userID>. Online entries carry a TTL so a crashed node
// cannot leave users online forever; the offline write persists last_seen.
type PresenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type presenceRecord struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewPresenceStore(client *redis.Client, prefix string, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *PresenceStore) key(userID string) string {
	return s.prefix + ":presence:" + userID
}

func (s *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	b, _ := json.Marshal(presenceRecord{Status: "online", LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.key(userID), b, s.ttl).Err()
}

func (s *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	b, _ := json.Marshal(presenceRecord{Status: "offline", LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.key(userID), b, 0).Err()
}
