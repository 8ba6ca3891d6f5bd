package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// Store keeps one JSON session record per guild under prefix+guildID.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ port.SessionStore = (*Store)(nil)

func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(guildID string) string {
	return s.prefix + guildID
}

func (s *Store) Save(ctx context.Context, record domain.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", record.GuildID, err)
	}
	if err := s.client.Set(ctx, s.key(record.GuildID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", record.GuildID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, guildID string) error {
	if err := s.client.Del(ctx, s.key(guildID)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", guildID, err)
	}
	return nil
}

// Load returns one record. A missing record is domain.ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, guildID string) (domain.SessionRecord, error) {
	data, err := s.client.Get(ctx, s.key(guildID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("load session %s: %w", guildID, err)
	}

	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("decode session %s: %w", guildID, err)
	}
	return rec, nil
}

// LoadAll scans the prefix and returns every decodable record. Corrupt
// entries are logged and skipped.
func (s *Store) LoadAll(ctx context.Context) ([]domain.SessionRecord, error) {
	var records []domain.SessionRecord

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}

		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("load sessions: %w", err)
			}
			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue // expired between SCAN and MGET
				}
				var rec domain.SessionRecord
				if err := json.Unmarshal([]byte(raw), &rec); err != nil {
					logger.Warnw("Skipping corrupt session record", "key", keys[i], "error", err.Error())
					continue
				}
				records = append(records, rec)
			}
		}

		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}
