package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hwojcik/camstream/internal/models"
)

const mailboxTTL = 24 * time.Hour

// RedisStore keeps mailboxes in Redis so several server instances can share
// signaling state. Candidates live in a list; the drain is a MULTI
// LRANGE+DEL so concurrent polls never double-deliver.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ctx: context.Background()}
}

func answerKey(deviceID string) string     { return "signal:" + deviceID + ":answer" }
func candidatesKey(deviceID string) string { return "signal:" + deviceID + ":candidates" }

func (s *RedisStore) SetAnswer(deviceID string, answer models.SessionDescription) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	if err := s.client.Set(s.ctx, answerKey(deviceID), data, mailboxTTL).Err(); err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendCandidate(deviceID string, c models.ICECandidate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(s.ctx, candidatesKey(deviceID), data)
	pipe.Expire(s.ctx, candidatesKey(deviceID), mailboxTTL)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to queue candidate: %w", err)
	}
	return nil
}

func (s *RedisStore) Drain(deviceID string) (*models.SessionDescription, []models.ICECandidate, error) {
	pipe := s.client.TxPipeline()
	answerCmd := pipe.Get(s.ctx, answerKey(deviceID))
	listCmd := pipe.LRange(s.ctx, candidatesKey(deviceID), 0, -1)
	pipe.Del(s.ctx, candidatesKey(deviceID))
	if _, err := pipe.Exec(s.ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("failed to drain mailbox: %w", err)
	}

	var answer *models.SessionDescription
	if data, err := answerCmd.Result(); err == nil {
		var sd models.SessionDescription
		if err := json.Unmarshal([]byte(data), &sd); err == nil {
			answer = &sd
		}
	}

	var candidates []models.ICECandidate
	for _, data := range listCmd.Val() {
		var c models.ICECandidate
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	return answer, candidates, nil
}

func (s *RedisStore) Clear(deviceID string) error {
	if err := s.client.Del(s.ctx, answerKey(deviceID), candidatesKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to clear mailbox: %w", err)
	}
	return nil
}
