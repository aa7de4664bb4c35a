package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrSubmitInProgress = errors.New("a payment for this session is already being submitted")

const defaultSubmitTTL = 30 * time.Second

// SubmitGuard stops the same client from submitting twice for one session
// while the first submission is still in flight.
type SubmitGuard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewSubmitGuard(client *redis.Client, ttl time.Duration) *SubmitGuard {
	if ttl <= 0 {
		ttl = defaultSubmitTTL
	}
	return &SubmitGuard{Client: client, TTL: ttl}
}

func SubmitKey(sessionID, clientID string) string {
	return fmt.Sprintf("payment_submit:%s:%s", sessionID, clientID)
}

// Acquire takes the submit lock and returns the token needed to release it.
func (g *SubmitGuard) Acquire(ctx context.Context, sessionID, clientID string) (string, error) {
	token := fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano())
	ok, err := g.Client.SetNX(ctx, SubmitKey(sessionID, clientID), token, g.TTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire submit lock: %w", err)
	}
	if !ok {
		return "", ErrSubmitInProgress
	}
	return token, nil
}

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Release drops the lock only if it is still held with token. An expired lock,
// or one taken over by a later submission, is left alone.
func (g *SubmitGuard) Release(ctx context.Context, sessionID, clientID, token string) error {
	if err := g.Client.Eval(ctx, releaseScript, []string{SubmitKey(sessionID, clientID)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release submit lock: %w", err)
	}
	return nil
}
