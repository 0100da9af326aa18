package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// MockEmailTTL is how long a captured message stays readable by getTestEmail.
const MockEmailTTL = 5 * time.Minute

// MockEmailKey is the Redis key a captured message is stored under.
func MockEmailKey(to string, kind Kind) string {
	return fmt.Sprintf("mockemail:%s:%s", strings.ToLower(to), kind)
}

// RedisSender captures messages in Redis for end-to-end tests (MOCK_SERVICES).
type RedisSender struct {
	client *redis.Client
	from   string
}

func NewRedisSender(client *redis.Client, from string) *RedisSender {
	return &RedisSender{client: client, from: from}
}

// Send stores a JSON view of the message under MockEmailKey of the first recipient.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("redis sender: no recipients")
	}
	kind := KindOf(rawMessage)

	data, err := json.Marshal(map[string]any{
		"to":      strings.Join(to, ", "),
		"from":    s.from,
		"subject": subject,
		"kind":    kind,
		"body":    string(rawMessage),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := MockEmailKey(to[0], kind)
	if err := s.client.Set(ctx, key, data, MockEmailTTL).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}
	log.Printf("Mock email stored in Redis key '%s' (Subject: %s)", key, subject)
	return nil
}
