package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// MockEmailTTL is how long a mock email stays readable in Redis.
const MockEmailTTL = 5 * time.Minute

type redisSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSender stores emails in Redis instead of sending them, so end-to-end tests can read them
// back under mockemail:<recipient>:<notification type>.
type RedisSender struct {
	client redisSetter
	from   string
	now    func() time.Time
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client redis.Cmdable, from string) *RedisSender {
	return &RedisSender{client: client, from: from, now: time.Now}
}

// MockEmailKey is the Redis key a mock email for recipient and notificationType is stored under.
func MockEmailKey(recipient, notificationType string) string {
	return fmt.Sprintf("mockemail:%s:%s", recipient, notificationType)
}

// MockEmail is the JSON document RedisSender stores.
type MockEmail struct {
	To               string `json:"to"`
	From             string `json:"from"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	SentAt           string `json:"sent_at"`
	NotificationType string `json:"notification_type"`
}

// Send stores the message under the key of its first recipient.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("mock email has no recipients")
	}
	notificationType := NotificationTypeOf(rawMessage)

	data, err := json.Marshal(MockEmail{
		To:               strings.Join(to, ", "),
		From:             s.from,
		Subject:          subject,
		Body:             string(rawMessage),
		SentAt:           s.now().UTC().Format(time.RFC3339Nano),
		NotificationType: notificationType,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := MockEmailKey(to[0], notificationType)
	if err := s.client.Set(ctx, key, data, MockEmailTTL).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	slog.Info("mock email stored in Redis", "key", key, "ttl", MockEmailTTL, "subject", subject)
	return nil
}
