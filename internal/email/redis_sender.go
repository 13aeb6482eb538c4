package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"boligmarked/market/internal/config"
)

// mockTTL bounds how long a captured email stays readable.
const mockTTL = 5 * time.Minute

// MockEmail is what RedisSender stores.
type MockEmail struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
	Kind    Kind   `json:"kind"`
}

// MockEmailKey is the redis key holding the latest email of kind sent to addr.
func MockEmailKey(addr string, kind Kind) string {
	return fmt.Sprintf("mockemail:%s:%s", strings.ToLower(addr), kind)
}

// RedisSender implements the Sender interface by storing emails in Redis
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// Send stores the email in Redis instead of sending it via SMTP, keyed by the
// first recipient and the notification kind.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}
	kind := kindOf(rawMessage)

	jsonData, err := json.Marshal(MockEmail{
		To:      strings.Join(to, ", "),
		From:    s.cfg.SmtpFromAddress,
		Subject: subject,
		Body:    string(rawMessage),
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Kind:    kind,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := MockEmailKey(primaryTo, kind)
	if err := s.client.Set(ctx, key, jsonData, mockTTL).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (TTL: %v, To: %s, Subject: %s)", key, mockTTL, strings.Join(to, ", "), subject)
	return nil
}

// GetMockEmail reads back a stored email. found is false when none exists.
func GetMockEmail(ctx context.Context, client *redis.Client, addr string, kind Kind) (*MockEmail, bool, error) {
	data, err := client.Get(ctx, MockEmailKey(addr, kind)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read mock email: %w", err)
	}
	var m MockEmail
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("failed to decode mock email: %w", err)
	}
	return &m, true, nil
}
