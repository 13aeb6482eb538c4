package email

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boligmarked/market/internal/config"
	"boligmarked/market/internal/utils"
)

func TestMessage_RawCarriesKind(t *testing.T) {
	raw := Message{
		From:    "noreply@example.com",
		To:      "seller@example.com",
		Subject: "Nyt tilbud på Vej 1",
		Body:    "Hej\nDu har fået et tilbud.",
		Kind:    KindNewOffer,
	}.Raw()

	s := string(raw)
	assert.Contains(t, s, "To: seller@example.com\r\n")
	assert.Contains(t, s, "=?utf-8?q?", "non-ASCII subjects are encoded")
	assert.Contains(t, s, "Hej\r\nDu har fået et tilbud.\r\n")
	assert.Equal(t, KindNewOffer, kindOf(raw))
	assert.Equal(t, Kind("unknown"), kindOf([]byte("Subject: x\r\n\r\nbody")))
}

func TestNewSMTPSender_FallsBackToLogging(t *testing.T) {
	s := NewSMTPSender(&config.Config{SmtpFromAddress: "noreply@example.com"})
	require.IsType(t, &LoggingSender{}, s)
	assert.NoError(t, s.Send(context.Background(), []string{"a@example.com"}, "Hi", []byte("body")))

	s = NewSMTPSender(&config.Config{SmtpHost: "smtp.example.com", SmtpPort: 587})
	assert.IsType(t, &SMTPSender{}, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Send(ctx, []string{"a@example.com"}, "Hi", Message{Kind: KindNewMessage}.Raw())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisSender_StoresByRecipientAndKind(t *testing.T) {
	rdb := utils.SetupTestRedis(t)
	ctx := context.Background()
	s := NewRedisSender(rdb, &config.Config{SmtpFromAddress: "noreply@example.com"})

	raw := Message{To: "Agent@Example.com", Subject: "Ny besked", Body: "Hej", Kind: KindNewMessage}.Raw()
	require.NoError(t, s.Send(ctx, []string{"Agent@Example.com"}, "Ny besked", raw))

	m, found, err := GetMockEmail(ctx, rdb, "agent@example.com", KindNewMessage)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ny besked", m.Subject)
	assert.True(t, strings.HasSuffix(m.Body, "Hej\r\n"))

	_, found, err = GetMockEmail(ctx, rdb, "agent@example.com", KindNewOffer)
	require.NoError(t, err)
	assert.False(t, found)
}
