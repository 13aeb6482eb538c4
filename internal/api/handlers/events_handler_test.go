package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boligmarked/market/internal/api/handlers"
	"boligmarked/market/internal/api/middleware"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/models"
)

// readEvent returns the next "event:" name and its data line.
func readEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		case line == "" && name != "":
			return name, data
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended")
	return "", ""
}

// openStream serves the handler as userID with role and returns the stream
// positioned after its "ready" event.
func openStream(t *testing.T, ctx context.Context, bus *events.Bus, userID string, role models.Role) *bufio.Scanner {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/events", func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID)
		c.Set(middleware.ContextKeyRole, role)
	}, handlers.NewEventsHandler(context.Background(), bus, 50*time.Millisecond).Stream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	name, _ := readEvent(t, sc)
	require.Equal(t, "ready", name)
	return sc
}

// nextEvent skips heartbeats.
func nextEvent(t *testing.T, sc *bufio.Scanner) (string, string) {
	t.Helper()
	for {
		name, data := readEvent(t, sc)
		if name != "ping" {
			return name, data
		}
	}
}

func TestEventsHandler_Stream(t *testing.T) {
	bus := events.NewBus("sse-test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, bus, "u-1", models.RoleSeller)

	msg := models.Message{ID: "m-1", FromUserID: "u-2", ToUserID: "u-1", Body: "private body"}
	bus.Publish(ctx, events.Event{Type: events.MessageSent, Entity: "message", EntityID: "m-1", Payload: msg})

	name, data := nextEvent(t, sc)
	assert.Equal(t, string(events.MessageSent), name)
	assert.Contains(t, data, `"entityId":"m-1"`)
	assert.NotContains(t, data, "private body")

	name, _ = readEvent(t, sc)
	assert.Equal(t, "ping", name, "heartbeat keeps idle streams open")
}

func TestEventsHandler_StreamHidesOtherUsersIDs(t *testing.T) {
	bus := events.NewBus("sse-scope-test")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seller := openStream(t, ctx, bus, "seller-1", models.RoleSeller)
	agent := openStream(t, ctx, bus, "agent-1", models.RoleAgent)
	admin := openStream(t, ctx, bus, "admin-1", models.RoleAdmin)

	published := []events.Event{
		{Type: events.CaseCreated, Entity: "case", EntityID: "c-other", Payload: &models.Case{ID: "c-other", SellerID: "seller-2"}},
		{Type: events.OfferSubmitted, Entity: "offer", EntityID: "o-other", Payload: models.Offer{ID: "o-other", AgentID: "agent-2"}},
		{Type: events.MessageSent, Entity: "message", EntityID: "m-other", Payload: models.Message{ID: "m-other", FromUserID: "agent-2", ToUserID: "seller-2"}},
		{Type: events.UserUpdated, Entity: "user", EntityID: "seller-1"},
	}
	for _, ev := range published {
		bus.Publish(ctx, ev)
	}

	idsSeen := func(sc *bufio.Scanner) []string {
		var ids []string
		for range published {
			_, data := nextEvent(t, sc)
			var v struct {
				EntityID string `json:"entityId"`
			}
			require.NoError(t, json.Unmarshal([]byte(data), &v))
			ids = append(ids, v.EntityID)
		}
		return ids
	}
	assert.Equal(t, []string{"", "", "", "seller-1"}, idsSeen(seller))
	assert.Equal(t, []string{"c-other", "", "", ""}, idsSeen(agent))
	assert.Equal(t, []string{"c-other", "o-other", "m-other", "seller-1"}, idsSeen(admin))
}
