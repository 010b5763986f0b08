package slack_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/service/slack"
)

func TestNew(t *testing.T) {
	t.Run("returns error when token is empty", func(t *testing.T) {
		_, err := slack.New("")
		gt.Value(t, err).NotNil()
	})

	t.Run("creates service when token is provided", func(t *testing.T) {
		svc, err := slack.New("test-token", slack.WithCacheTTL(time.Minute))
		gt.NoError(t, err).Required()
		gt.Value(t, svc).NotNil()
	})
}

func TestIsChannelID(t *testing.T) {
	gt.Bool(t, slack.IsChannelID("C01234ABCD")).True()
	gt.Bool(t, slack.IsChannelID("G01234ABCD")).True()
	gt.Bool(t, slack.IsChannelID("#tech-support")).False()
	gt.Bool(t, slack.IsChannelID("general")).False()
	gt.Bool(t, slack.IsChannelID("C012")).False()
}

func TestResolveChannelIDPassThrough(t *testing.T) {
	svc, err := slack.New("test-token")
	gt.NoError(t, err).Required()

	id, err := svc.ResolveChannelID(context.Background(), "C01234ABCD")
	gt.NoError(t, err).Required()
	gt.Value(t, id).Equal("C01234ABCD")
}

func TestResolveChannelIDCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.list" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channels":[` +
			`{"id":"C0TECH0001","name":"tech-support","is_member":true},` +
			`{"id":"C0SALES001","name":"sales","is_member":false}` +
			`],"response_metadata":{"next_cursor":""}}`))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()

	t.Run("name is listed once and then cached", func(t *testing.T) {
		calls.Store(0)
		svc, err := slack.New("test-token", slack.WithAPIURL(srv.URL+"/"))
		gt.NoError(t, err).Required()

		for range 3 {
			id, err := svc.ResolveChannelID(ctx, "#tech-support")
			gt.NoError(t, err).Required()
			gt.Value(t, id).Equal("C0TECH0001")
		}
		gt.Value(t, calls.Load()).Equal(int32(1))
	})

	t.Run("expired entry is listed again", func(t *testing.T) {
		calls.Store(0)
		svc, err := slack.New("test-token", slack.WithAPIURL(srv.URL+"/"), slack.WithCacheTTL(10*time.Millisecond))
		gt.NoError(t, err).Required()

		_, err = svc.ResolveChannelID(ctx, "tech-support")
		gt.NoError(t, err).Required()
		time.Sleep(50 * time.Millisecond)
		_, err = svc.ResolveChannelID(ctx, "tech-support")
		gt.NoError(t, err).Required()
		gt.Value(t, calls.Load()).Equal(int32(2))
	})

	t.Run("channel the bot has not joined", func(t *testing.T) {
		svc, err := slack.New("test-token", slack.WithAPIURL(srv.URL+"/"))
		gt.NoError(t, err).Required()

		_, err = svc.ResolveChannelID(ctx, "#sales")
		gt.Value(t, err).NotNil()
	})
}

func TestIntegration(t *testing.T) {
	token := os.Getenv("TEST_SLACK_BOT_TOKEN")
	if token == "" {
		t.Skip("TEST_SLACK_BOT_TOKEN is not set")
	}

	ctx := context.Background()

	svc, err := slack.New(token)
	gt.NoError(t, err).Required()

	channels, err := svc.ListJoinedChannels(ctx)
	gt.NoError(t, err).Required()

	t.Run("ListJoinedChannels returns channels", func(t *testing.T) {
		if len(channels) == 0 {
			t.Log("Warning: bot is not joined to any channels")
		}

		for _, ch := range channels {
			gt.String(t, ch.ID).NotEqual("")
			gt.String(t, ch.Name).NotEqual("")
		}
	})

	t.Run("ResolveChannelID resolves joined channel by name", func(t *testing.T) {
		if len(channels) == 0 {
			t.Skip("no channels available")
		}

		id, err := svc.ResolveChannelID(ctx, "#"+channels[0].Name)
		gt.NoError(t, err).Required()
		gt.Value(t, id).Equal(channels[0].ID)
	})

	t.Run("PostMessage posts to test channel", func(t *testing.T) {
		channel := os.Getenv("TEST_SLACK_CHANNEL_ID")
		if channel == "" {
			t.Skip("TEST_SLACK_CHANNEL_ID is not set")
		}

		ts, err := svc.PostMessage(ctx, channel, nil, "hermes integration test")
		gt.NoError(t, err).Required()
		gt.String(t, ts).NotEqual("")
	})
}
