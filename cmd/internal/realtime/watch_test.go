package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postline/cmd/internal/auth/session"
)

func (e feedEnv) feedURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/sessions"
}

func TestWatch_DeliversEnvelopes(t *testing.T) {
	env := newFeedEnv(t)
	errDone := errors.New("done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	err := Watch(ctx, WatchOptions{URL: env.feedURL(), AccessToken: env.accessToken(t)}, func(e Envelope) error {
		seen = append(seen, e.Type)
		switch e.Type {
		case TypeReady:
			env.hub.Publish(ctx, session.Event{Kind: session.EventSessionsRevoked, UserID: testUser, Reason: session.ReasonPasswordChanged})
			return nil
		case TypeRevoked:
			return errDone
		}
		return nil
	})

	require.ErrorIs(t, err, errDone)
	require.Equal(t, []string{TypeReady, TypeRevoked}, seen)
}

func TestWatch_StopsOnContextCancel(t *testing.T) {
	env := newFeedEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	err := Watch(ctx, WatchOptions{URL: env.feedURL(), AccessToken: env.accessToken(t)}, func(Envelope) error {
		cancel()
		return nil
	})
	require.NoError(t, err)
}

func TestWatch_Rejected(t *testing.T) {
	env := newFeedEnv(t)

	err := Watch(context.Background(), WatchOptions{URL: env.feedURL(), AccessToken: "forged"}, func(Envelope) error { return nil })
	require.ErrorIs(t, err, ErrRejected)

	err = Watch(context.Background(), WatchOptions{
		URL:         env.feedURL(),
		AccessToken: env.accessToken(t),
		Origin:      "https://evil.example",
	}, func(Envelope) error { return nil })
	require.ErrorIs(t, err, ErrRejected)
}

func TestWatch_ValidatesInput(t *testing.T) {
	t.Parallel()

	cases := []WatchOptions{
		{URL: "http://127.0.0.1/ws/sessions", AccessToken: "t"},
		{URL: "ws:///ws/sessions", AccessToken: "t"},
		{URL: "ws://127.0.0.1/ws/sessions", AccessToken: "t", Origin: "ftp://x"},
		{URL: "ws://127.0.0.1/ws/sessions"},
	}
	for _, opts := range cases {
		err := Watch(context.Background(), opts, func(Envelope) error { return nil })
		require.Error(t, err, "%+v", opts)
		require.NotErrorIs(t, err, ErrRejected)
	}
}
