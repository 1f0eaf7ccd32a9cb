package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/domain"
)

func TestWebhookSender(t *testing.T) {
	t.Parallel()

	got := make(chan codeWebhookPayload, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p codeWebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- p
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(hook.Close)

	sender := NewWebhookSender(hook.URL, hook.Client())
	require.NoError(t, sender.SendCode(context.Background(), "bob", "123456"))
	p := <-got
	assert.Equal(t, "bob", p.Username)
	assert.Equal(t, "123456", p.Code)
	assert.False(t, p.SentAt.IsZero())
}

func TestWebhookSenderFailures(t *testing.T) {
	t.Parallel()

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(hook.Close)

	err := NewWebhookSender(hook.URL, hook.Client()).SendCode(context.Background(), "bob", "1")
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)

	err = NewWebhookSender(closedAddr(t), nil).SendCode(context.Background(), "bob", "1")
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)
}
