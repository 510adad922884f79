package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congenial-acorn/goldwatch/internal/dispatch"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

func newTestSender() *WebhookSender {
	return NewWebhookSender(5*time.Second, 6000, slog.New(slog.DiscardHandler))
}

func TestDeliverPostsContentPayload(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := dispatch.Recipient{Type: store.RecipientGuild, ID: "g1", Address: srv.URL}
	require.NoError(t, newTestSender().Deliver(context.Background(), r, "Hidden markets detected in Alpha"))
	assert.Equal(t, "Hidden markets detected in Alpha", body["content"])
}

func TestDeliverStatusTaxonomy(t *testing.T) {
	cases := []struct {
		status  int
		wantErr error
	}{
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusNotFound, ErrGone},
		{http.StatusGone, ErrGone},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		r := dispatch.Recipient{Type: store.RecipientGuild, ID: "g1", Address: srv.URL}
		err := newTestSender().Deliver(context.Background(), r, "x")
		assert.ErrorIs(t, err, tc.wantErr, "status %d", tc.status)
		srv.Close()
	}
}

func TestDeliverServerErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := dispatch.Recipient{Type: store.RecipientUser, ID: "u1", Address: srv.URL}
	assert.ErrorContains(t, newTestSender().Deliver(context.Background(), r, "x"), "500")
}

func TestDeliverMissingAddressIsGone(t *testing.T) {
	r := dispatch.Recipient{Type: store.RecipientGuild, ID: "g1"}
	assert.ErrorIs(t, newTestSender().Deliver(context.Background(), r, "x"), ErrGone)
}

func TestNilSenderFailsDelivery(t *testing.T) {
	var s *WebhookSender
	r := dispatch.Recipient{Type: store.RecipientGuild, ID: "g1", Address: "http://example.test"}
	assert.Error(t, s.Deliver(context.Background(), r, "x"))
}
