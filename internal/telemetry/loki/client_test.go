package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/loki/api/v1/push", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := []byte(`{"user_id":"u 1","event_type":"job_completed","source":"runner","created_at":"` + created.Format(time.RFC3339Nano) + `"}`)

	c := NewClient(srv.URL+"/", nil)
	require.NoError(t, c.PushEventJSON(context.Background(), raw))

	require.Len(t, got.Streams, 1)
	s := got.Streams[0]
	assert.Equal(t, StreamJob, s.Stream["job"])
	assert.Equal(t, "u_1", s.Stream["user_id"])
	assert.Equal(t, "job_completed", s.Stream["event_type"])
	assert.Equal(t, "runner", s.Stream["source"])
	require.Len(t, s.Values, 1)
	assert.Equal(t, "1767323045000000000", s.Values[0][0])
	assert.Equal(t, string(raw), s.Values[0][1])
}

func TestPushEventJSON_InvalidJSONStillPushed(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, srv.Client()).PushEventJSON(context.Background(), []byte("not json")))
	require.Len(t, got.Streams, 1)
	assert.Equal(t, map[string]string{"job": StreamJob}, got.Streams[0].Stream)
	assert.Equal(t, "not json", got.Streams[0].Values[0][1])
}

func TestPushEvent_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, nil).PushEvent(context.Background(), time.Now(), "line", nil)
	assert.ErrorContains(t, err, "400")

	err = NewClient("", nil).PushEvent(context.Background(), time.Now(), "line", nil)
	assert.ErrorContains(t, err, "base URL is empty")
}
