package brightdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/providers"
)

func newTestClient(baseURL string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(baseURL),
		WithRateLimit(1000),
		WithTriggerBackoff(time.Millisecond),
	}
	return NewClient("test-token", append(base, opts...)...)
}

func testInput() []map[string]interface{} {
	return []map[string]interface{}{{"url": "https://www.instagram.com/creator1/"}}
}

func TestTriggerRetriesNetworkFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "snap_1"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	snapshotID, err := client.Trigger(context.Background(), "ds_profile", testInput())
	require.NoError(t, err)
	assert.Equal(t, "snap_1", snapshotID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestTriggerExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Trigger(context.Background(), "ds_profile", testInput())
	require.ErrorIs(t, err, providers.ErrProviderUnavailable)
	// Original attempt plus two retries
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestTriggerDoesNotRetryBadTarget(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Trigger(context.Background(), "ds_profile", testInput())
	require.ErrorIs(t, err, providers.ErrInvalidTarget)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestTriggerSendsAuthAndDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "ds_posts", r.URL.Query().Get("dataset_id"))
		json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "snap_1"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Trigger(context.Background(), "ds_posts", testInput())
	require.NoError(t, err)
}

func TestPollNotFoundIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	outcome, err := client.Poll(context.Background(), "snap_missing")
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollNotFound, outcome.State)
}

func TestPollPendingWhileRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	outcome, err := client.Poll(context.Background(), "snap_1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollPending, outcome.State)
}

func TestPollReadyInline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/progress/"):
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		case strings.Contains(r.URL.Path, "/snapshot/"):
			fmt.Fprint(w, `[{"id": "p1"}, {"id": "p2"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	outcome, err := client.Poll(context.Background(), "snap_1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollReadyInline, outcome.State)
	assert.Len(t, outcome.Records, 2)
}

func TestPollReadyRemoteAndFetch(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/progress/"):
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		case strings.Contains(r.URL.Path, "/snapshot/"):
			json.NewEncoder(w).Encode(map[string][]string{
				"file_urls": {server.URL + "/files/part1", server.URL + "/files/part2"},
			})
		case strings.Contains(r.URL.Path, "/files/part1"):
			fmt.Fprint(w, `[{"id": "p1"}]`)
		case strings.Contains(r.URL.Path, "/files/part2"):
			fmt.Fprint(w, `[{"id": "p2"}, {"id": "p3"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	outcome, err := client.Poll(context.Background(), "snap_1")
	require.NoError(t, err)
	require.Equal(t, interfaces.PollReadyRemote, outcome.State)
	require.Len(t, outcome.FileURLs, 2)

	records, err := client.FetchRemote(context.Background(), outcome.FileURLs)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestPollFailedCarriesReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "account is private"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	outcome, err := client.Poll(context.Background(), "snap_1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.PollFailed, outcome.State)
	assert.Equal(t, "account is private", outcome.Reason)
}

func TestCollectOptimisticImmediateFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/trigger"):
			json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "snap_1"})
		case strings.Contains(r.URL.Path, "/progress/"):
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		case strings.Contains(r.URL.Path, "/snapshot/"):
			fmt.Fprint(w, `[{"id": "p1"}]`)
		}
	}))
	defer server.Close()

	// Initial wait far exceeds the test budget; a pass means the snapshot
	// was fetched on the immediate pre-wait poll.
	client := newTestClient(server.URL, WithPollPlan(interfaces.SnapshotSmall, PollPlan{
		InitialWait: time.Hour,
		Interval:    time.Hour,
		Budget:      2 * time.Hour,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := client.Collect(ctx, "ds_profile", testInput(), interfaces.SnapshotSmall)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCollectTimesOutOnBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/trigger"):
			json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "snap_1"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"status": "running"})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithPollPlan(interfaces.SnapshotSmall, PollPlan{
		InitialWait: 10 * time.Millisecond,
		Interval:    10 * time.Millisecond,
		Budget:      50 * time.Millisecond,
	}))

	_, err := client.Collect(context.Background(), "ds_profile", testInput(), interfaces.SnapshotSmall)
	require.ErrorIs(t, err, providers.ErrProviderTimeout)
}

func TestCollectNotFoundIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/trigger"):
			json.NewEncoder(w).Encode(map[string]string{"snapshot_id": "snap_gone"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithPollPlan(interfaces.SnapshotSmall, PollPlan{
		InitialWait: 10 * time.Millisecond,
		Interval:    10 * time.Millisecond,
		Budget:      time.Second,
	}))

	_, err := client.Collect(context.Background(), "ds_profile", testInput(), interfaces.SnapshotSmall)
	require.ErrorIs(t, err, providers.ErrNotFound)
}
