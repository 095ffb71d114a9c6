package readings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/particulate/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func (h *Hub) subscriberCount() int {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	return len(h.subscribers)
}

func TestReading_JSONEncodesInvalidAsNull(t *testing.T) {
	r := Invalid("kitchen", t0, "bad_checksum", "checksum mismatch: calculated 1, received 2")
	require.False(t, r.Valid())

	b, err := json.Marshal(r)
	require.NoError(t, err)
	require.Contains(t, string(b), `"value":null`)
	require.Contains(t, string(b), `"valid":false`)

	var back Reading
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, math.IsNaN(back.Value))
	require.Equal(t, "bad_checksum", back.Outcome)
}

func TestReading_JSONRoundTripValid(t *testing.T) {
	r := Reading{Sensor: "kitchen", At: t0, Value: 300, Outcome: "ok"}

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var back Reading
	require.NoError(t, json.Unmarshal(b, &back))
	if diff := cmp.Diff(r, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMulti_PublishesToEverySink(t *testing.T) {
	var a, b []Reading
	m := Multi{
		SinkFunc(func(r Reading) { a = append(a, r) }),
		nil,
		SinkFunc(func(r Reading) { b = append(b, r) }),
	}
	m.Publish(Reading{Sensor: "x", Value: 1})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
}

func TestHub_SubscribeAndPublish(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()

	h.Publish(Reading{Sensor: "b", At: t0, Value: 2, Outcome: "ok"})
	h.Publish(Invalid("a", t0, "incomplete_frame", ""))

	got := <-ch
	require.Equal(t, "b", got.Sensor)
	got = <-ch
	require.Equal(t, "a", got.Sensor)

	latest := h.Latest()
	require.Len(t, latest, 2)
	require.Equal(t, "a", latest[0].Sensor)
	require.Equal(t, "b", latest[1].Sensor)

	r, ok := h.LatestFor("b")
	require.True(t, ok)
	require.Equal(t, 2.0, r.Value)

	h.Unsubscribe(id)
	_, open := <-ch
	require.False(t, open)
	h.Unsubscribe(id)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(Reading{Sensor: "s", Value: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	require.Equal(t, cap(ch), len(ch))
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()
	require.NoError(t, h.Close())

	_, open := <-ch
	require.False(t, open)

	_, late := h.Subscribe()
	_, open = <-late
	require.False(t, open)

	h.Publish(Reading{Sensor: "s", Value: 1})
	_, ok := h.LatestFor("s")
	require.True(t, ok)
}

func TestHub_AdminReadingsRoute(t *testing.T) {
	h := NewHub()
	h.Publish(Reading{Sensor: "porch", At: t0, Value: 17, Outcome: "ok"})

	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LocalhostRequest(http.MethodGet, "/debug/readings"))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, 17.0, got[0].Value)
}

func TestHub_AdminTailStreamsReadings(t *testing.T) {
	h := NewHub()
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	req := testutil.LocalhostRequest(http.MethodGet, "/debug/tail").WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		mux.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.subscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.Publish(Invalid("porch", t0, "bad_header", ""))
	require.Eventually(t, func() bool {
		h.subscriberMu.Lock()
		defer h.subscriberMu.Unlock()
		for _, ch := range h.subscribers {
			return len(ch) == 0
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, ": ping\n\n"), body)
	require.Contains(t, body, `data: {"sensor":"porch"`)
	require.Contains(t, body, `"outcome":"bad_header"`)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, 0, h.subscriberCount())
}

func TestHub_AdminTailRejectsPost(t *testing.T) {
	h := NewHub()
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LocalhostRequest(http.MethodPost, "/debug/tail"))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
