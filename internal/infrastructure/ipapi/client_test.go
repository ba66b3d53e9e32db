package ipapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-verify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify_Success(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/203.0.113.9", r.URL.Path)
		assert.Equal(t, fields, r.URL.Query().Get("fields"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "country": "Norway", "isp": "Telenor", "as": "AS2119",
			"mobile": true, "proxy": false, "hosting": true,
		})
	})
	c := NewClient(srv.URL, time.Second, 45, srv.Client())

	got, err := c.Classify(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, domain.Classification{
		Known: true, Mobile: true, Hosting: true, Country: "Norway", ISP: "Telenor", AS: "AS2119",
	}, got)
}

func TestClassify_Degraded(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"status fail", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"fail","message":"private range"}`))
		}},
		{"upstream 429", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.h)
			c := NewClient(srv.URL, time.Second, 45, srv.Client())
			got, err := c.Classify(context.Background(), "10.0.0.1")
			assert.ErrorIs(t, err, domain.ErrLookupDegraded)
			assert.False(t, got.Known)
		})
	}
}

func TestClassify_Timeout(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := NewClient(srv.URL, 20*time.Millisecond, 45, srv.Client())

	_, err := c.Classify(context.Background(), "203.0.113.9")
	assert.ErrorIs(t, err, domain.ErrLookupDegraded)
}

func TestClassify_LocalBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	c := NewClient(srv.URL, time.Second, 1, srv.Client())

	_, err := c.Classify(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), "203.0.113.2")
	assert.ErrorIs(t, err, domain.ErrLookupDegraded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClassify_CollapsesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"status":"success","proxy":true}`))
	})
	c := NewClient(srv.URL, 5*time.Second, 45, srv.Client())

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan domain.Classification, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Classify(context.Background(), "198.51.100.7")
			assert.NoError(t, err)
			results <- got
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), calls.Load())
	for got := range results {
		assert.True(t, got.Proxy)
	}
}

func TestClassify_FirstCallerCancelDoesNotDegradeOthers(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"status":"success","hosting":true}`))
	})
	c := NewClient(srv.URL, 5*time.Second, 45, srv.Client())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Classify(firstCtx, "198.51.100.8")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan domain.Classification, 1)
	go func() {
		got, err := c.Classify(context.Background(), "198.51.100.8")
		assert.NoError(t, err)
		second <- got
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, domain.ErrLookupDegraded)

	close(release)
	select {
	case got := <-second:
		assert.True(t, got.Known)
		assert.True(t, got.Hosting)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got a result")
	}
	assert.Equal(t, int32(1), calls.Load())
}
