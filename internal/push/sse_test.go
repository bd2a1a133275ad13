package push

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameLog struct {
	mu     sync.Mutex
	frames []string
}

func (l *frameLog) add(event, data string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, data)
}

func (l *frameLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func sseServer(t *testing.T, frames []string, hold bool) (*httptest.Server, chan string) {
	t.Helper()
	queries := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()

		for i, f := range frames {
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", i, f)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}))
	return server, queries
}

func TestSSEClient_ReceivesFrames(t *testing.T) {
	server, queries := sseServer(t, []string{`{"data":"a"}`, `{"data":"b"}`}, true)
	defer server.Close()

	client := NewSSEClient(server.URL+"/sse", 5*time.Second, nil)
	log := &frameLog{}
	opened := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Connect(ctx, "tok", []string{"k_splits", "k_control_pri"}, func() { close(opened) }, log.add)
	}()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
	}
	assert.Eventually(t, func() bool { return log.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	query := <-queries
	assert.Contains(t, query, "accessToken=tok")
	assert.Contains(t, query, "v=1.1")
	assert.True(t, strings.Contains(query, "%5B%3Foccupancy%3Dmetrics.publishers%5Dk_control_pri"), query)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return after cancel")
	}
}

func TestSSEClient_ServerClose(t *testing.T) {
	server, _ := sseServer(t, []string{`{"data":"a"}`}, false)
	defer server.Close()

	client := NewSSEClient(server.URL, 5*time.Second, nil)
	log := &frameLog{}

	done := make(chan error, 1)
	go func() {
		done <- client.Connect(context.Background(), "tok", []string{"k_splits"}, nil, log.add)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return after server closed the stream")
	}
}

func TestSSEClient_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewSSEClient(server.URL, time.Second, nil)
	err := client.Connect(context.Background(), "tok", []string{"c"}, func() {
		t.Error("onOpen must not run for a rejected stream")
	}, func(string, string) {})

	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}
