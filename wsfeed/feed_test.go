package wsfeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shadowfi-network/ledgercore/sid"
)

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishDeliversNotificationToSubscriber(t *testing.T) {
	f := New()
	srv := httptest.NewServer(http.HandlerFunc(f.ServeHTTP))
	defer srv.Close()

	conn := dialFeed(t, srv)
	// Give the server goroutine a moment to register the connection before
	// we publish, since Upgrade happens asynchronously from this client's
	// perspective.
	time.Sleep(20 * time.Millisecond)

	f.Publish(7, sid.Range{Start: 10, Count: 2}, sid.Range{Start: 100, Count: 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	body := string(data)
	for _, want := range []string{`"height":7`, `"txnSidStart":10`, `"txnSidCount":2`, `"txoSidStart":100`, `"txoSidCount":5`} {
		if !strings.Contains(body, want) {
			t.Errorf("notification body = %s, want it to contain %s", body, want)
		}
	}
}

func TestPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	f := New()
	f.Publish(1, sid.Range{Start: 0, Count: 1}, sid.Range{Start: 0, Count: 1})
}

func TestPublishDropsDisconnectedClientWithoutBlockingOthers(t *testing.T) {
	f := New()
	srv := httptest.NewServer(http.HandlerFunc(f.ServeHTTP))
	defer srv.Close()

	gone := dialFeed(t, srv)
	survivor := dialFeed(t, srv)
	time.Sleep(20 * time.Millisecond)

	gone.Close()
	time.Sleep(20 * time.Millisecond)

	f.Publish(2, sid.Range{Start: 0, Count: 1}, sid.Range{Start: 0, Count: 1})

	survivor.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := survivor.ReadMessage(); err != nil {
		t.Fatalf("surviving subscriber should still receive notifications: %v", err)
	}
}
