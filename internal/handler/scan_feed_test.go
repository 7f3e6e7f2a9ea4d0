package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newFeedServer(t *testing.T, feed *ScanFeed) (*httptest.Server, string) {
	t.Helper()
	r := gin.New()
	r.GET("/feed", feed.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	return srv, wsURL
}

func TestScanFeed_BroadcastReachesClient(t *testing.T) {
	feed := NewScanFeed()
	_, wsURL := newFeedServer(t, feed)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	waitForClients(t, feed, 1)

	feed.Broadcast(ScanEvent{GUID: validGUID, Name: "Toolbox", LabelNumber: 7, Created: true})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event ScanEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event error: %v", err)
	}
	if event.GUID != validGUID || !event.Created {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ScannedAt.IsZero() {
		t.Fatal("broadcast must stamp ScannedAt")
	}
}

func TestScanFeed_ClientRemovedOnClose(t *testing.T) {
	feed := NewScanFeed()
	_, wsURL := newFeedServer(t, feed)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitForClients(t, feed, 1)

	_ = conn.Close()
	waitForClients(t, feed, 0)
}

func waitForClients(t *testing.T, feed *ScanFeed, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if feed.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (now %d)", want, feed.ClientCount())
}
