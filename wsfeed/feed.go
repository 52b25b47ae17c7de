// Package wsfeed implements the live block feed: a websocket endpoint that
// pushes one notification per committed block to every connected client.
// The ledger core is the publisher here; arbitrary clients subscribe to it.
package wsfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shadowfi-network/ledgercore/sid"
)

// Notification is the message pushed to every subscriber once a block
// commits: its height and the serial-id ranges it was assigned.
type Notification struct {
	Height      uint64 `json:"height"`
	TxnSidStart uint64 `json:"txnSidStart"`
	TxnSidCount uint64 `json:"txnSidCount"`
	TxoSidStart uint64 `json:"txoSidStart"`
	TxoSidCount uint64 `json:"txoSidCount"`
}

// Feed tracks every connected subscriber and fans out a Notification to
// each on Publish. It implements block.Broadcaster without importing the
// block package, so the dependency runs one way: block depends on the
// Broadcaster interface, not on wsfeed.
type Feed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New constructs an empty Feed. Its zero-value upgrader applies
// gorilla/websocket's default origin check: a request whose Origin header
// names a host other than the request's Host is refused.
func New() *Feed {
	return &Feed{
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber until it disconnects or errors.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsfeed: upgrade failed: %v", err)
		return
	}

	f.mu.Lock()
	f.clients[conn] = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	// The feed is publish-only; drain and discard anything the client
	// sends, so control frames are handled and a disconnect ends this
	// handler and unregisters the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish pushes a Notification to every currently-connected subscriber,
// one at a time under the feed's lock. A client whose write fails is
// dropped from the registry and closed, and delivery continues to the
// others. Writes carry no deadline, so a subscriber that stops reading
// without disconnecting can hold up delivery to the ones after it. It
// implements block.Broadcaster.
func (f *Feed) Publish(height uint64, txnRange, txoRange sid.Range) {
	msg := Notification{
		Height:      height,
		TxnSidStart: txnRange.Start,
		TxnSidCount: txnRange.Count,
		TxoSidStart: txoRange.Start,
		TxoSidCount: txoRange.Count,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("wsfeed: marshal notification: %v", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(f.clients, conn)
			conn.Close()
		}
	}
}
