package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one dashboard websocket connection, using the standard
// readPump/writePump pattern for gorilla/websocket connections.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Printf("[Realtime] client send buffer full, dropping message")
	}
}

// subscribeRequest is the client->server control message understood by
// the /rt endpoint.
type subscribeRequest struct {
	Action  string `json:"action"`
	CallSid string `json:"callSid,omitempty"`
}

// ServeWS upgrades the request to a websocket and runs the client's
// read/write pumps until the connection closes.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Realtime] upgrade failed: %v", err)
		return
	}

	c := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnsubscribeAll(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		c.handleSubscribe(req)
	}
}

func (c *Client) handleSubscribe(req subscribeRequest) {
	switch strings.ToLower(req.Action) {
	case "subscribe_to_calls":
		c.hub.Subscribe(TopicCalls, c)
	case "subscribe_to_call":
		if req.CallSid != "" {
			c.hub.Subscribe(CallTopic(req.CallSid), c)
		}
	case "subscribe_to_transcripts":
		c.hub.Subscribe(TopicTranscripts, c)
	case "subscribe_to_call_transcript":
		if req.CallSid != "" {
			c.hub.Subscribe(TranscriptTopic(req.CallSid), c)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
