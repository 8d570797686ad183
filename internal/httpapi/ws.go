package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"candle-retriever/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
)

// wsClientMessage is the client→server envelope for /ws/realtime.
type wsClientMessage struct {
	Action     string   `json:"action"`
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("ws upgrade failed", "error", err)
		return
	}

	sess := &wsSession{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 256),
		subs:   make(map[string]map[string]bool),
	}

	go sess.writePump()
	sess.readPump()
}

// wsSession is one connected viewer. It owns its own realtime.Subscription
// so updates for symbols it hasn't asked for are filtered before the
// write pump ever sees them.
type wsSession struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	// subs[symbol][timeframe] = true
	subs map[string]map[string]bool
}

func (sess *wsSession) readPump() {
	defer func() {
		close(sess.send)
		sess.conn.Close()
	}()

	sub := sess.server.Realtime.SubscribeUpdates()
	defer sub.Close()
	go sess.forwardUpdates(sub)

	sess.conn.SetReadLimit(4096)
	sess.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsClientMessage
		if json.Unmarshal(raw, &msg) != nil {
			sess.sendError("invalid message")
			continue
		}

		switch msg.Action {
		case "subscribe":
			sess.handleSubscribe(msg)
		case "unsubscribe":
			sess.handleUnsubscribe(msg)
		case "ping":
			sess.sendJSON(map[string]string{"type": "pong"})
		default:
			sess.sendError("unknown action: " + msg.Action)
		}
	}
}

func (sess *wsSession) handleSubscribe(msg wsClientMessage) {
	if msg.Symbol == "" || len(msg.Timeframes) == 0 {
		sess.sendError("symbol and timeframes are required")
		return
	}
	sess.server.Realtime.Subscribe(context.Background(), msg.Symbol, msg.Timeframes)

	if sess.subs[msg.Symbol] == nil {
		sess.subs[msg.Symbol] = make(map[string]bool)
	}
	for _, tf := range msg.Timeframes {
		sess.subs[msg.Symbol][tf] = true
	}

	sess.sendJSON(map[string]any{
		"type":       "subscribed",
		"symbol":     msg.Symbol,
		"timeframes": msg.Timeframes,
	})
}

func (sess *wsSession) handleUnsubscribe(msg wsClientMessage) {
	if tfs, ok := sess.subs[msg.Symbol]; ok {
		for _, tf := range msg.Timeframes {
			delete(tfs, tf)
		}
	}
}

func (sess *wsSession) wants(symbol, timeframe string) bool {
	tfs, ok := sess.subs[symbol]
	return ok && tfs[timeframe]
}

func (sess *wsSession) forwardUpdates(sub *realtime.Subscription) {
	for update := range sub.C {
		if !sess.wants(update.Symbol, update.Timeframe) {
			continue
		}
		sess.sendJSON(map[string]any{
			"type":      "candle_update",
			"symbol":    update.Symbol,
			"timeframe": update.Timeframe,
			"candle":    update.Candle,
		})
	}
}

func (sess *wsSession) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.send <- data:
	default:
	}
}

func (sess *wsSession) sendError(message string) {
	sess.sendJSON(map[string]string{"type": "error", "message": message})
}

func (sess *wsSession) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := sess.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(sess.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-sess.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
