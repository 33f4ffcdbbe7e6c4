package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Gateway upgrades HTTP requests to WebSocket sessions and bridges
// them to the engine. Session ids are minted here; the engine never
// sees the transport.
type Gateway struct {
	engine     Engine
	log        *slog.Logger
	sendBuffer int
	maxFrame   int64
	upgrader   websocket.Upgrader
}

func NewGateway(log *slog.Logger, engine Engine, sendBuffer int, maxFrame int64) *Gateway {
	return &Gateway{
		engine:     engine,
		log:        log,
		sendBuffer: sendBuffer,
		maxFrame:   maxFrame,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The relay does its own identity handling; cross-origin
			// browser clients are expected (original deployment served
			// the UI from a separate Vite host).
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler exposes the gateway routes: the WebSocket endpoint and a
// plain health check.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("chat-relay is running"))
	})
	return mux
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(g.maxFrame)

	id := domain.SessionID(uuid.NewString())
	client := NewClient(id, conn, g.engine, g.sendBuffer, g.log)
	g.log.Info("connection established", "session_id", id, "remote", r.RemoteAddr)

	go client.WritePump()
	// Not r.Context(): the request context dies when this handler
	// returns, while the hijacked connection lives on.
	go client.ReadPump(context.Background())
}

// CreateServer wraps the handler in an http.Server with production
// timeouts. Read timeouts stay off: WebSocket connections are
// long-lived and guarded by their own deadlines in the pumps.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		IdleTimeout: 60 * time.Second,
	}
}

// ShutdownServer drains the HTTP server, waiting at most `timeout` for
// active connections to finish.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
