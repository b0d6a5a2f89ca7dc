package webui

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arzzra/webphone/pkg/phone"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	clientBuffer = 64
)

// Типы сообщений потока /ws.
const (
	MessageView   = "view"
	MessageStatus = "status"
	MessageAlert  = "alert"
	MessageLog    = "log"
)

// Message сообщение клиенту WebSocket.
type Message struct {
	Type   string             `json:"type"`
	View   *phone.View        `json:"view,omitempty"`
	Status *phone.StatusLine  `json:"status,omitempty"`
	Alert  string             `json:"alert,omitempty"`
	Log    []phone.StatusLine `json:"log,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan Message
}

// Hub рассылает изменения контроллера всем подключенным клиентам.
// Реализует phone.Observer и никогда не блокирует контроллер.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	incoming chan Message

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub создает хаб. Рассылка начинается после Run.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log.With(slog.String("component", "webui")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		incoming: make(chan Message, 256),
		clients:  make(map[*wsClient]struct{}),
	}
}

func (h *Hub) StatusChanged(line phone.StatusLine) {
	h.publish(Message{Type: MessageStatus, Status: &line})
}

func (h *Hub) Alert(message string) {
	h.publish(Message{Type: MessageAlert, Alert: message})
}

func (h *Hub) ViewChanged(v phone.View) {
	h.publish(Message{Type: MessageView, View: &v})
}

func (h *Hub) publish(m Message) {
	select {
	case h.incoming <- m:
	default:
		h.log.Warn("hub queue is full, message dropped", slog.String("type", m.Type))
	}
}

// Run рассылает сообщения до отмены ctx, затем закрывает клиентов.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case m := <-h.incoming:
			h.broadcast(m)
		}
	}
}

func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			// медленный клиент отключается
			h.log.Info("slow websocket client dropped", slog.String("client", c.id))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients число подключенных клиентов.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve подключает клиента и отправляет ему начальные сообщения.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, initial ...Message) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan Message, clientBuffer)}
	for _, m := range initial {
		c.send <- m
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client connected", slog.String("client", c.id))

	go h.writePump(c)
	go h.readPump(c)
}

// readPump читает только служебные кадры и ловит отключение.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Debug("websocket client disconnected", slog.String("client", c.id))
	}
}
