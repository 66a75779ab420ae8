package navigation

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Message はWebSocketクライアントに送る遷移メッセージ。
type Message struct {
	Type  string `json:"type"`
	Route Route  `json:"route"`
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(msg)
}

// write はc.muを保持した状態で呼び出す。
func (c *client) write(msg Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Hub は現在のルートを保持し、接続中の全クライアントへ遷移を配信する。
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	current Route
	clients map[string]*client
}

// NewHub はHubを生成する。allowedOriginが空の場合は全てのOriginを許可する。
func NewHub(logger *slog.Logger, allowedOrigin string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:  logger,
		current: RouteEntry,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}
	return h
}

// Navigate は現在のルートを更新し、全クライアントに配信する。
// 送信に失敗したクライアントは切断する。
func (h *Hub) Navigate(route Route) {
	h.mu.Lock()
	h.current = route
	targets := make(map[string]*client, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c
	}
	h.mu.Unlock()

	msg := Message{Type: "navigate", Route: route}
	for id, c := range targets {
		if err := c.send(msg); err != nil {
			h.logger.Warn("遷移メッセージの送信に失敗しました",
				slog.String("client_id", id),
				slog.String("error", err.Error()),
			)
			h.remove(id)
		}
	}

	h.logger.Info("画面遷移を通知しました",
		slog.String("route", string(route)),
		slog.Int("clients", len(targets)),
	)
}

// Current は最後に通知されたルートを返す。
func (h *Hub) Current() Route {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS はWebSocketへアップグレードし、接続直後に現在のルートを送信する。
// クライアントからのメッセージは読み捨て、切断まで接続を保持する。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocketのアップグレードに失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	id := uuid.NewString()
	c := &client{conn: conn}

	// 初回送信が終わるまで後続の配信を待たせ、ルートの順序を保つ
	c.mu.Lock()
	h.mu.Lock()
	h.clients[id] = c
	current := h.current
	h.mu.Unlock()

	defer h.remove(id)

	err = c.write(Message{Type: "navigate", Route: current})
	c.mu.Unlock()
	if err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// ServeWSHandler はServeWSをhttp.Handlerとして返す。
func (h *Hub) ServeWSHandler() http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
