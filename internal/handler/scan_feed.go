package handler

import (
	"net/http"
	"sync"
	"time"

	"thingdb/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ScanEvent 是推给网页端的一次扫码事件。
// 扫码枪是无头设备，网页通过这条 feed 实时跟进扫到了什么。
type ScanEvent struct {
	GUID        string    `json:"guid"`
	Name        string    `json:"name"`
	LabelNumber int       `json:"label_number"`
	Created     bool      `json:"created"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// ScanFeed 维护订阅扫码事件的 websocket 连接，只做单向广播。
// 客户端不会发业务消息，读循环只负责发现断开。
type ScanFeed struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func NewScanFeed() *ScanFeed {
	return &ScanFeed{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 部署在 Cloudflare Tunnel 之后，源站不做 Origin 校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle 把 HTTP 连接升级成 websocket 并注册到广播列表。
func (f *ScanFeed) Handle(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("ScanFeed: websocket upgrade failed: %v", err)
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	count := len(f.clients)
	f.mu.Unlock()
	log.Infow("scan feed client connected", "clients", count)

	// 读循环只用于感知对端关闭
	go func() {
		defer f.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast 把事件推给所有在线客户端；写失败的连接直接摘除。
func (f *ScanFeed) Broadcast(event ScanEvent) {
	if event.ScannedAt.IsZero() {
		event.ScannedAt = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.clients {
		if err := conn.WriteJSON(event); err != nil {
			log.Warnf("ScanFeed: dropping client after write error: %v", err)
			_ = conn.Close()
			delete(f.clients, conn)
		}
	}
}

// ClientCount 返回当前在线客户端数（健康检查用）。
func (f *ScanFeed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *ScanFeed) remove(conn *websocket.Conn) {
	_ = conn.Close()
	f.mu.Lock()
	delete(f.clients, conn)
	f.mu.Unlock()
}
