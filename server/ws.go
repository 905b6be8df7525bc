package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BeanGreen247/xylonic-sub000/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 控制服务只监听本机回环地址
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleProgressWS 把管道事件以 JSON 推送给 websocket 订阅者
// 连接建立后先推送一次当前快照
func (s *ControlServer) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket升级失败", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	// 读取协程：感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := map[string]interface{}{
		"type":     "queue-updated",
		"snapshot": s.pipeline.Snapshot(),
	}
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("websocket写入失败，断开订阅", logger.ErrorField(err))
				return
			}
		}
	}
}
