package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/kanrun/internal/executor/dto"
	"github.com/kandev/kanrun/internal/executor/recency"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsStreamOptions streams discovered options for one executor.
// WS /api/v1/executors/:executor/options/stream
func (h *Handlers) wsStreamOptions(c *gin.Context) {
	executor, ok := parseExecutor(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.String("executor", string(executor)), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := c.Request.Context()
	updates, unsubscribe := h.controller.SubscribeOptions(ctx, executor, parseAlign(c))
	defer unsubscribe()

	// The read loop only detects the peer going away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case resp, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(resp); err != nil {
				h.logger.Debug("options stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

type pickerInput struct {
	cmd dto.PickerCommand
	err error
}

// wsPicker keeps one picker session open. The client sends dto.PickerCommand
// messages and receives a dto.PickerEvent after every change, including
// changes to the selected executor's discovered options.
// WS /api/v1/executor-config/picker?scratch_id=
func (h *Handlers) wsPicker(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := c.Request.Context()
	session, err := h.controller.OpenPicker(ctx, dto.ResolveRequest{ScratchID: c.Query("scratch_id")})
	if err != nil {
		h.logger.Error("failed to open picker", zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "picker unavailable"))
		return
	}
	defer session.Close(ctx)

	write := func(ev dto.PickerEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("picker write failed", zap.Error(err))
			return false
		}
		return true
	}
	writeResult := func() bool {
		resp := dto.FromResult(session.Result())
		return write(dto.PickerEvent{Result: &resp})
	}

	inputs := make(chan pickerInput)
	closed := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in pickerInput
			in.err = json.Unmarshal(data, &in.cmd)
			select {
			case inputs <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	if !writeResult() {
		return
	}

	// Options follow the current executor; the subscription moves with it.
	executor := session.Executor()
	var updates <-chan dto.OptionsResponse
	unsubscribe := func() {}
	subscribe := func() {
		unsubscribe()
		updates, unsubscribe = nil, func() {}
		if executor != "" {
			updates, unsubscribe = h.controller.SubscribeOptions(ctx, executor, recency.AlignTop)
		}
	}
	subscribe()
	defer func() { unsubscribe() }()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case in := <-inputs:
			if in.err != nil {
				if !write(dto.PickerEvent{Error: "invalid command: " + in.err.Error()}) {
					return
				}
				continue
			}
			if _, err := session.Apply(ctx, in.cmd); err != nil {
				if !write(dto.PickerEvent{Error: err.Error()}) {
					return
				}
				continue
			}
			if next := session.Executor(); next != executor {
				executor = next
				subscribe()
			}
			if !writeResult() {
				return
			}
		case _, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			session.Refresh(ctx)
			if !writeResult() {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
