package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"water_monitor/internal/feed"
	"water_monitor/internal/models"
	"water_monitor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB

	sourceCache = "cache"
	sourceLive  = "live"
	typeError   = "error"
)

// Stream names accepted by /ws.
const (
	streamReadings = "readings"
	streamStatuses = "statuses"
	streamHistory  = "history"
	streamControl  = "control"
)

var errUnknownStream = errors.New("unknown stream; use readings, statuses, history or control")

// Envelope used for WebSocket messages. Source is "cache" for the first
// message of a stream and "live" afterwards.
type wsEnvelope struct {
	Type   string      `json:"type"`
	Source string      `json:"source,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Upgrader for HTTP -> WebSocket. Consider tightening CheckOrigin in production.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsStream is one fan-out consumer plus the cached value sent before it.
type wsStream struct {
	name   string
	cached interface{}
	sub    *feed.Subscription[any]
}

func toAny[T any](sub *feed.Subscription[T]) *feed.Subscription[any] {
	return feed.Map(sub, func(v T) any { return v })
}

func (h *Handler) openStream(name, sensor string) (*wsStream, error) {
	t := h.services.Telemetry
	switch name {
	case streamReadings:
		sub, err := t.SubscribeReadings()
		if err != nil {
			return nil, err
		}
		return &wsStream{name: name, cached: t.Readings(), sub: toAny(sub)}, nil
	case streamStatuses:
		sub, err := t.SubscribeStatuses()
		if err != nil {
			return nil, err
		}
		return &wsStream{name: name, cached: t.Statuses(), sub: toAny(sub)}, nil
	case streamHistory:
		cached, err := t.History(sensor)
		if err != nil {
			return nil, err
		}
		sub, err := t.SubscribeHistory(sensor)
		if err != nil {
			return nil, err
		}
		return &wsStream{name: name, cached: cached, sub: toAny(sub)}, nil
	case streamControl:
		sub, err := h.subscribeControl()
		if err != nil {
			return nil, err
		}
		return &wsStream{name: name, cached: h.services.ControlState.State(), sub: sub}, nil
	default:
		return nil, errUnknownStream
	}
}

// subscribeControl merges the four control feeds. Every emission is replaced
// by the composite state, which the emitting listener updated just before.
func (h *Handler) subscribeControl() (*feed.Subscription[any], error) {
	cs := h.services.ControlState
	state := func() any { return cs.State() }

	var subs []*feed.Subscription[any]
	closeAll := func() {
		for _, s := range subs {
			s.Close()
		}
	}

	pumps, err := cs.SubscribePumps()
	if err != nil {
		return nil, err
	}
	subs = append(subs, feed.Map(pumps, func([2]bool) any { return state() }))

	for _, subscribe := range []func() (*feed.Subscription[bool], error){cs.SubscribeSystem, cs.SubscribeServo} {
		s, err := subscribe()
		if err != nil {
			closeAll()
			return nil, err
		}
		subs = append(subs, feed.Map(s, func(bool) any { return state() }))
	}

	schedule, err := cs.SubscribeSchedule()
	if err != nil {
		closeAll()
		return nil, err
	}
	subs = append(subs, feed.Map(schedule, func(models.ScheduleStatus) any { return state() }))

	return feed.Merge(subs...), nil
}

// @Summary      Live stream
// @Description  Sends the cached value first (source=cache), then every update (source=live). A listener failure is sent as an error envelope and the socket closes; reconnect to retry.
// @Tags         streams
// @Param        stream  query  string  true   "Stream"  Enums(readings,statuses,history,control)
// @Param        sensor  query  string  false  "Sensor for the history stream"  Enums(ph,tds,turbidity)
// @Success      101
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Query("stream")))
	stream, err := h.openStream(name, c.Query("sensor"))
	if err != nil {
		if errors.Is(err, errUnknownStream) || errors.Is(err, service.ErrUnknownSensor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusServiceUnavailable, "stream unavailable", "ws_subscribe_failed", err, "stream", name)
		return
	}
	defer stream.sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader goroutine to handle control frames and detect disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := writeEnvelope(conn, wsEnvelope{Type: stream.name, Source: sourceCache, Data: stream.cached}); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	values := stream.sub.C()
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case v, ok := <-values:
			if !ok {
				h.closeWithError(conn, stream)
				return
			}
			if err := writeEnvelope(conn, wsEnvelope{Type: stream.name, Source: sourceLive, Data: v}); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err)
				}
				return
			}
		}
	}
}

// closeWithError reports a terminal listener error to the client.
func (h *Handler) closeWithError(conn *websocket.Conn, stream *wsStream) {
	err := stream.sub.Err()
	if err == nil {
		return
	}
	if h.log != nil {
		h.log.Warnw("ws_stream_failed", "stream", stream.name, "err", err)
	}
	_ = writeEnvelope(conn, wsEnvelope{Type: typeError, Source: sourceLive, Error: err.Error()})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed"),
		time.Now().Add(writeWait))
}

// Helper: startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
