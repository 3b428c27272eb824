package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// timestampedEvent wraps a core event with the transport timestamp. Core
// events never carry time; the transport stamps them on the way out.
type timestampedEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     json.RawMessage `json:"-"`
}

func (e timestampedEvent) MarshalJSON() ([]byte, error) {
	// Splice the timestamp into the event object.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Event, &fields); err != nil {
		return nil, err
	}
	ts, err := json.Marshal(e.Timestamp)
	if err != nil {
		return nil, err
	}
	fields["timestamp"] = ts
	return json.Marshal(fields)
}

// handleStream upgrades to WebSocket and forwards the session's event
// stream, including the accumulated backlog, in order.
func (s *Server) handleStream(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}
	orch := sess.Orchestrator()
	if orch == nil {
		c.JSON(http.StatusConflict, gin.H{"detail": "Session has not started"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	st := orch.Stream()
	events := st.Attach(64)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			payload, err := json.Marshal(timestampedEvent{Timestamp: time.Now().UTC(), Event: raw})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-st.Done():
			// Drain whatever was buffered before the stream closed.
			for {
				select {
				case ev := <-events:
					raw, err := json.Marshal(ev)
					if err != nil {
						continue
					}
					payload, merr := json.Marshal(timestampedEvent{Timestamp: time.Now().UTC(), Event: raw})
					if merr != nil {
						continue
					}
					if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
