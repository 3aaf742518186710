package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/voice"
)

// handleVoice upgrades the request and runs one voice session for the
// lifetime of the connection.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	user := userID(w, r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("web: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.maxFrame)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.orch.NewSession(user, &wsSink{conn: conn, timeout: s.writeTimeout})
	if s.tracker != nil {
		release := s.tracker.Track(sess)
		defer release()
	}
	go func() { _ = sess.Run(ctx) }()

	s.readLoop(ctx, conn, sess)
	cancel()
	<-sess.Done()
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *voice.Session) {
	log := observe.Logger(observe.WithSession(ctx, sess.ID(), sess.UserID()))
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.CloseStatus(err) != -1:
				log.Debug("web: client closed voice socket", "status", websocket.CloseStatus(err))
			default:
				log.Debug("web: voice socket read", "err", err)
			}
			return
		}

		var msg voice.Message
		switch typ {
		case websocket.MessageBinary:
			msg = voice.AudioMessage(data)
		case websocket.MessageText:
			msg, err = voice.DecodeMessage(data)
			if err != nil {
				log.Debug("web: bad client message", "err", err)
				s.metrics.RecordDropped(ctx, "invalid")
				continue
			}
		default:
			continue
		}
		sess.Deliver(msg)
	}
}

// wsSink writes session events as JSON text frames.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (k *wsSink) Send(ctx context.Context, ev voice.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	// A cancelled context closes the connection in websocket.Conn.Write, so
	// only the write timeout applies here.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()
	if err := k.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("web: write event: %w", err)
	}
	return nil
}

// encodeEvent flattens ev into one JSON object: {"type": ..., <data fields>}.
func encodeEvent(ev voice.Event) ([]byte, error) {
	typ, err := json.Marshal(ev.Type)
	if err != nil {
		return nil, err
	}
	head := append([]byte(`{"type":`), typ...)
	if ev.Data == nil {
		return append(head, '}'), nil
	}
	body, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("web: encode %s event: %w", ev.Type, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, errors.New("web: event data must encode as an object")
	}
	if len(body) == 2 {
		return append(head, '}'), nil
	}
	head = append(head, ',')
	return append(head, body[1:]...), nil
}
