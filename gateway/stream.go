package gateway

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/types"
)

const streamReadLimit = 512

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	addr, ok := g.pathAddress(w, r)
	if !ok {
		return
	}
	if _, err := g.deps.Devices.Describe(addr); err != nil {
		g.writeError(w, err)
		return
	}

	select {
	case <-g.shutdown:
		writeJSON(w, http.StatusServiceUnavailable, errorBody{"shutting down", http.StatusServiceUnavailable})
		return
	default:
	}

	sub, err := g.deps.Bus.Subscribe(addr, bus.WithRetained(), bus.WithQueueLen(g.cfg.StreamQueueLen))
	if err != nil {
		g.writeError(w, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the client.
		g.deps.Bus.Unsubscribe(sub)
		g.logger.Debug("Websocket upgrade failed", "address", addr.String(), "error", err)
		return
	}

	g.streams.Add(1)
	defer g.streams.Done()
	g.serveStream(conn, sub, addr)
}

// serveStream writes bus messages to conn until the client goes away, the
// gateway stops, or the subscription ends.
func (g *Gateway) serveStream(conn *websocket.Conn, sub *bus.Subscription, addr types.Address) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer g.deps.Bus.Unsubscribe(sub)
	defer conn.Close()

	g.logger.Debug("Stream opened", "address", addr.String(), "remote", conn.RemoteAddr().String())

	readTimeout := 2 * g.cfg.PingInterval
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// Clients only send control frames; any read error ends the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	go func() {
		select {
		case <-g.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, g.cfg.PingInterval)
		msg, err := sub.Next(waitCtx)
		waitCancel()

		switch {
		case err == nil:
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				g.logger.Debug("Stream write failed", "address", addr.String(), "error", err)
				return
			}
		case ctx.Err() != nil:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
				time.Now().Add(time.Second))
			return
		case stderrors.Is(err, context.DeadlineExceeded):
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.cfg.WriteTimeout)); err != nil {
				return
			}
		default:
			g.logger.Debug("Stream subscription ended", "address", addr.String(), "dropped", sub.Dropped())
			return
		}
	}
}
