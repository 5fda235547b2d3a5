package govtxd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"nounsgov/txflow"
)

const wsWriteTimeout = 10 * time.Second

// handleStream pushes a snapshot on every tracker change. The stream closes
// normally once the attempt settles.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.tracker(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := streamTracker(ctx, conn, tr); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("tracker stream failed", slog.String("tracker", tr.ID()), slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamTracker(ctx context.Context, conn *websocket.Conn, tr *txflow.Tracker) error {
	updates, cancel := tr.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeSnapshot(ctx, conn, snap); err != nil {
				return err
			}
			if snap.State.Terminal() {
				return nil
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap txflow.Snapshot) error {
	data, err := json.Marshal(viewSnapshot(snap))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
