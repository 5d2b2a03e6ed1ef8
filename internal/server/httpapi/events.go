package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

const eventWriteTimeout = 5 * time.Second

// changeFeed streams ChangeEvents to a websocket until the client goes away
// or the hub is closed.
func (h *handlers) changeFeed(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, syncapi.ErrCodeBadRequest, "change feed disabled", nil)
		return
	}
	userID, _ := userIDFrom(r.Context())
	clientID := r.Header.Get(common.ClientIDHTTPHeader)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "user", userID, "error", err)
		return
	}

	ch, cancel := h.events.Subscribe(userID, clientID)
	defer cancel()

	h.logger.Debug(r.Context(), "change feed subscribed", "user", userID, "client", clientID)

	// reads are only needed to notice the peer closing
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				h.logger.Debug(ctx, "change feed write failed", "user", userID, "error", err)
				return
			}
		}
	}
}
