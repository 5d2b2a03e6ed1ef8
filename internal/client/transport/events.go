package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

// feedURL turns an HTTP address into the websocket URL of the change feed.
func feedURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
	default:
		addr = "ws://" + addr
	}
	return strings.TrimRight(addr, "/") + PathEvents
}

// Watch subscribes to the server's change feed and calls onChange for each
// event. It returns nil once ctx is done, and an error wrapping
// common.ErrUnavailable or common.ErrUnauthorized when the feed cannot be
// reached or drops.
func Watch(ctx context.Context, o Options, onChange func(syncapi.ChangeEvent)) error {
	h := http.Header{}
	if o.AccessToken != "" {
		h.Set("Authorization", "Bearer "+o.AccessToken)
	}
	if o.ClientID != "" {
		h.Set(common.ClientIDHTTPHeader, o.ClientID)
	}

	dctx, cancel := withTimeout(ctx, o.Timeout)
	conn, resp, err := websocket.Dial(dctx, feedURL(o.Address), &websocket.DialOptions{HTTPHeader: h})
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return common.ErrUnauthorized
		}
		return fmt.Errorf("%w: change feed: %v", common.ErrUnavailable, err)
	}
	defer conn.CloseNow()

	for {
		var ev syncapi.ChangeEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("%w: change feed closed: %s", common.ErrUnavailable, ce.Code)
			}
			return fmt.Errorf("%w: change feed: %v", common.ErrUnavailable, err)
		}
		if ev.Type == syncapi.EventChanged {
			onChange(ev)
		}
	}
}
