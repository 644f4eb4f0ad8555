package server

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"typed-rpc/protocol"
	"typed-rpc/transport"
)

// HTTPHandler serves one call per POST: the request body is the encoded
// request, the response body the encoded response.
func HTTPHandler(d *Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(protocol.MaxBodyLen)))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}

		out, err := d.Dispatch(r.Context(), body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", transport.ContentType)
		w.Write(out)
	})
}

// WebSocketHandler upgrades the connection and serves every binary message
// as a request until the peer goes away. Responses may be sent out of order;
// the stub matches them by sequence number.
func WebSocketHandler(d *Dispatcher, opts *websocket.AcceptOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			d.Logger().Warn("websocket accept failed", zap.Error(err))
			return
		}
		ws := transport.NewWebSocket(c)
		defer ws.Close()

		if err := d.Serve(r.Context(), ws); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				d.Logger().Debug("websocket closed", zap.Error(err))
			}
		}
	})
}
