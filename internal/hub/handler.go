package hub

import "net/http"

// Handler returns an http.Handler serving the websocket endpoint.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
