package wsm

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PrincipalFromRequest authenticates an incoming upgrade request and
// returns the resulting Principal, the seam HandleUpgrade calls so the
// transport stays decoupled from whatever bearer-token validation the
// deployment wires in.
type PrincipalFromRequest func(r *http.Request) (Principal, error)

// HandleUpgrade upgrades r to a WebSocket, authenticates it, registers it
// with h, and blocks serving it until the connection closes — the typed-
// dispatch generalization of api_stream.go's handleDashboardStream.
func HandleUpgrade(ctx context.Context, h *Hub, authenticate PrincipalFromRequest, w http.ResponseWriter, r *http.Request) {
	principal, err := authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsm: upgrade failed: %v", err)
		return
	}

	sess, err := h.Accept(principal, conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	conn.SetPongHandler(func(string) error {
		sess.markPong()
		return nil
	})

	h.Serve(ctx, sess)
}
