package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethdford/fleetctl/internal/authn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// IssuerAuthenticator adapts *authn.Issuer (Claims-returning) to
// wsfanout.Authenticator (subject-returning), kept in httpapi rather
// than wsfanout so the hub stays decoupled from the token format.
type IssuerAuthenticator struct {
	Issuer *authn.Issuer
}

func (a IssuerAuthenticator) ValidateToken(token string) (string, error) {
	claims, err := a.Issuer.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	a.hub.Serve(r.Context(), conn, uuid.NewString())
}
