package handlers

import (
	fws "github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
	"github.com/whatsapp-ai/wabot/internal/middleware"
	"github.com/whatsapp-ai/wabot/internal/websocket"
	"github.com/zerodha/fastglue"
)

var upgrader = fws.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		return true
	},
}

// WebSocketHandler upgrades a dashboard connection to the live chat feed.
// Browsers cannot set headers on the upgrade, so the JWT comes in ?token=.
func (a *App) WebSocketHandler(r *fastglue.Request) error {
	token := string(r.RequestCtx.QueryArgs().Peek("token"))
	if token == "" {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Missing token", nil, "")
	}

	claims, err := middleware.ParseToken(a.Config.Auth.JWTSecret, token)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Invalid or expired token", nil, "")
	}
	if claims.Role != middleware.RoleAdmin {
		return r.SendErrorEnvelope(fasthttp.StatusForbidden, "Admin access required", nil, "")
	}
	if a.WSHub == nil {
		return r.SendErrorEnvelope(fasthttp.StatusServiceUnavailable, "Live feed unavailable", nil, "")
	}

	err = upgrader.Upgrade(r.RequestCtx, func(conn *fws.Conn) {
		client := websocket.NewClient(a.WSHub, conn, claims.UserID)
		a.WSHub.Register(client)

		go client.WritePump()
		client.ReadPump()
	})
	if err != nil {
		a.Log.Error("WebSocket upgrade failed", "error", err)
	}
	return nil
}
