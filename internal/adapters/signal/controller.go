package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/app"
	"github.com/ovident/telecall/internal/config"
	"github.com/ovident/telecall/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller binds authenticated websocket connections to the registry and
// shuttles envelopes between clients and the router.
type Controller struct {
	Registry *app.Registry
	Presence *app.Presence
	Invites  *app.InviteRateLimiter
	Cfg      *config.Config
}

func NewController(reg *app.Registry, presence *app.Presence, invites *app.InviteRateLimiter, cfg *config.Config) *Controller {
	return &Controller{Registry: reg, Presence: presence, Invites: invites, Cfg: cfg}
}

// HandleSignal upgrades the connection and binds it to the authenticated
// user identity set by the JWT middleware.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("user_id"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	log.Info().Str("module", "signal").Str("uid", string(uid)).Msg("new channel")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWSSignalConn(ws)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Bind(uid, conn, cancel)
	ctl.Presence.Online(ctx, uid)

	go ctl.writePump(ctx, uid, conn)
	go ctl.readPump(ctx, uid, conn)
}

func (ctl *Controller) readPump(ctx context.Context, uid domain.UserID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("uid", string(uid)).Msg("channel closing")
		c.Close()
		ctl.Registry.Unbind(uid, c)
		ctl.Presence.Offline(context.Background(), uid)
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * ctl.Cfg.PingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * ctl.Cfg.PingPeriod))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("uid", string(uid)).Msg("read error")
				}
				return
			}
			ctl.handleFrame(uid, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(uid domain.UserID, c *wsSignalConn, data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("uid", string(uid)).Msg("bad envelope")
		return
	}
	// The sender field is the bound identity, whatever the client claims.
	env.From = uid

	if env.Kind == domain.KindCallInvite && ctl.Invites != nil && !ctl.Invites.Allow(uid) {
		log.Warn().Str("module", "signal").Str("uid", string(uid)).Msg("invite rate limited")
		ctl.bounce(c, env, "rate limited")
		return
	}

	ctl.Registry.Route(env)
}

// bounce answers the sender's own invite with a reject so its call ends
// instead of ringing out.
func (ctl *Controller) bounce(c *wsSignalConn, env domain.Envelope, reason string) {
	reject, err := domain.NewEnvelope(domain.KindCallReject, env.SessionID, env.To, env.From,
		domain.RejectPayload{Reason: reason})
	if err != nil {
		return
	}
	raw, err := json.Marshal(reject)
	if err != nil {
		return
	}
	_ = c.TrySend(raw)
}

func (ctl *Controller) writePump(ctx context.Context, uid domain.UserID, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("uid", string(uid)).Msg("write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			ctl.Presence.Refresh(ctx, uid)
		}
	}
}
