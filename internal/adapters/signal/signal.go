// Package signal terminates each client's websocket channel and translates
// the request vocabulary into orchestrator calls. Every request carries a
// requestId and receives exactly one response, success or error; failures
// never terminate the channel.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livecast/internal/app"
	"livecast/internal/domain"
	"livecast/internal/metrics"
	"livecast/internal/recording"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Controller struct {
	Orch       *app.Orchestrator
	Hub        *Hub
	Recordings *recording.Service
	Store      app.StreamStore
	Metrics    *metrics.Metrics

	ReadLimit  int64
	PingPeriod time.Duration
}

// HandleSignal upgrades the authenticated request to a websocket channel
// and runs its pumps. The identity was attached by the auth middleware
// before this point; no credential checks happen here.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	identity := domain.Identity(c.GetString("identity"))
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := uuid.NewString()
	conn := newConn(ws, sid, identity)
	log.Info().Str("module", "signal").Str("sid", sid).Str("identity", string(identity)).Msg("new WS connection")

	// Deterministic per-identity group so external notifiers can reach
	// this identity's channels.
	ctl.Hub.Join(domain.UserGroup(identity), conn)

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)
	ctl.readPump(connCtx, cancel, conn)
}

type response struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// respond delivers the single success reply for a request.
func (ctl *Controller) respond(c *Conn, requestID string, data any) {
	ctl.sendJSON(c, response{Type: "response", RequestID: requestID, Data: data})
}

// respondErr delivers the single error reply for a request.
func (ctl *Controller) respondErr(c *Conn, requestID string, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("sid", c.sid).Str("request_id", requestID).Msg("request failed")
	ctl.sendJSON(c, response{Type: "response", RequestID: requestID, Error: err.Error()})
}
