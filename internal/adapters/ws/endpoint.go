package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
)

// Session is one connection's view of a feature adapter. HandleMessage runs
// on the connection's read pump, so per-connection event order is the order
// the client sent.
type Session interface {
	HandleMessage(messageType int, data []byte)
	// HandleClose runs exactly once, whether the peer closed, the read
	// failed, or the session was kicked. It shares the leave path with an
	// explicit leave event and must tolerate having raced one.
	HandleClose()
}

// SessionFactory builds the feature session for a fresh connection. cancel
// tears the connection down (used for kicks).
type SessionFactory func(sid core.SessionID, conn *Conn, cancel context.CancelFunc) Session

// Endpoint turns a gin route into a feature websocket endpoint.
type Endpoint struct {
	Factory    SessionFactory
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	Limiter    *app.RateLimiter
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (e *Endpoint) Handle(ctx context.Context, c *gin.Context) {
	if e.Limiter != nil && !e.Limiter.Allow(c.GetString("client_token")) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	// The session id is the connection handle: every socket gets its own, so
	// two tabs of one browser are two members. The client token only
	// throttles join attempts per browser.
	sid := core.SessionID(uuid.NewString())

	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Str("module", "ws").Err(err).Msg("upgrade")
		return
	}
	if e.ReadLimit > 0 {
		wsc.SetReadLimit(e.ReadLimit)
	}

	buffer := e.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}
	conn := newConn(wsc, buffer)
	ctx, cancel := context.WithCancel(ctx)
	sess := e.Factory(sid, conn, cancel)
	log.Info().Str("module", "ws").Str("sid", string(sid)).Msg("connection open")

	go e.writePump(ctx, cancel, conn)
	go e.readPump(ctx, sid, conn, sess, cancel)
}

func (e *Endpoint) writePump(ctx context.Context, cancel context.CancelFunc, c *Conn) {
	// Any exit severs the socket: a write-dead member must not linger in its
	// room dropping every frame while the read side stays up. Closing
	// unblocks the read pump, which runs the shared cleanup.
	defer func() {
		cancel()
		c.Close()
	}()

	period := e.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Str("module", "ws").Err(err).Msg("writePump ping")
				return
			}
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Str("module", "ws").Err(err).Msg("writePump set deadline")
				return
			}
			mt := websocket.TextMessage
			if f.Binary {
				mt = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(mt, f.Data); err != nil {
				log.Error().Str("module", "ws").Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (e *Endpoint) readPump(ctx context.Context, sid core.SessionID, c *Conn, sess Session, cancel context.CancelFunc) {
	defer func() {
		log.Info().Str("module", "ws").Str("sid", string(sid)).Msg("connection closing")
		cancel()
		c.Close()
		sess.HandleClose()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			mt, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Str("module", "ws").Str("sid", string(sid)).Err(err).Msg("read loop done")
				return
			}
			sess.HandleMessage(mt, data)
		}
	}
}
