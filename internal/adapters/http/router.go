package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/ws"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/features/board"
	"github.com/dkeye/Huddle/internal/features/call"
	"github.com/dkeye/Huddle/internal/features/canvas"
	"github.com/dkeye/Huddle/internal/features/chat"
	"github.com/dkeye/Huddle/internal/features/doc"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a stable token to the browser, used to throttle
// join attempts. It is not a session id: every socket mints its own.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps is everything the router serves, constructed once at startup and
// passed in; no feature reaches for ambient singletons.
type Deps struct {
	Chat     *chat.Feature
	Board    *board.Feature
	Canvas   *canvas.Feature
	Call     *call.Feature
	Doc      *doc.Feature
	Verifier auth.Verifier
}

type statsProvider interface {
	Stats() app.FeatureStats
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	limiter := app.NewRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow)
	endpoint := func(factory ws.SessionFactory) gin.HandlerFunc {
		ep := &ws.Endpoint{
			Factory:    factory,
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			Limiter:    limiter,
		}
		return func(c *gin.Context) { ep.Handle(ctx, c) }
	}

	api := r.Group("/api")
	api.GET("/ws/chat", endpoint(deps.Chat.NewSession))
	api.GET("/ws/board", endpoint(deps.Board.NewSession))
	api.GET("/ws/canvas", endpoint(deps.Canvas.NewSession))
	api.GET("/ws/call", endpoint(deps.Call.NewSession))
	api.GET("/ws/doc", endpoint(deps.Doc.NewSession))

	api.GET("/chat/:room/messages", deps.Chat.HandleHistory)

	admin := api.Group("/admin", auth.RequireRole(deps.Verifier, "admin"))
	admin.GET("/stats", func(c *gin.Context) {
		providers := []statsProvider{deps.Chat, deps.Board, deps.Canvas, deps.Call, deps.Doc}
		out := make([]app.FeatureStats, 0, len(providers))
		for _, p := range providers {
			out = append(out, p.Stats())
		}
		c.JSON(http.StatusOK, gin.H{"features": out})
	})

	return r
}
