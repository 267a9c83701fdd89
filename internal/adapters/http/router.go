package http

import (
	"context"
	"net/http"

	"github.com/dkeye/voicemesh/internal/adapters/signal"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser or CLI a stable token kept in the
// session cookie. It is only used for log correlation: participant ids are
// per connection.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SignalOptions(cfg *config.Config) signal.Options {
	return signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("VoiceMeshSessions", store))
	r.Use(ClientTokenMiddleware())

	ctrl := signal.NewSignalWSController(o, SignalOptions(cfg))
	r.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": o.Registry.Count()})
	})

	api := r.Group("/api")
	api.GET("/rooms", listRooms(o))
	api.GET("/rooms/:id/members", listMembers(o))
	api.DELETE("/rooms/:id/members/:pid", kickMember(o))

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

func listRooms(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms := o.Rooms.List()
		if rooms == nil {
			rooms = []core.RoomInfo{}
		}
		c.JSON(http.StatusOK, rooms)
	}
}

func listMembers(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, ok := o.Members(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, members)
	}
}

func kickMember(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("id"))
		pid := domain.ParticipantID(c.Param("pid"))
		room, ok := o.Rooms.Get(roomID)
		if !ok || !room.Has(pid) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		o.Kick(pid)
		log.Info().Str("module", "adapters.http").Str("room", string(roomID)).Str("pid", string(pid)).Msg("member kicked")
		c.Status(http.StatusNoContent)
	}
}
