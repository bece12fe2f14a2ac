// Package http exposes the control plane over REST plus a websocket
// subscription endpoint for message delivery.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stagelink/server/internal/app"
	"github.com/stagelink/server/internal/config"
	"github.com/stagelink/server/internal/core"
	"github.com/stagelink/server/internal/domain"
)

// Subscriber is the optional websocket delivery endpoint; nil when the
// remote room service carries messages itself.
type Subscriber interface {
	HandleSubscribe(c *gin.Context)
}

// SetupRouter wires every control-plane route.
// - Unauthenticated: stream create and join.
// - Everything else requires the bearer auth token minted on create/join.
func SetupRouter(cfg *config.Config, coord *app.Coordinator, tokens core.TokenService, sub Subscriber) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.POST("/streams", func(c *gin.Context) {
		var req struct {
			Identity    string `json:"identity"`
			RoomName    string `json:"room_name"`
			Kind        string `json:"kind"`
			ChatEnabled bool   `json:"chat_enabled"`
		}
		if err := c.BindJSON(&req); err != nil || req.Identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		creds, err := coord.CreateStream(c.Request.Context(), app.CreateStreamParams{
			Identity:    req.Identity,
			RoomName:    req.RoomName,
			Kind:        domain.RoomKind(req.Kind),
			ChatEnabled: req.ChatEnabled,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, creds)
	})

	api.POST("/streams/join", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
			RoomName string `json:"room_name"`
		}
		if err := c.BindJSON(&req); err != nil || req.Identity == "" || req.RoomName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		creds, status, err := coord.JoinStream(c.Request.Context(), req.RoomName, req.Identity)
		if err != nil {
			writeError(c, err)
			return
		}
		if status.Code != app.StatusOK {
			c.JSON(http.StatusOK, gin.H{"status": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "credentials": creds})
	})

	auth := api.Group("", authMiddleware(tokens))

	auth.GET("/rooms", func(c *gin.Context) {
		rooms, err := coord.Rooms(c.Request.Context(), domain.RoomKind(c.Query("kind")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	auth.GET("/rooms/details", func(c *gin.Context) {
		details, err := coord.RoomsWithParticipants(c.Request.Context(), domain.RoomKind(c.Query("kind")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": details})
	})

	auth.POST("/streams/stop", func(c *gin.Context) {
		status, err := coord.StopStream(c.Request.Context(), session(c))
		writeStatus(c, status, err)
	})

	auth.POST("/stage/invite", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
			SeatID   *int   `json:"seat_id"`
		}
		if err := c.BindJSON(&req); err != nil || req.Identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		seatID := domain.NoSeat
		if req.SeatID != nil {
			seatID = *req.SeatID
		}
		status, err := coord.InviteToStage(c.Request.Context(), session(c), req.Identity, seatID)
		writeStatus(c, status, err)
	})

	auth.POST("/stage/request", func(c *gin.Context) {
		var req struct {
			SeatID *int `json:"seat_id"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		seatID := domain.NoSeat
		if req.SeatID != nil {
			seatID = *req.SeatID
		}
		status, err := coord.RequestToPresent(c.Request.Context(), session(c), seatID)
		writeStatus(c, status, err)
	})

	auth.POST("/stage/requested_to_call", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
			Clear    bool   `json:"clear"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.SetRequestedToCall(c.Request.Context(), session(c), req.Identity, req.Clear)
		writeStatus(c, status, err)
	})

	auth.POST("/stage/remove", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.RemoveFromStage(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	auth.POST("/stage/reject", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.RejectRequest(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	auth.POST("/stage/lock_seat", func(c *gin.Context) {
		var req struct {
			SeatID int  `json:"seat_id"`
			Locked bool `json:"locked"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.LockSeat(c.Request.Context(), session(c), req.SeatID, req.Locked)
		writeStatus(c, status, err)
	})

	auth.POST("/admin/grant", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.MakeAdmin(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	auth.POST("/admin/revoke", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.RemoveAdmin(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	auth.POST("/battle/invite", func(c *gin.Context) {
		var req struct {
			RoomName   string `json:"room_name"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.InviteToBattle(c.Request.Context(), session(c), app.BattleInviteParams{
			RoomName:   req.RoomName,
			TTLSeconds: req.TTLSeconds,
		})
		writeStatus(c, status, err)
	})

	auth.POST("/battle/accept", func(c *gin.Context) {
		var req struct {
			RoomName   string `json:"room_name"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		if err := c.BindJSON(&req); err != nil || req.RoomName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.AcceptBattle(c.Request.Context(), session(c), app.AcceptBattleParams{
			RoomName:   req.RoomName,
			TTLSeconds: req.TTLSeconds,
		})
		writeStatus(c, status, err)
	})

	auth.POST("/battle/end", func(c *gin.Context) {
		status, err := coord.EndBattle(c.Request.Context(), session(c))
		writeStatus(c, status, err)
	})

	auth.POST("/team/invite", func(c *gin.Context) {
		var req struct {
			RoomName   string `json:"room_name"`
			Variant    string `json:"variant"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		if err := c.BindJSON(&req); err != nil || req.RoomName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.InviteToTeam(c.Request.Context(), session(c), app.TeamInviteParams{
			RoomName:   req.RoomName,
			Variant:    domain.TeamVariant(req.Variant),
			TTLSeconds: req.TTLSeconds,
		})
		writeStatus(c, status, err)
	})

	auth.POST("/team/accept", func(c *gin.Context) {
		var req struct {
			RoomName   string `json:"room_name"`
			Variant    string `json:"variant"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		if err := c.BindJSON(&req); err != nil || req.RoomName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.AcceptTeam(c.Request.Context(), session(c), app.AcceptTeamParams{
			RoomName:   req.RoomName,
			Variant:    domain.TeamVariant(req.Variant),
			TTLSeconds: req.TTLSeconds,
		})
		writeStatus(c, status, err)
	})

	auth.POST("/team/end", func(c *gin.Context) {
		status, err := coord.EndTeam(c.Request.Context(), session(c))
		writeStatus(c, status, err)
	})

	auth.POST("/team/remove_member", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil || req.Identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.RemoveTeamMember(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	auth.POST("/chat/send", func(c *gin.Context) {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.BindJSON(&req); err != nil || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.SendData(c.Request.Context(), session(c), req.Text)
		writeStatus(c, status, err)
	})

	auth.POST("/chat/enabled", func(c *gin.Context) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.SetChatEnabled(c.Request.Context(), session(c), req.Enabled)
		writeStatus(c, status, err)
	})

	auth.POST("/participants/mute", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
			Kind     string `json:"kind"`
			Muted    bool   `json:"muted"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.MuteTracks(c.Request.Context(), session(c), req.Identity, core.TrackKind(req.Kind), req.Muted)
		writeStatus(c, status, err)
	})

	auth.POST("/participants/remove", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil || req.Identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.RemoveParticipant(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	auth.POST("/participants/block", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity"`
		}
		if err := c.BindJSON(&req); err != nil || req.Identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		status, err := coord.BlockParticipant(c.Request.Context(), session(c), req.Identity)
		writeStatus(c, status, err)
	})

	if sub != nil {
		r.GET("/ws/subscribe", authMiddleware(tokens), sub.HandleSubscribe)
	}

	return r
}

// authMiddleware verifies the bearer token and places the session identity
// and room on the context.
func authMiddleware(tokens core.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := tokens.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("identity", claims.Identity)
		c.Set("room", claims.Room)
		c.Next()
	}
}

func session(c *gin.Context) app.Session {
	return app.Session{
		Identity: c.GetString("identity"),
		RoomName: c.GetString("room"),
	}
}

func writeStatus(c *gin.Context, status app.Status, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, core.ErrRoomNotFound), errors.Is(err, core.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrBadToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	default:
		log.Error().Err(err).Str("module", "http").Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
