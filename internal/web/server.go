// Package web is the admin surface: a small JSON API over the trip and
// membership operations, guarded by server-issued session tokens.
package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripbot/internal/models"
	"tripbot/internal/trips"
)

// Store is the slice of the database the admin surface reads and writes.
type Store interface {
	CreateTrip(name string, groupID int64, limit *int, price int64, cardInfo, agreementText string) (*models.Trip, error)
	GetTrip(tripID int64) (*models.Trip, error)
	GetTripByGroupID(groupID int64) (*models.Trip, error)
	ListActiveTrips() ([]models.Trip, error)
	UpdateTrip(tripID int64, name string, limit *int, price int64, cardInfo, agreementText string) error
	SetTripStatus(tripID int64, status models.TripStatus) error
	SetTripInviteLinks(tripID int64, participantLink, guestLink string) error
	DeleteTrip(tripID int64) (bool, error)
	ListMembers(tripID int64) ([]models.MemberDetail, error)
	GetMembershipByID(memberID int64) (*models.Membership, error)
	GetUserByID(userID int64) (*models.User, error)
}

// MembershipService is the part of the state machine the admin surface
// drives. *trips.Service implements it.
type MembershipService interface {
	AdminSetStatus(memberID int64, status models.PaymentStatus) (*models.Membership, error)
	Seats(trip *models.Trip) (trips.Seats, error)
}

// InviteLinker creates fresh invite links for a group. *bot.Bot implements it.
type InviteLinker interface {
	CreateInviteLinks(groupID int64) (participant, guest string, err error)
}

// Revoker removes a user from a trip's group. *access.Enforcer implements it.
type Revoker interface {
	Revoke(groupID, telegramID int64)
}

type Notifier interface {
	Notify(chatID int64, text string)
}

type Server struct {
	store    Store
	service  MembershipService
	linker   InviteLinker
	revoker  Revoker
	notifier Notifier
	sessions *Sessions
	router   *gin.Engine
	log      *zap.Logger
}

func NewServer(store Store, service MembershipService, linker InviteLinker, revoker Revoker, notifier Notifier, sessions *Sessions, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:    store,
		service:  service,
		linker:   linker,
		revoker:  revoker,
		notifier: notifier,
		sessions: sessions,
		router:   router,
		log:      log,
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api", s.requireAdmin)
	{
		api.POST("/trips", s.handleCreateTrip)
		api.GET("/trips", s.handleListTrips)
		api.GET("/trips/:id", s.handleGetTrip)
		api.POST("/trips/:id/update", s.handleUpdateTrip)
		api.POST("/trips/:id/status", s.handleTripStatus)
		api.DELETE("/trips/:id", s.handleDeleteTrip)
		api.POST("/trips/:id/invite-links/regenerate", s.handleRegenerateLinks)
		api.GET("/trips/:id/export", s.handleExport)
		api.POST("/members/:id/status", s.handleMemberStatus)
		api.POST("/members/:id/kick", s.handleKickMember)
	}

	return s
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAdmin resolves the bearer token to an admin identity. The token is
// minted server-side via the bot; a bare claim of adminship is never trusted.
func (s *Server) requireAdmin(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	adminID, ok := s.sessions.Validate(token)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return
	}

	c.Set("admin_id", adminID)
	c.Next()
}
