package web

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripbot/internal/database"
	"tripbot/internal/models"
	"tripbot/internal/trips"
	"tripbot/pkg/logger"
)

type tripPayload struct {
	Name          string `json:"name" binding:"required"`
	GroupID       int64  `json:"group_id"`
	Limit         *int   `json:"participant_limit"`
	Price         int64  `json:"price"`
	CardInfo      string `json:"card_info"`
	AgreementText string `json:"agreement_text"`
}

type tripResponse struct {
	*models.Trip
	Reserved  int  `json:"reserved"`
	Available *int `json:"seats_available,omitempty"`
}

func (s *Server) tripResponse(trip *models.Trip) (tripResponse, error) {
	seats, err := s.service.Seats(trip)
	if err != nil {
		return tripResponse{}, err
	}

	resp := tripResponse{Trip: trip, Reserved: seats.Reserved}
	if seats.Limited {
		available := seats.Available
		resp.Available = &available
	}
	return resp, nil
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreateTrip(c *gin.Context) {
	var payload tripPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.GroupID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id is required"})
		return
	}
	if payload.Price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must not be negative"})
		return
	}
	if payload.Limit != nil && *payload.Limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_limit must be positive"})
		return
	}

	trip, err := s.store.CreateTrip(payload.Name, payload.GroupID, payload.Limit,
		payload.Price, payload.CardInfo, payload.AgreementText)
	if errors.Is(err, database.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "group already hosts a trip"})
		return
	}
	if err != nil {
		s.fail(c, "create trip", err)
		return
	}

	// Invite links are a convenience at creation time; the admin can
	// regenerate them later if this fails.
	if participant, guest, err := s.linker.CreateInviteLinks(trip.GroupID); err != nil {
		s.log.Warn("invite link creation failed",
			zap.Int64(logger.FieldTripID, trip.ID),
			zap.Error(err))
	} else if err := s.store.SetTripInviteLinks(trip.ID, participant, guest); err != nil {
		s.fail(c, "store invite links", err)
		return
	} else {
		trip.ParticipantInviteLink = participant
		trip.GuestInviteLink = guest
	}

	resp, err := s.tripResponse(trip)
	if err != nil {
		s.fail(c, "count seats", err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleListTrips(c *gin.Context) {
	active, err := s.store.ListActiveTrips()
	if err != nil {
		s.fail(c, "list trips", err)
		return
	}

	out := make([]tripResponse, 0, len(active))
	for i := range active {
		resp, err := s.tripResponse(&active[i])
		if err != nil {
			s.fail(c, "count seats", err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"trips": out})
}

func (s *Server) handleGetTrip(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	trip, err := s.store.GetTrip(id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	}
	if err != nil {
		s.fail(c, "get trip", err)
		return
	}

	members, err := s.store.ListMembers(id)
	if err != nil {
		s.fail(c, "list members", err)
		return
	}

	resp, err := s.tripResponse(trip)
	if err != nil {
		s.fail(c, "count seats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip": resp, "members": members})
}

func (s *Server) handleUpdateTrip(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var payload tripPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if payload.Price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must not be negative"})
		return
	}

	if _, err := s.store.GetTrip(id); errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	} else if err != nil {
		s.fail(c, "get trip", err)
		return
	}

	err := s.store.UpdateTrip(id, payload.Name, payload.Limit, payload.Price,
		payload.CardInfo, payload.AgreementText)
	if err != nil {
		s.fail(c, "update trip", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) handleTripStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var payload struct {
		Status models.TripStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !payload.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown trip status %q", payload.Status)})
		return
	}

	if _, err := s.store.GetTrip(id); errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	} else if err != nil {
		s.fail(c, "get trip", err)
		return
	}

	if err := s.store.SetTripStatus(id, payload.Status); err != nil {
		s.fail(c, "set trip status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": payload.Status})
}

// handleDeleteTrip removes the trip and, through cascade, every membership.
// Group members are not kicked; completing or cancelling the trip first is
// the admin's call.
func (s *Server) handleDeleteTrip(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	deleted, err := s.store.DeleteTrip(id)
	if err != nil {
		s.fail(c, "delete trip", err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	}

	s.log.Info("trip deleted", zap.Int64(logger.FieldTripID, id))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleRegenerateLinks(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	trip, err := s.store.GetTrip(id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	}
	if err != nil {
		s.fail(c, "get trip", err)
		return
	}

	participant, guest, err := s.linker.CreateInviteLinks(trip.GroupID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "invite link creation failed"})
		return
	}
	if err := s.store.SetTripInviteLinks(trip.ID, participant, guest); err != nil {
		s.fail(c, "store invite links", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"participant_invite_link": participant,
		"guest_invite_link":       guest,
	})
}

func (s *Server) handleExport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	trip, err := s.store.GetTrip(id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
		return
	}
	if err != nil {
		s.fail(c, "get trip", err)
		return
	}

	members, err := s.store.ListMembers(id)
	if err != nil {
		s.fail(c, "list members", err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", trip.Name+"-participants.csv"))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"member_id", "first_name", "last_name", "email", "telegram_id", "payment_status", "joined_at", "has_receipt"})
	for _, md := range members {
		email := ""
		if md.Email != nil {
			email = *md.Email
		}
		hasReceipt := "no"
		if md.ReceiptFileID != nil {
			hasReceipt = "yes"
		}
		_ = w.Write([]string{
			strconv.FormatInt(md.ID, 10),
			md.FirstName,
			md.LastName,
			email,
			strconv.FormatInt(md.TelegramID, 10),
			string(md.PaymentStatus),
			md.JoinedAt.Format(time.RFC3339),
			hasReceipt,
		})
	}
	w.Flush()
}

func (s *Server) handleMemberStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var payload struct {
		Status models.PaymentStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !payload.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown payment status %q", payload.Status)})
		return
	}

	m, err := s.service.AdminSetStatus(id, payload.Status)
	if errors.Is(err, trips.ErrMembershipNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}
	if err != nil {
		s.fail(c, "set member status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

func (s *Server) handleKickMember(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	m, err := s.store.GetMembershipByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "membership not found"})
		return
	}
	if err != nil {
		s.fail(c, "get membership", err)
		return
	}

	trip, err := s.store.GetTrip(m.TripID)
	if err != nil {
		s.fail(c, "get trip", err)
		return
	}
	user, err := s.store.GetUserByID(m.UserID)
	if err != nil {
		s.fail(c, "get user", err)
		return
	}

	s.revoker.Revoke(trip.GroupID, user.TelegramID)
	s.notifier.Notify(user.TelegramID, fmt.Sprintf(
		"🚫 An admin removed you from the group of <b>%s</b>.", trip.Name))

	c.JSON(http.StatusOK, gin.H{"kicked": true})
}

// fail logs the underlying error and reports a retryable store failure.
func (s *Server) fail(c *gin.Context, op string, err error) {
	s.log.Error("admin api error",
		zap.String(logger.FieldOperation, op),
		zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry"})
}
