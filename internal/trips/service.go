// Package trips implements the membership state machine: how a (user, trip)
// registration moves between payment states, how seats are counted against
// the trip limit under concurrent writes, and which notification and
// group-access side effects each transition fires.
package trips

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tripbot/internal/database"
	"tripbot/internal/models"
	"tripbot/pkg/logger"
)

// Store is the persistence surface of the state machine. *database.DB
// implements it; tests substitute a mock.
type Store interface {
	GetTrip(tripID int64) (*models.Trip, error)
	GetTripByGroupID(groupID int64) (*models.Trip, error)
	CreateMembership(userID, tripID int64) (*models.Membership, error)
	GetMembership(userID, tripID int64) (*models.Membership, error)
	GetMembershipByID(memberID int64) (*models.Membership, error)
	AttachReceipt(userID int64, fileID string) (*models.Membership, error)
	SetMembershipStatus(memberID int64, status models.PaymentStatus) (*models.Membership, error)
	ReconcileCapacity(memberID, tripID int64, limit int) (rolledBack bool, reserved int, err error)
	CountReserved(tripID int64) (int, error)
	ListMembersByStatus(tripID int64, status models.PaymentStatus) ([]models.MemberDetail, error)
	GetUserByID(userID int64) (*models.User, error)
	DeleteUser(userID int64) (bool, error)
}

// Notifier delivers best-effort messages; implementations never return
// errors to the state machine.
type Notifier interface {
	Notify(chatID int64, text string)
	Broadcast(chatIDs []int64, text string)
	SendTicket(chatID int64, caption, payload string)
}

// AccessRevoker removes a user from a trip's group. Best-effort.
type AccessRevoker interface {
	Revoke(groupID, telegramID int64)
}

type Service struct {
	store    Store
	notifier Notifier
	revoker  AccessRevoker
	log      *zap.Logger
}

func NewService(store Store, notifier Notifier, revoker AccessRevoker, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		revoker:  revoker,
		log:      log,
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// Seats is a point-in-time capacity reading for one trip.
type Seats struct {
	Reserved  int
	Available int
	Limited   bool
}

// Seats counts reserved seats (half_paid + full_paid) for the trip.
// Read-only; safe to call before and after a tentative state change.
func (s *Service) Seats(trip *models.Trip) (Seats, error) {
	reserved, err := s.store.CountReserved(trip.ID)
	if err != nil {
		return Seats{}, storeErr("count reserved", err)
	}

	seats := Seats{Reserved: reserved}
	if trip.Limit != nil {
		seats.Limited = true
		seats.Available = *trip.Limit - reserved
		if seats.Available < 0 {
			seats.Available = 0
		}
	}
	return seats, nil
}

// Register creates a not_paid membership for the user on an active trip.
// Registration itself does not reserve a seat, but a trip with no seats
// left refuses new registrations outright.
func (s *Service) Register(userID, tripID int64) (*models.Membership, error) {
	trip, err := s.store.GetTrip(tripID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, storeErr("get trip", err)
	}
	if trip.Status != models.TripActive {
		return nil, ErrTripNotFound
	}

	if trip.Limit != nil {
		seats, err := s.Seats(trip)
		if err != nil {
			return nil, err
		}
		if seats.Available == 0 {
			return nil, ErrTripFull
		}
	}

	m, err := s.store.CreateMembership(userID, tripID)
	if errors.Is(err, database.ErrDuplicate) {
		return nil, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, storeErr("create membership", err)
	}

	s.log.Info("membership created",
		zap.Int64(logger.FieldUserID, userID),
		zap.Int64(logger.FieldTripID, tripID))

	return m, nil
}

// ReceiptResult is the outcome of a receipt submission. RolledBack means
// the optimistic reservation lost the race for the last seat and was
// compensated back to not_paid; the system state is consistent either way.
type ReceiptResult struct {
	Membership *models.Membership
	Trip       *models.Trip
	RolledBack bool
	Filled     bool
}

// SubmitReceipt attaches a payment proof and optimistically moves the
// membership to half_paid, then re-counts the trip's reserved seats. If the
// count now exceeds the limit the write is undone (receipt cleared, status
// back to not_paid). If the count exactly reaches the limit, the remaining
// not_paid members are told the trip is full.
//
// The optimistic-write-then-reconcile shape avoids holding a lock on the
// seat counter across I/O; two submissions racing for the last seat may
// both commit, and the later reconciliation rolls one back.
func (s *Service) SubmitReceipt(userID int64, fileID string) (*ReceiptResult, error) {
	m, err := s.store.AttachReceipt(userID, fileID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNoPendingPayment
	}
	if err != nil {
		return nil, storeErr("attach receipt", err)
	}

	trip, err := s.store.GetTrip(m.TripID)
	if err != nil {
		return nil, storeErr("get trip", err)
	}

	result := &ReceiptResult{Membership: m, Trip: trip}
	if trip.Limit == nil {
		return result, nil
	}

	rolledBack, reserved, err := s.store.ReconcileCapacity(m.ID, trip.ID, *trip.Limit)
	if err != nil {
		return nil, storeErr("reconcile capacity", err)
	}

	if rolledBack {
		// Lost the race for the last seat: the reservation was compensated
		// back to not_paid with the receipt cleared.
		s.log.Info("reservation rolled back, trip full",
			zap.Int64(logger.FieldTripID, trip.ID),
			zap.Int64(logger.FieldMemberID, m.ID),
			zap.Int("reserved", reserved))
		reverted, err := s.store.GetMembershipByID(m.ID)
		if err != nil {
			return nil, storeErr("get membership", err)
		}
		result.Membership = reverted
		result.RolledBack = true
		return result, nil
	}

	if reserved == *trip.Limit {
		result.Filled = true
		s.broadcastFull(trip, reserved)
	}

	return result, nil
}

// AdminSetStatus sets a membership's payment status directly. Setting
// not_paid clears the receipt and always revokes the user's group access,
// whatever the previous status was; a transition out of not_paid into
// half_paid shares the group invite link; a transition into full_paid sends
// a confirmation ticket; any transition that fills the last seat notifies
// the remaining not_paid members.
func (s *Service) AdminSetStatus(memberID int64, status models.PaymentStatus) (*models.Membership, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid payment status %q", status)
	}

	prev, err := s.store.GetMembershipByID(memberID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, storeErr("get membership", err)
	}

	m, err := s.store.SetMembershipStatus(memberID, status)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, storeErr("set membership status", err)
	}

	s.log.Info("membership status set",
		zap.Int64(logger.FieldMemberID, memberID),
		zap.String("from", string(prev.PaymentStatus)),
		zap.String("to", string(status)))

	trip, err := s.store.GetTrip(m.TripID)
	if err != nil {
		return m, storeErr("get trip", err)
	}
	user, err := s.store.GetUserByID(m.UserID)
	if err != nil {
		return m, storeErr("get user", err)
	}

	switch {
	case status == models.NotPaid:
		// A not_paid target always removes group access, even when the
		// membership was not_paid already; this is how an admin ejects a
		// lingering unpaid member through a status write.
		s.revoker.Revoke(trip.GroupID, user.TelegramID)
		if prev.PaymentStatus != models.NotPaid {
			s.notifier.Notify(user.TelegramID, fmt.Sprintf(
				"❌ Your payment for <b>%s</b> was declined.\n\n"+
					"Your seat reservation has been released. Upload a new receipt to reserve again, or contact an admin if you think this is a mistake.",
				trip.Name))
		}

	case status == models.HalfPaid && prev.PaymentStatus == models.NotPaid:
		s.notifier.Notify(user.TelegramID, halfPaidConfirmationText(trip))

	case status == models.FullPaid && prev.PaymentStatus != models.FullPaid:
		payload := trip.ParticipantInviteLink
		if payload == "" {
			payload = fmt.Sprintf("tripbot:member:%d", m.ID)
		}
		s.notifier.SendTicket(user.TelegramID, fmt.Sprintf(
			"🎉 Payment confirmed!\n\nYou are fully paid for <b>%s</b>. Keep this ticket handy.",
			trip.Name), payload)
	}

	if status.Reserving() && !prev.PaymentStatus.Reserving() && trip.Limit != nil {
		seats, err := s.Seats(trip)
		if err != nil {
			return m, err
		}
		if seats.Reserved >= *trip.Limit {
			s.broadcastFull(trip, seats.Reserved)
		}
	}

	return m, nil
}

// RejectReceipt is the admin declining an uploaded receipt; it is exactly
// AdminSetStatus → not_paid.
func (s *Service) RejectReceipt(memberID int64) (*models.Membership, error) {
	return s.AdminSetStatus(memberID, models.NotPaid)
}

// ApproveReceipt confirms an uploaded receipt. The membership stays at
// half_paid: the seat was already held by the upload, and the remaining
// balance is still owed. The member gets the participant invite link and a
// reminder about the balance; full_paid is a separate admin action once the
// rest of the payment arrives.
func (s *Service) ApproveReceipt(memberID int64) (*models.Membership, error) {
	m, err := s.store.GetMembershipByID(memberID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, storeErr("get membership", err)
	}

	trip, err := s.store.GetTrip(m.TripID)
	if err != nil {
		return m, storeErr("get trip", err)
	}
	user, err := s.store.GetUserByID(m.UserID)
	if err != nil {
		return m, storeErr("get user", err)
	}

	s.log.Info("receipt confirmed",
		zap.Int64(logger.FieldMemberID, memberID),
		zap.Int64(logger.FieldTripID, trip.ID))

	s.notifier.Notify(user.TelegramID, halfPaidConfirmationText(trip))
	return m, nil
}

// halfPaidConfirmationText is the message for a verified 50% payment: the
// seat is confirmed, the group link is shared, the balance is still owed.
func halfPaidConfirmationText(trip *models.Trip) string {
	text := fmt.Sprintf(
		"✅ <b>Payment verified!</b>\n\nYour seat on <b>%s</b> is confirmed.", trip.Name)
	if trip.ParticipantInviteLink != "" {
		text += fmt.Sprintf("\n\n🔗 Join the trip group: %s", trip.ParticipantInviteLink)
	}
	text += fmt.Sprintf(
		"\n\n💵 Remember to complete the remaining 50%% (%d) before departure.",
		trip.Price-trip.HalfPrice())
	return text
}

// DeleteAccount removes the user and, through cascade, every membership.
func (s *Service) DeleteAccount(userID int64) error {
	deleted, err := s.store.DeleteUser(userID)
	if err != nil {
		return storeErr("delete user", err)
	}
	if !deleted {
		return ErrUserNotFound
	}

	s.log.Info("account deleted", zap.Int64(logger.FieldUserID, userID))
	return nil
}

// broadcastFull tells every remaining not_paid member the trip has no seats
// left. Best-effort by construction of the Notifier.
func (s *Service) broadcastFull(trip *models.Trip, reserved int) {
	waiting, err := s.store.ListMembersByStatus(trip.ID, models.NotPaid)
	if err != nil {
		s.log.Warn("capacity-full broadcast skipped",
			zap.Int64(logger.FieldTripID, trip.ID),
			zap.Error(err))
		return
	}
	if len(waiting) == 0 {
		return
	}

	chatIDs := make([]int64, 0, len(waiting))
	for _, md := range waiting {
		chatIDs = append(chatIDs, md.TelegramID)
	}

	limit := reserved
	if trip.Limit != nil {
		limit = *trip.Limit
	}
	s.notifier.Broadcast(chatIDs, fmt.Sprintf(
		"😔 <b>Trip Full</b>\n\n"+
			"All seats for <b>%s</b> have been filled.\n\n"+
			"📊 <b>Capacity:</b> %d/%d seats taken\n\n"+
			"Please do not make a payment. Contact an admin if you want to be put on a waiting list.",
		trip.Name, reserved, limit))
}
