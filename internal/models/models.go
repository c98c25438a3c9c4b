package models

import "time"

type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

func (s TripStatus) Valid() bool {
	switch s {
	case TripActive, TripCompleted, TripCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	NotPaid  PaymentStatus = "not_paid"
	HalfPaid PaymentStatus = "half_paid"
	FullPaid PaymentStatus = "full_paid"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case NotPaid, HalfPaid, FullPaid:
		return true
	}
	return false
}

// Reserving reports whether this status occupies a seat against the trip limit.
func (s PaymentStatus) Reserving() bool {
	return s == HalfPaid || s == FullPaid
}

type User struct {
	ID         int64     `db:"id"`
	TelegramID int64     `db:"telegram_id"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	Email      *string   `db:"email"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Trip is a plannable group event. GroupID is the hosting Telegram chat;
// at most one trip exists per group. A nil Limit means unlimited seats.
// Price is in the smallest currency unit.
type Trip struct {
	ID                    int64      `db:"id"`
	Name                  string     `db:"name"`
	GroupID               int64      `db:"group_id"`
	Limit                 *int       `db:"participant_limit"`
	Price                 int64      `db:"price"`
	CardInfo              string     `db:"card_info"`
	AgreementText         string     `db:"agreement_text"`
	ParticipantInviteLink string     `db:"participant_invite_link"`
	GuestInviteLink       string     `db:"guest_invite_link"`
	Status                TripStatus `db:"status"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// HalfPrice is the minimum payment that reserves a seat. Integer floor,
// so an odd price rounds down by one unit.
func (t *Trip) HalfPrice() int64 {
	return t.Price / 2
}

// Membership links a user to a trip. Unique per (user, trip).
// ReceiptFileID is an opaque reference into Telegram's file storage;
// the bot never inspects the file content.
type Membership struct {
	ID            int64         `db:"id"`
	UserID        int64         `db:"user_id"`
	TripID        int64         `db:"trip_id"`
	PaymentStatus PaymentStatus `db:"payment_status"`
	ReceiptFileID *string       `db:"receipt_file_id"`
	JoinedAt      time.Time     `db:"joined_at"`
}

// MemberDetail is a membership joined with its user, as listed on the
// admin surface and in exports.
type MemberDetail struct {
	Membership
	TelegramID int64   `db:"telegram_id"`
	FirstName  string  `db:"first_name"`
	LastName   string  `db:"last_name"`
	Email      *string `db:"email"`
}

// UserTripStatus is one row of the /mystatus view: a user's registration
// joined with the trip's display fields.
type UserTripStatus struct {
	MembershipID  int64         `db:"id"`
	TripID        int64         `db:"trip_id"`
	TripName      string        `db:"name"`
	Price         int64         `db:"price"`
	PaymentStatus PaymentStatus `db:"payment_status"`
	JoinedAt      time.Time     `db:"joined_at"`
}

type UserState struct {
	UserID      int64
	State       string
	TempData    map[string]interface{}
	LastUpdated time.Time
}
