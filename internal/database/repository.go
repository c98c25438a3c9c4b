package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"tripbot/internal/models"
)

// ErrDuplicate is returned when an insert hits a unique constraint
// (same telegram id, same (user, trip) pair, same group id).
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is what single-row queries return when no row matches.
var ErrNotFound = sql.ErrNoRows

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// User operations

func (db *DB) GetOrCreateUser(telegramID int64, firstName, lastName string) (*models.User, error) {
	var user models.User

	err := db.QueryRow(`
		INSERT INTO users (telegram_id, first_name, last_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING id, telegram_id, first_name, last_name, email, created_at, updated_at
	`, telegramID, firstName, lastName).Scan(
		&user.ID, &user.TelegramID, &user.FirstName, &user.LastName,
		&user.Email, &user.CreatedAt, &user.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	return &user, nil
}

func (db *DB) GetUserByTelegramID(telegramID int64) (*models.User, error) {
	var user models.User

	err := db.QueryRow(`
		SELECT id, telegram_id, first_name, last_name, email, created_at, updated_at
		FROM users
		WHERE telegram_id = $1
	`, telegramID).Scan(
		&user.ID, &user.TelegramID, &user.FirstName, &user.LastName,
		&user.Email, &user.CreatedAt, &user.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (db *DB) GetUserByID(userID int64) (*models.User, error) {
	var user models.User

	err := db.QueryRow(`
		SELECT id, telegram_id, first_name, last_name, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID, &user.TelegramID, &user.FirstName, &user.LastName,
		&user.Email, &user.CreatedAt, &user.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (db *DB) SetUserEmail(userID int64, email string) error {
	_, err := db.Exec(`
		UPDATE users
		SET email = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`, email, userID)

	if isUniqueViolation(err) {
		return fmt.Errorf("email %q already linked: %w", email, ErrDuplicate)
	}

	return err
}

// DeleteUser removes a user; memberships cascade at the schema level.
func (db *DB) DeleteUser(userID int64) (bool, error) {
	res, err := db.Exec(`DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Trip operations

const tripColumns = `id, name, group_id, participant_limit, price, card_info,
	agreement_text, participant_invite_link, guest_invite_link, status, created_at, updated_at`

func scanTrip(row *sql.Row) (*models.Trip, error) {
	var trip models.Trip
	err := row.Scan(
		&trip.ID, &trip.Name, &trip.GroupID, &trip.Limit, &trip.Price,
		&trip.CardInfo, &trip.AgreementText, &trip.ParticipantInviteLink,
		&trip.GuestInviteLink, &trip.Status, &trip.CreatedAt, &trip.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (db *DB) CreateTrip(name string, groupID int64, limit *int, price int64, cardInfo, agreementText string) (*models.Trip, error) {
	row := db.QueryRow(`
		INSERT INTO trips (name, group_id, participant_limit, price, card_info, agreement_text)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+tripColumns+`
	`, name, groupID, limit, price, cardInfo, agreementText)

	trip, err := scanTrip(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("group %d already hosts a trip: %w", groupID, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trip: %w", err)
	}

	return trip, nil
}

func (db *DB) GetTrip(tripID int64) (*models.Trip, error) {
	return scanTrip(db.QueryRow(`SELECT `+tripColumns+` FROM trips WHERE id = $1`, tripID))
}

func (db *DB) GetTripByGroupID(groupID int64) (*models.Trip, error) {
	return scanTrip(db.QueryRow(`SELECT `+tripColumns+` FROM trips WHERE group_id = $1`, groupID))
}

func (db *DB) ListActiveTrips() ([]models.Trip, error) {
	rows, err := db.Query(`
		SELECT ` + tripColumns + `
		FROM trips
		WHERE status = 'active'
		ORDER BY created_at DESC
	`)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		var trip models.Trip
		err := rows.Scan(
			&trip.ID, &trip.Name, &trip.GroupID, &trip.Limit, &trip.Price,
			&trip.CardInfo, &trip.AgreementText, &trip.ParticipantInviteLink,
			&trip.GuestInviteLink, &trip.Status, &trip.CreatedAt, &trip.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

func (db *DB) UpdateTrip(tripID int64, name string, limit *int, price int64, cardInfo, agreementText string) error {
	_, err := db.Exec(`
		UPDATE trips
		SET name = $1,
		    participant_limit = $2,
		    price = $3,
		    card_info = $4,
		    agreement_text = $5,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $6
	`, name, limit, price, cardInfo, agreementText, tripID)

	return err
}

func (db *DB) SetTripStatus(tripID int64, status models.TripStatus) error {
	_, err := db.Exec(`
		UPDATE trips
		SET status = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`, status, tripID)

	return err
}

func (db *DB) SetTripInviteLinks(tripID int64, participantLink, guestLink string) error {
	_, err := db.Exec(`
		UPDATE trips
		SET participant_invite_link = $1,
		    guest_invite_link = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`, participantLink, guestLink, tripID)

	return err
}

// DeleteTrip removes a trip; memberships cascade at the schema level.
func (db *DB) DeleteTrip(tripID int64) (bool, error) {
	res, err := db.Exec(`DELETE FROM trips WHERE id = $1`, tripID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Membership operations

const membershipColumns = `id, user_id, trip_id, payment_status, receipt_file_id, joined_at`

func (db *DB) CreateMembership(userID, tripID int64) (*models.Membership, error) {
	var m models.Membership

	err := db.QueryRow(`
		INSERT INTO trip_members (user_id, trip_id, payment_status)
		VALUES ($1, $2, 'not_paid')
		RETURNING `+membershipColumns+`
	`, userID, tripID).Scan(
		&m.ID, &m.UserID, &m.TripID, &m.PaymentStatus, &m.ReceiptFileID, &m.JoinedAt,
	)

	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %d already registered for trip %d: %w", userID, tripID, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	return &m, nil
}

func (db *DB) GetMembership(userID, tripID int64) (*models.Membership, error) {
	var m models.Membership

	err := db.QueryRow(`
		SELECT `+membershipColumns+`
		FROM trip_members
		WHERE user_id = $1 AND trip_id = $2
	`, userID, tripID).Scan(
		&m.ID, &m.UserID, &m.TripID, &m.PaymentStatus, &m.ReceiptFileID, &m.JoinedAt,
	)

	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (db *DB) GetMembershipByID(memberID int64) (*models.Membership, error) {
	var m models.Membership

	err := db.QueryRow(`
		SELECT `+membershipColumns+`
		FROM trip_members
		WHERE id = $1
	`, memberID).Scan(
		&m.ID, &m.UserID, &m.TripID, &m.PaymentStatus, &m.ReceiptFileID, &m.JoinedAt,
	)

	if err != nil {
		return nil, err
	}

	return &m, nil
}

// AttachReceipt moves the user's most recent not_paid membership to half_paid
// and stores the receipt reference, in one statement. The row filter doubles
// as the precondition: zero rows updated means there was no pending payment.
func (db *DB) AttachReceipt(userID int64, fileID string) (*models.Membership, error) {
	var m models.Membership

	err := db.QueryRow(`
		UPDATE trip_members
		SET payment_status = 'half_paid',
		    receipt_file_id = $2
		WHERE id = (
			SELECT id FROM trip_members
			WHERE user_id = $1 AND payment_status = 'not_paid'
			ORDER BY joined_at DESC
			LIMIT 1
		)
		RETURNING `+membershipColumns+`
	`, userID, fileID).Scan(
		&m.ID, &m.UserID, &m.TripID, &m.PaymentStatus, &m.ReceiptFileID, &m.JoinedAt,
	)

	if err != nil {
		return nil, err
	}

	return &m, nil
}

// SetMembershipStatus sets the payment status directly. When the target is
// not_paid the receipt reference is cleared in the same statement.
func (db *DB) SetMembershipStatus(memberID int64, status models.PaymentStatus) (*models.Membership, error) {
	var m models.Membership

	err := db.QueryRow(`
		UPDATE trip_members
		SET payment_status = $2,
		    receipt_file_id = CASE WHEN $2 = 'not_paid' THEN NULL ELSE receipt_file_id END
		WHERE id = $1
		RETURNING `+membershipColumns+`
	`, memberID, status).Scan(
		&m.ID, &m.UserID, &m.TripID, &m.PaymentStatus, &m.ReceiptFileID, &m.JoinedAt,
	)

	if err != nil {
		return nil, err
	}

	return &m, nil
}

// ReconcileCapacity verifies a just-committed optimistic reservation
// against the trip limit. It locks the trip row so concurrent
// reconciliations for the same trip run one at a time: the first over-limit
// reconciler rolls its own membership back, later ones see a consistent
// count. Returns whether the membership was rolled back and the reserved
// count after reconciliation.
func (db *DB) ReconcileCapacity(memberID, tripID int64, limit int) (bool, int, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin reconciliation: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.QueryRow(`SELECT id FROM trips WHERE id = $1 FOR UPDATE`, tripID).Scan(&locked); err != nil {
		return false, 0, fmt.Errorf("failed to lock trip: %w", err)
	}

	var reserved int
	err = tx.QueryRow(`
		SELECT COUNT(*)
		FROM trip_members
		WHERE trip_id = $1 AND payment_status IN ('half_paid', 'full_paid')
	`, tripID).Scan(&reserved)
	if err != nil {
		return false, 0, fmt.Errorf("failed to count reserved: %w", err)
	}

	rolledBack := false
	if reserved > limit {
		_, err = tx.Exec(`
			UPDATE trip_members
			SET payment_status = 'not_paid',
			    receipt_file_id = NULL
			WHERE id = $1
		`, memberID)
		if err != nil {
			return false, 0, fmt.Errorf("failed to roll back reservation: %w", err)
		}
		rolledBack = true
		reserved--
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	return rolledBack, reserved, nil
}

// CountReserved reports how many memberships currently occupy a seat
// (half_paid or full_paid) for the given trip.
func (db *DB) CountReserved(tripID int64) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM trip_members
		WHERE trip_id = $1 AND payment_status IN ('half_paid', 'full_paid')
	`, tripID).Scan(&count)

	return count, err
}

func (db *DB) CountByStatus(tripID int64, status models.PaymentStatus) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM trip_members
		WHERE trip_id = $1 AND payment_status = $2
	`, tripID, status).Scan(&count)

	return count, err
}

func (db *DB) listMemberDetails(query string, args ...interface{}) ([]models.MemberDetail, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.MemberDetail
	for rows.Next() {
		var md models.MemberDetail
		err := rows.Scan(
			&md.ID, &md.UserID, &md.TripID, &md.PaymentStatus, &md.ReceiptFileID,
			&md.JoinedAt, &md.TelegramID, &md.FirstName, &md.LastName, &md.Email,
		)
		if err != nil {
			return nil, err
		}
		members = append(members, md)
	}

	return members, rows.Err()
}

func (db *DB) ListMembers(tripID int64) ([]models.MemberDetail, error) {
	return db.listMemberDetails(`
		SELECT tm.id, tm.user_id, tm.trip_id, tm.payment_status, tm.receipt_file_id,
		       tm.joined_at, u.telegram_id, u.first_name, u.last_name, u.email
		FROM trip_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.trip_id = $1
		ORDER BY tm.joined_at
	`, tripID)
}

func (db *DB) ListMembersByStatus(tripID int64, status models.PaymentStatus) ([]models.MemberDetail, error) {
	return db.listMemberDetails(`
		SELECT tm.id, tm.user_id, tm.trip_id, tm.payment_status, tm.receipt_file_id,
		       tm.joined_at, u.telegram_id, u.first_name, u.last_name, u.email
		FROM trip_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.trip_id = $1 AND tm.payment_status = $2
		ORDER BY tm.joined_at
	`, tripID, status)
}

// ListReservingMemberships returns the trips where the user currently holds
// a seat, used to warn before account deletion.
func (db *DB) ListReservingMemberships(userID int64) ([]models.MemberDetail, error) {
	return db.listMemberDetails(`
		SELECT tm.id, tm.user_id, tm.trip_id, tm.payment_status, tm.receipt_file_id,
		       tm.joined_at, u.telegram_id, u.first_name, u.last_name, u.email
		FROM trip_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.user_id = $1 AND tm.payment_status IN ('half_paid', 'full_paid')
		ORDER BY tm.joined_at
	`, userID)
}

func (db *DB) ListUserTripStatuses(userID int64) ([]models.UserTripStatus, error) {
	rows, err := db.Query(`
		SELECT tm.id, tm.trip_id, t.name, t.price, tm.payment_status, tm.joined_at
		FROM trip_members tm
		JOIN trips t ON t.id = tm.trip_id
		WHERE tm.user_id = $1
		ORDER BY tm.joined_at DESC
	`, userID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []models.UserTripStatus
	for rows.Next() {
		var st models.UserTripStatus
		err := rows.Scan(
			&st.MembershipID, &st.TripID, &st.TripName,
			&st.Price, &st.PaymentStatus, &st.JoinedAt,
		)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}

	return statuses, rows.Err()
}

// GetGroupMembership resolves a joining telegram identity against the trip
// hosted by a group, for access enforcement.
func (db *DB) GetGroupMembership(groupID, telegramID int64) (*models.Membership, error) {
	var m models.Membership

	err := db.QueryRow(`
		SELECT tm.id, tm.user_id, tm.trip_id, tm.payment_status, tm.receipt_file_id, tm.joined_at
		FROM trip_members tm
		JOIN users u ON u.id = tm.user_id
		JOIN trips t ON t.id = tm.trip_id
		WHERE t.group_id = $1 AND u.telegram_id = $2
	`, groupID, telegramID).Scan(
		&m.ID, &m.UserID, &m.TripID, &m.PaymentStatus, &m.ReceiptFileID, &m.JoinedAt,
	)

	if err != nil {
		return nil, err
	}

	return &m, nil
}
