// Package access keeps a trip's Telegram group aligned with payment state:
// joiners without a reserved seat are removed unless the allow-list grants
// them a grace window, and admin-driven payment resets revoke group access.
package access

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tripbot/internal/allowlist"
	"tripbot/internal/models"
	"tripbot/pkg/logger"
)

// Banner mutates Telegram group membership. The bot package implements it.
type Banner interface {
	BanChatMember(groupID, telegramID int64) error
	UnbanChatMember(groupID, telegramID int64) error
}

type Store interface {
	GetTripByGroupID(groupID int64) (*models.Trip, error)
	GetGroupMembership(groupID, telegramID int64) (*models.Membership, error)
}

type Notifier interface {
	Notify(chatID int64, text string)
}

// Joiner is a normalized new-chat-member event.
type Joiner struct {
	TelegramID int64
	FirstName  string
	IsBot      bool
}

type Enforcer struct {
	store    Store
	banner   Banner
	allowed  *allowlist.List
	notifier Notifier
	log      *zap.Logger
}

func NewEnforcer(store Store, banner Banner, allowed *allowlist.List, notifier Notifier, log *zap.Logger) *Enforcer {
	return &Enforcer{
		store:    store,
		banner:   banner,
		allowed:  allowed,
		notifier: notifier,
		log:      log,
	}
}

// EvaluateJoins checks every joiner against the payment state of the trip
// hosted by the group. Non-participants are removed unless covered by an
// unexpired allow-list entry. Removal failures are logged and swallowed.
func (e *Enforcer) EvaluateJoins(groupID int64, joiners []Joiner) {
	trip, err := e.store.GetTripByGroupID(groupID)
	if errors.Is(err, sql.ErrNoRows) {
		// Not a trip group, nothing to enforce.
		return
	}
	if err != nil {
		e.log.Error("join evaluation aborted",
			zap.Int64(logger.FieldGroupID, groupID),
			zap.Error(err))
		return
	}

	e.allowed.Sweep()

	for _, joiner := range joiners {
		if joiner.IsBot {
			continue
		}
		if e.allowed.Consult(groupID, joiner.TelegramID) {
			e.log.Info("join allowed by grace window",
				zap.Int64(logger.FieldGroupID, groupID),
				zap.Int64(logger.FieldUserID, joiner.TelegramID))
			continue
		}
		if e.hasSeat(groupID, joiner.TelegramID) {
			continue
		}

		if !e.Remove(groupID, joiner.TelegramID) {
			continue
		}
		e.notifier.Notify(joiner.TelegramID, fmt.Sprintf(
			"🚫 You were removed from <b>%s</b> because you don't have a reserved seat.\n\n"+
				"Reserve your seat by paying at least 50%% of the trip price, then rejoin via the invite link.",
			trip.Name))
	}
}

func (e *Enforcer) hasSeat(groupID, telegramID int64) bool {
	m, err := e.store.GetGroupMembership(groupID, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		// On store trouble err on the side of not kicking anyone.
		e.log.Error("membership lookup failed",
			zap.Int64(logger.FieldGroupID, groupID),
			zap.Int64(logger.FieldUserID, telegramID),
			zap.Error(err))
		return true
	}
	return m.PaymentStatus.Reserving()
}

// Remove kicks the user with a ban/unban pair so a valid future invite can
// bring them back. Best-effort; returns whether the ban went through.
func (e *Enforcer) Remove(groupID, telegramID int64) bool {
	if err := e.banner.BanChatMember(groupID, telegramID); err != nil {
		e.log.Warn("ban failed",
			zap.Int64(logger.FieldGroupID, groupID),
			zap.Int64(logger.FieldUserID, telegramID),
			zap.Error(err))
		return false
	}
	if err := e.banner.UnbanChatMember(groupID, telegramID); err != nil {
		e.log.Warn("unban failed",
			zap.Int64(logger.FieldGroupID, groupID),
			zap.Int64(logger.FieldUserID, telegramID),
			zap.Error(err))
	}
	return true
}

// Revoke proactively removes a user whose membership dropped back to
// not_paid, independent of any join event.
func (e *Enforcer) Revoke(groupID, telegramID int64) {
	e.log.Info("revoking group access",
		zap.Int64(logger.FieldGroupID, groupID),
		zap.Int64(logger.FieldUserID, telegramID))
	e.Remove(groupID, telegramID)
}
