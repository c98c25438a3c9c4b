package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tripbot/internal/bot"
	"tripbot/internal/models"
	"tripbot/internal/trips"
	"tripbot/pkg/logger"
)

func handleApproveReceipt(b *bot.Bot, callback *tgbotapi.CallbackQuery, parts []string) {
	if !requireAdmin(b, callback) || len(parts) < 2 {
		return
	}

	memberID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	_, err = b.Trips.ApproveReceipt(memberID)
	switch {
	case errors.Is(err, trips.ErrMembershipNotFound):
		b.AnswerCallbackQuery(callback.ID, "Membership no longer exists.")
		return
	case err != nil:
		zap.L().Error("approve receipt failed",
			zap.Int64(logger.FieldMemberID, memberID),
			zap.Error(err))
		b.AnswerCallbackQuery(callback.ID, "Store error, try again.")
		return
	}

	b.AnswerCallbackQuery(callback.ID, "Confirmed ✅")
	editReceiptCaption(b, callback, "✅ Receipt verified — seat held at 50% paid. Mark fully paid once the balance arrives.")
}

// handleMarkFullPaid is the separate admin action for the remaining balance;
// the full_paid transition is what sends the member their ticket.
func handleMarkFullPaid(b *bot.Bot, callback *tgbotapi.CallbackQuery, parts []string) {
	if !requireAdmin(b, callback) || len(parts) < 2 {
		return
	}

	memberID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	_, err = b.Trips.AdminSetStatus(memberID, models.FullPaid)
	switch {
	case errors.Is(err, trips.ErrMembershipNotFound):
		b.AnswerCallbackQuery(callback.ID, "Membership no longer exists.")
		return
	case err != nil:
		zap.L().Error("mark full paid failed",
			zap.Int64(logger.FieldMemberID, memberID),
			zap.Error(err))
		b.AnswerCallbackQuery(callback.ID, "Store error, try again.")
		return
	}

	b.AnswerCallbackQuery(callback.ID, "Marked fully paid 💰")
	editReceiptCaption(b, callback, "💰 Fully paid — ticket sent.")
}

func handleDeclineReceipt(b *bot.Bot, callback *tgbotapi.CallbackQuery, parts []string) {
	if !requireAdmin(b, callback) || len(parts) < 2 {
		return
	}

	memberID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	_, err = b.Trips.RejectReceipt(memberID)
	switch {
	case errors.Is(err, trips.ErrMembershipNotFound):
		b.AnswerCallbackQuery(callback.ID, "Membership no longer exists.")
		return
	case err != nil:
		zap.L().Error("decline receipt failed",
			zap.Int64(logger.FieldMemberID, memberID),
			zap.Error(err))
		b.AnswerCallbackQuery(callback.ID, "Store error, try again.")
		return
	}

	b.AnswerCallbackQuery(callback.ID, "Declined ❌")
	editReceiptCaption(b, callback, "❌ Declined — seat released, member notified.")
}

// editReceiptCaption stamps the verdict onto the admin's receipt message so
// other admins see it is handled. Receipt messages are photos, so this edits
// the caption rather than the text.
func editReceiptCaption(b *bot.Bot, callback *tgbotapi.CallbackQuery, verdict string) {
	edit := tgbotapi.NewEditMessageCaption(callback.Message.Chat.ID, callback.Message.MessageID,
		callback.Message.Caption+"\n\n"+verdict)
	if _, err := b.API.Send(edit); err != nil {
		zap.L().Warn("failed to edit receipt caption", zap.Error(err))
	}
}

func requireAdmin(b *bot.Bot, callback *tgbotapi.CallbackQuery) bool {
	if b.IsAdmin(callback.From.ID) {
		return true
	}
	b.AnswerCallbackQuery(callback.ID, "Admins only.")
	return false
}

func HandleStats(b *bot.Bot, message *tgbotapi.Message) {
	if !b.IsAdmin(message.From.ID) {
		return
	}

	activeTrips, err := b.DB.ListActiveTrips()
	if err != nil {
		zap.L().Error("stats: list trips failed", zap.Error(err))
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	if len(activeTrips) == 0 {
		b.SendMessage(message.Chat.ID, "No active trips.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 <b>Trip stats</b>\n")
	for i := range activeTrips {
		trip := &activeTrips[i]

		notPaid, err := b.DB.CountByStatus(trip.ID, models.NotPaid)
		if err != nil {
			zap.L().Error("stats: count failed", zap.Int64(logger.FieldTripID, trip.ID), zap.Error(err))
			continue
		}
		halfPaid, err := b.DB.CountByStatus(trip.ID, models.HalfPaid)
		if err != nil {
			continue
		}
		fullPaid, err := b.DB.CountByStatus(trip.ID, models.FullPaid)
		if err != nil {
			continue
		}

		sb.WriteString(fmt.Sprintf(
			"\n🌍 <b>%s</b>\n🔴 Not paid: <b>%d</b>\n🟡 Half paid: <b>%d</b>\n🟢 Full paid: <b>%d</b>\n",
			trip.Name, notPaid, halfPaid, fullPaid))

		seats, err := b.Trips.Seats(trip)
		if err != nil {
			continue
		}
		if seats.Limited {
			sb.WriteString(fmt.Sprintf("🪑 Seats available: <b>%d</b>\n", seats.Available))
		} else {
			sb.WriteString("🪑 Seats: unlimited\n")
		}
	}

	b.SendMessage(message.Chat.ID, sb.String(), nil)
}

// HandleAdminToken mints a web session token for a configured admin. The
// token is the only way into the admin API; it is never derived from
// anything the web client asserts about itself.
func HandleAdminToken(b *bot.Bot, message *tgbotapi.Message, webURL string) {
	if !b.IsAdmin(message.From.ID) {
		return
	}

	token := b.Sessions.Issue(message.From.ID)
	text := fmt.Sprintf(
		"🔑 <b>Admin API session</b>\n\n"+
			"<code>%s</code>\n\n"+
			"Send it as <code>Authorization: Bearer ...</code>. Valid for 12 hours.",
		token)
	if webURL != "" {
		text += fmt.Sprintf("\n\nAPI base: %s/api", strings.TrimRight(webURL, "/"))
	}

	b.SendMessage(message.Chat.ID, text, nil)
}

// Trip creation dialog: /newtrip walks an admin through name, group, limit,
// price and payment instructions, one message at a time.

func HandleNewTrip(b *bot.Bot, message *tgbotapi.Message) {
	if !b.IsAdmin(message.From.ID) {
		return
	}

	b.SetState(message.From.ID, "awaiting_trip_name", map[string]interface{}{})
	b.SendMessage(message.Chat.ID, "🆕 Creating a trip.\n\nWhat's the trip name?", nil)
}

func handleTripDialogInput(b *bot.Bot, message *tgbotapi.Message, state *models.UserState) {
	if !b.IsAdmin(message.From.ID) {
		b.ClearState(message.From.ID)
		return
	}

	input := strings.TrimSpace(message.Text)

	switch state.State {
	case "awaiting_trip_name":
		if input == "" {
			b.SendMessage(message.Chat.ID, "Please send a trip name:", nil)
			return
		}
		state.TempData["name"] = input
		b.SetState(message.From.ID, "awaiting_trip_group", state.TempData)
		b.SendMessage(message.Chat.ID,
			"Which group hosts this trip? Send the group chat ID (e.g. -1001234567890).", nil)

	case "awaiting_trip_group":
		groupID, err := strconv.ParseInt(input, 10, 64)
		if err != nil || groupID == 0 {
			b.SendMessage(message.Chat.ID, "That doesn't look like a chat ID. Try again:", nil)
			return
		}
		state.TempData["group_id"] = groupID
		b.SetState(message.From.ID, "awaiting_trip_limit", state.TempData)
		b.SendMessage(message.Chat.ID,
			"Seat limit? Send a number, or \"none\" for unlimited.", nil)

	case "awaiting_trip_limit":
		if !strings.EqualFold(input, "none") {
			limit, err := strconv.Atoi(input)
			if err != nil || limit <= 0 {
				b.SendMessage(message.Chat.ID, "Send a positive number or \"none\":", nil)
				return
			}
			state.TempData["limit"] = limit
		}
		b.SetState(message.From.ID, "awaiting_trip_price", state.TempData)
		b.SendMessage(message.Chat.ID, "Price per participant (whole number, smallest currency unit)?", nil)

	case "awaiting_trip_price":
		price, err := strconv.ParseInt(input, 10, 64)
		if err != nil || price < 0 {
			b.SendMessage(message.Chat.ID, "Send a non-negative whole number:", nil)
			return
		}
		state.TempData["price"] = price
		b.SetState(message.From.ID, "awaiting_trip_card", state.TempData)
		b.SendMessage(message.Chat.ID,
			"Payment instructions (card number etc.), or \"skip\":", nil)

	case "awaiting_trip_card":
		cardInfo := input
		if strings.EqualFold(input, "skip") {
			cardInfo = ""
		}
		createTripFromDialog(b, message, state, cardInfo)

	default:
		b.ClearState(message.From.ID)
	}
}

func createTripFromDialog(b *bot.Bot, message *tgbotapi.Message, state *models.UserState, cardInfo string) {
	defer b.ClearState(message.From.ID)

	name := state.TempData["name"].(string)
	groupID := state.TempData["group_id"].(int64)
	price := state.TempData["price"].(int64)

	var limit *int
	if v, ok := state.TempData["limit"]; ok {
		l := v.(int)
		limit = &l
	}

	trip, err := b.DB.CreateTrip(name, groupID, limit, price, cardInfo, "")
	if err != nil {
		zap.L().Error("trip creation failed",
			zap.Int64(logger.FieldGroupID, groupID),
			zap.Error(err))
		b.SendMessage(message.Chat.ID,
			"❌ Couldn't create the trip. The group may already host one.", nil)
		return
	}

	text := fmt.Sprintf("✅ Trip <b>%s</b> created (id %d).", trip.Name, trip.ID)

	participant, guest, err := b.CreateInviteLinks(groupID)
	if err != nil {
		zap.L().Warn("invite link creation failed",
			zap.Int64(logger.FieldTripID, trip.ID),
			zap.Error(err))
		text += "\n\n⚠️ Invite links could not be created — make sure the bot is an admin in the group, then regenerate them from the admin API."
	} else if err := b.DB.SetTripInviteLinks(trip.ID, participant, guest); err != nil {
		zap.L().Error("failed to store invite links",
			zap.Int64(logger.FieldTripID, trip.ID),
			zap.Error(err))
	} else {
		text += fmt.Sprintf("\n\n🔗 Participants: %s\n🔗 Guests: %s", participant, guest)
	}

	b.SendMessage(message.Chat.ID, text, nil)
}
