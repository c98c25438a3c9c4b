package handlers

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tripbot/internal/access"
	"tripbot/internal/bot"
	"tripbot/internal/database"
	"tripbot/internal/models"
	"tripbot/internal/trips"
)

const retryText = "⚠️ Something went wrong on our side. Please try again in a moment."

func HandleStart(b *bot.Bot, message *tgbotapi.Message) {
	_, err := b.DB.GetOrCreateUser(message.From.ID, message.From.FirstName, message.From.LastName)
	if err != nil {
		log.Printf("Error getting/creating user: %v", err)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	b.SendMessage(message.Chat.ID, fmt.Sprintf(
		"👋 Welcome, %s!\n\n"+
			"I handle trip registration and payment here.\n\n"+
			"/trips — see active trips and register\n"+
			"/mystatus — your registrations and payment state\n"+
			"/help — how payment works\n\n"+
			"To pay, just send me a photo or PDF of your payment receipt.",
		message.From.FirstName), nil)

	// Deep links (t.me/<bot>?start=trip_<id>) jump straight to a trip.
	if args := message.CommandArguments(); strings.HasPrefix(args, "trip_") {
		tripID, err := strconv.ParseInt(strings.TrimPrefix(args, "trip_"), 10, 64)
		if err != nil {
			return
		}
		sendTripDetails(b, message.Chat.ID, tripID)
	}
}

func sendTripDetails(b *bot.Bot, chatID, tripID int64) {
	trip, err := b.DB.GetTrip(tripID)
	if err != nil || trip.Status != models.TripActive {
		return
	}

	seats, err := b.Trips.Seats(trip)
	if err != nil {
		log.Printf("Error counting seats: %v", err)
		return
	}

	keyboard := b.ConfirmRegistrationKeyboard(trip.ID)
	b.SendMessage(chatID, tripDetailsText(trip, seats), keyboard)
}

func tripDetailsText(trip *models.Trip, seats trips.Seats) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🌍 <b>%s</b>\n\n💵 <b>Price:</b> %d\n", trip.Name, trip.Price))
	if seats.Limited {
		sb.WriteString(fmt.Sprintf("🪑 <b>Seats available:</b> %d\n", seats.Available))
	}
	if trip.AgreementText != "" {
		sb.WriteString(fmt.Sprintf("\n📜 %s\n", trip.AgreementText))
	}
	sb.WriteString(fmt.Sprintf(
		"\n⚠️ <b>Important:</b> pay at least <b>50%% (%d)</b> to reserve your seat. Registration alone does not hold one.",
		trip.HalfPrice()))
	return sb.String()
}

func HandleTrips(b *bot.Bot, message *tgbotapi.Message) {
	activeTrips, err := b.DB.ListActiveTrips()
	if err != nil {
		log.Printf("Error listing trips: %v", err)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	if len(activeTrips) == 0 {
		b.SendMessage(message.Chat.ID, "There are no active trips right now. Check back later!", nil)
		return
	}

	keyboard := b.TripListKeyboard(activeTrips)
	b.SendMessage(message.Chat.ID, "🌍 <b>Active trips</b>\n\nPick one to see details and register:", keyboard)
}

func HandleMyStatus(b *bot.Bot, message *tgbotapi.Message) {
	user, err := b.DB.GetUserByTelegramID(message.From.ID)
	if err != nil {
		b.SendMessage(message.Chat.ID, "You are not registered yet. Use /start first.", nil)
		return
	}

	statuses, err := b.DB.ListUserTripStatuses(user.ID)
	if err != nil {
		log.Printf("Error listing statuses: %v", err)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	if len(statuses) == 0 {
		b.SendMessage(message.Chat.ID, "You are not registered for any trip. Use /trips to find one.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Your registrations</b>\n\n")
	for _, st := range statuses {
		sb.WriteString(fmt.Sprintf("%s <b>%s</b> — %s\n",
			statusEmoji(st.PaymentStatus), st.TripName, statusText(st.PaymentStatus)))
		if st.PaymentStatus == models.NotPaid {
			sb.WriteString(fmt.Sprintf("   Pay at least %d (50%%) to reserve your seat.\n", st.Price/2))
		}
	}
	b.SendMessage(message.Chat.ID, sb.String(), nil)
}

func HandleHelp(b *bot.Bot, message *tgbotapi.Message) {
	b.SendMessage(message.Chat.ID,
		"ℹ️ <b>How it works</b>\n\n"+
			"1. Pick a trip with /trips and confirm registration.\n"+
			"2. Pay at least 50% of the price to the card in the payment instructions.\n"+
			"3. Send me a photo or PDF of the receipt. That reserves your seat.\n"+
			"4. An admin verifies the receipt; full payment gets you a ticket.\n\n"+
			"Seats are limited on some trips — a seat is only held once your receipt is in.\n\n"+
			"/mystatus shows where you stand. /email links a contact email. /logout deletes your account.", nil)
}

func HandleLogout(b *bot.Bot, message *tgbotapi.Message) {
	user, err := b.DB.GetUserByTelegramID(message.From.ID)
	if err != nil {
		b.SendMessage(message.Chat.ID, "You don't have an account to delete.", nil)
		return
	}

	reserving, err := b.DB.ListReservingMemberships(user.ID)
	if err != nil {
		log.Printf("Error listing reserving memberships: %v", err)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	text := "⚠️ <b>Delete your account?</b>\n\nThis removes your registrations on every trip."
	if len(reserving) > 0 {
		text += fmt.Sprintf("\n\nYou currently hold <b>%d reserved seat(s)</b> — deleting your account releases them.", len(reserving))
	}

	keyboard := b.LogoutConfirmKeyboard()
	b.SendMessage(message.Chat.ID, text, keyboard)
}

// HandleMessage routes non-command private messages: receipts first, then
// any pending dialog state.
func HandleMessage(b *bot.Bot, message *tgbotapi.Message) {
	if fileID := receiptFileID(message); fileID != "" {
		handleReceiptUpload(b, message, fileID)
		return
	}

	state := b.GetState(message.From.ID)
	if state == nil {
		return
	}

	if strings.HasPrefix(state.State, "awaiting_trip_") {
		handleTripDialogInput(b, message, state)
		return
	}
	if state.State == "awaiting_email" {
		handleEmailInput(b, message)
		return
	}
	b.ClearState(message.From.ID)
}

// HandleEmail lets a user link a contact email, which admins see in the
// participant export.
func HandleEmail(b *bot.Bot, message *tgbotapi.Message) {
	if _, err := b.DB.GetUserByTelegramID(message.From.ID); err != nil {
		b.SendMessage(message.Chat.ID, "Use /start first, then link your email.", nil)
		return
	}

	b.SetState(message.From.ID, "awaiting_email", nil)
	b.SendMessage(message.Chat.ID, "📧 Send me the email address you want linked to your account:", nil)
}

func handleEmailInput(b *bot.Bot, message *tgbotapi.Message) {
	input := strings.TrimSpace(message.Text)
	at := strings.Index(input, "@")
	if at < 1 || !strings.Contains(input[at:], ".") {
		b.SendMessage(message.Chat.ID, "That doesn't look like an email address. Try again, or /start over.", nil)
		return
	}

	user, err := b.DB.GetUserByTelegramID(message.From.ID)
	if err != nil {
		b.ClearState(message.From.ID)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	err = b.DB.SetUserEmail(user.ID, input)
	switch {
	case errors.Is(err, database.ErrDuplicate):
		b.SendMessage(message.Chat.ID, "That email is already linked to another account. Send a different one:", nil)
		return
	case err != nil:
		log.Printf("Error setting email: %v", err)
		b.ClearState(message.From.ID)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	b.ClearState(message.From.ID)
	b.SendMessage(message.Chat.ID, fmt.Sprintf("✅ Email <b>%s</b> linked to your account.", input), nil)
}

func receiptFileID(message *tgbotapi.Message) string {
	if len(message.Photo) > 0 {
		// Largest size is last.
		return message.Photo[len(message.Photo)-1].FileID
	}
	if message.Document != nil {
		return message.Document.FileID
	}
	return ""
}

func handleReceiptUpload(b *bot.Bot, message *tgbotapi.Message, fileID string) {
	user, err := b.DB.GetUserByTelegramID(message.From.ID)
	if err != nil {
		b.SendMessage(message.Chat.ID, "Please use /start and register for a trip before sending a receipt.", nil)
		return
	}

	result, err := b.Trips.SubmitReceipt(user.ID, fileID)
	switch {
	case errors.Is(err, trips.ErrNoPendingPayment):
		b.SendMessage(message.Chat.ID,
			"🤔 You have no registration awaiting payment.\n\n"+
				"Register with /trips first, or check /mystatus — your receipt may already be in.", nil)
		return
	case err != nil:
		log.Printf("Error submitting receipt: %v", err)
		b.SendMessage(message.Chat.ID, retryText, nil)
		return
	}

	if result.RolledBack {
		limit := 0
		if result.Trip.Limit != nil {
			limit = *result.Trip.Limit
		}
		b.SendMessage(message.Chat.ID, fmt.Sprintf(
			"😔 <b>Trip just filled up</b>\n\n"+
				"All seats for <b>%s</b> were taken by other participants while your receipt was being processed.\n\n"+
				"📊 <b>Capacity:</b> %d/%d seats taken\n\n"+
				"<b>Please do not pay.</b> If you already transferred money, contact an admin for a refund.",
			result.Trip.Name, limit, limit), nil)
		return
	}

	b.SendMessage(message.Chat.ID, fmt.Sprintf(
		"🟡 <b>Receipt received — seat reserved!</b>\n\n"+
			"Your seat on <b>%s</b> is held while an admin verifies the payment.\n"+
			"You'll hear from me once it's confirmed.",
		result.Trip.Name), nil)

	notifyAdminsOfReceipt(b, message.From, result)
}

func notifyAdminsOfReceipt(b *bot.Bot, from *tgbotapi.User, result *trips.ReceiptResult) {
	caption := fmt.Sprintf(
		"🧾 <b>Receipt uploaded</b>\n\n"+
			"👤 %s %s (id %d)\n"+
			"🌍 %s\n"+
			"💵 Price: %d, minimum 50%%: %d",
		from.FirstName, from.LastName, from.ID,
		result.Trip.Name, result.Trip.Price, result.Trip.HalfPrice())

	keyboard := b.ReceiptReviewKeyboard(result.Membership.ID)
	for _, adminID := range b.AdminIDs {
		photo := tgbotapi.NewPhoto(adminID, tgbotapi.FileID(*result.Membership.ReceiptFileID))
		photo.Caption = caption
		photo.ParseMode = tgbotapi.ModeHTML
		photo.ReplyMarkup = keyboard
		if _, err := b.API.Send(photo); err != nil {
			log.Printf("Error notifying admin %d: %v", adminID, err)
		}
	}
}

// HandleGroupMessage watches trip groups for joins; everything else in a
// group is none of the bot's business.
func HandleGroupMessage(b *bot.Bot, message *tgbotapi.Message) {
	if len(message.NewChatMembers) == 0 {
		return
	}

	joiners := make([]access.Joiner, 0, len(message.NewChatMembers))
	for _, member := range message.NewChatMembers {
		joiners = append(joiners, access.Joiner{
			TelegramID: member.ID,
			FirstName:  member.FirstName,
			IsBot:      member.IsBot,
		})
	}

	b.Enforcer.EvaluateJoins(message.Chat.ID, joiners)
}

// HandleJoinRequest approves guest join requests and opens the allow-list
// grace window so the join-completed event doesn't get the guest kicked.
func HandleJoinRequest(b *bot.Bot, request *tgbotapi.ChatJoinRequest) {
	groupID := request.Chat.ID
	userID := request.From.ID

	if err := b.ApproveJoinRequest(groupID, userID); err != nil {
		log.Printf("Error approving join request in %d for %d: %v", groupID, userID, err)
		return
	}

	b.Allowed.Approve(groupID, userID)
	log.Printf("Approved guest join request in %d for %d", groupID, userID)
}

func HandleCallbackQuery(b *bot.Bot, callback *tgbotapi.CallbackQuery) {
	parts := strings.Split(callback.Data, ":")

	switch parts[0] {
	case "trip":
		handleTripSelection(b, callback, parts)
	case "confirm_reg":
		handleConfirmRegistration(b, callback, parts)
	case "cancel_reg":
		b.AnswerCallbackQuery(callback.ID, "")
		b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID, "Registration cancelled.", nil)
	case "approve":
		handleApproveReceipt(b, callback, parts)
	case "decline":
		handleDeclineReceipt(b, callback, parts)
	case "paid":
		handleMarkFullPaid(b, callback, parts)
	case "confirm_logout":
		handleConfirmLogout(b, callback)
	case "cancel_logout":
		b.AnswerCallbackQuery(callback.ID, "")
		b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID, "Your account is safe. 👍", nil)
	default:
		b.AnswerCallbackQuery(callback.ID, "")
	}
}

func handleTripSelection(b *bot.Bot, callback *tgbotapi.CallbackQuery, parts []string) {
	if len(parts) < 2 {
		return
	}
	tripID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	trip, err := b.DB.GetTrip(tripID)
	if err != nil {
		b.AnswerCallbackQuery(callback.ID, "Trip not found.")
		return
	}

	seats, err := b.Trips.Seats(trip)
	if err != nil {
		log.Printf("Error counting seats: %v", err)
		b.AnswerCallbackQuery(callback.ID, "Try again.")
		return
	}

	keyboard := b.ConfirmRegistrationKeyboard(trip.ID)
	b.AnswerCallbackQuery(callback.ID, "")
	b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID, tripDetailsText(trip, seats), &keyboard)
}

func handleConfirmRegistration(b *bot.Bot, callback *tgbotapi.CallbackQuery, parts []string) {
	if len(parts) < 2 {
		return
	}
	tripID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	user, err := b.DB.GetOrCreateUser(callback.From.ID, callback.From.FirstName, callback.From.LastName)
	if err != nil {
		log.Printf("Error getting/creating user: %v", err)
		b.AnswerCallbackQuery(callback.ID, "Try again.")
		return
	}

	_, err = b.Trips.Register(user.ID, tripID)
	switch {
	case errors.Is(err, trips.ErrAlreadyRegistered):
		b.AnswerCallbackQuery(callback.ID, "You are already registered.")
		b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID,
			"You are already registered for this trip. Check /mystatus.", nil)
		return
	case errors.Is(err, trips.ErrTripFull):
		b.AnswerCallbackQuery(callback.ID, "")
		b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID,
			"😔 This trip is full — every seat is reserved. Contact an admin about a waiting list.", nil)
		return
	case errors.Is(err, trips.ErrTripNotFound):
		b.AnswerCallbackQuery(callback.ID, "Trip is no longer available.")
		return
	case err != nil:
		log.Printf("Error registering: %v", err)
		b.AnswerCallbackQuery(callback.ID, "")
		b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID, retryText, nil)
		return
	}

	trip, err := b.DB.GetTrip(tripID)
	if err != nil {
		log.Printf("Error fetching trip after registration: %v", err)
		b.AnswerCallbackQuery(callback.ID, "")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ <b>Registered for %s!</b>\n\n", trip.Name))
	sb.WriteString(fmt.Sprintf("💵 <b>Price:</b> %d\n💵 <b>Minimum payment (50%%):</b> %d\n", trip.Price, trip.HalfPrice()))
	if trip.CardInfo != "" {
		sb.WriteString(fmt.Sprintf("💳 <b>Pay to:</b> %s\n", trip.CardInfo))
	}
	sb.WriteString("\nSend me a photo or PDF of your receipt to reserve your seat.")

	b.AnswerCallbackQuery(callback.ID, "Registered!")
	b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID, sb.String(), nil)
}

func handleConfirmLogout(b *bot.Bot, callback *tgbotapi.CallbackQuery) {
	user, err := b.DB.GetUserByTelegramID(callback.From.ID)
	if err != nil {
		b.AnswerCallbackQuery(callback.ID, "No account found.")
		return
	}

	err = b.Trips.DeleteAccount(user.ID)
	switch {
	case errors.Is(err, trips.ErrUserNotFound):
		b.AnswerCallbackQuery(callback.ID, "No account found.")
		return
	case err != nil:
		log.Printf("Error deleting account: %v", err)
		b.AnswerCallbackQuery(callback.ID, "")
		b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID, retryText, nil)
		return
	}

	b.AnswerCallbackQuery(callback.ID, "")
	b.EditMessage(callback.Message.Chat.ID, callback.Message.MessageID,
		"🗑 Your account and all registrations have been deleted. Use /start any time to come back.", nil)
}

func statusEmoji(status models.PaymentStatus) string {
	switch status {
	case models.HalfPaid:
		return "🟡"
	case models.FullPaid:
		return "🟢"
	default:
		return "🔴"
	}
}

func statusText(status models.PaymentStatus) string {
	switch status {
	case models.HalfPaid:
		return "50% paid — seat reserved"
	case models.FullPaid:
		return "fully paid"
	default:
		return "not paid — no seat reserved"
	}
}
