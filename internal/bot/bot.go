package bot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tripbot/internal/access"
	"tripbot/internal/allowlist"
	"tripbot/internal/database"
	"tripbot/internal/models"
	"tripbot/internal/notify"
	"tripbot/internal/trips"
	"tripbot/internal/web"
)

// Outbound calls share one bounded timeout so a slow Telegram API can never
// hold a state transition hostage.
const apiTimeout = 10 * time.Second

type Bot struct {
	API      *tgbotapi.BotAPI
	DB       *database.DB
	Trips    *trips.Service
	Enforcer *access.Enforcer
	Allowed  *allowlist.List
	Notifier *notify.Dispatcher
	Sessions *web.Sessions
	AdminIDs []int64

	States      map[int64]*models.UserState
	StatesMutex sync.RWMutex
}

func New(token string, db *database.DB, adminIDs []int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: apiTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		API:      api,
		DB:       db,
		AdminIDs: adminIDs,
		States:   make(map[int64]*models.UserState),
	}, nil
}

func (b *Bot) SetState(userID int64, state string, data map[string]interface{}) {
	b.StatesMutex.Lock()
	defer b.StatesMutex.Unlock()

	b.States[userID] = &models.UserState{
		UserID:   userID,
		State:    state,
		TempData: data,
	}
}

func (b *Bot) GetState(userID int64) *models.UserState {
	b.StatesMutex.RLock()
	defer b.StatesMutex.RUnlock()

	return b.States[userID]
}

func (b *Bot) ClearState(userID int64) {
	b.StatesMutex.Lock()
	defer b.StatesMutex.Unlock()

	delete(b.States, userID)
}

func (b *Bot) IsAdmin(userID int64) bool {
	for _, id := range b.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) SendMessage(chatID int64, text string, replyMarkup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if replyMarkup != nil {
		msg.ReplyMarkup = replyMarkup
	}

	_, err := b.API.Send(msg)
	return err
}

// SendHTML satisfies notify.Sender.
func (b *Bot) SendHTML(chatID int64, text string) error {
	return b.SendMessage(chatID, text, nil)
}

// SendPhoto satisfies notify.Sender; png is sent as an uploaded photo.
func (b *Bot) SendPhoto(chatID int64, caption string, png []byte) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "ticket.png", Bytes: png})
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML

	_, err := b.API.Send(photo)
	return err
}

func (b *Bot) EditMessage(chatID int64, messageID int, text string, replyMarkup interface{}) error {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if replyMarkup != nil {
		if markup, ok := replyMarkup.(*tgbotapi.InlineKeyboardMarkup); ok {
			msg.ReplyMarkup = markup
		}
	}

	_, err := b.API.Send(msg)
	return err
}

func (b *Bot) AnswerCallbackQuery(callbackID string, text string) error {
	callback := tgbotapi.NewCallback(callbackID, text)
	_, err := b.API.Request(callback)
	return err
}

// BanChatMember satisfies access.Banner.
func (b *Bot) BanChatMember(groupID, telegramID int64) error {
	_, err := b.API.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: groupID, UserID: telegramID},
	})
	return err
}

// UnbanChatMember satisfies access.Banner. OnlyIfBanned keeps this a no-op
// when the user was never banned.
func (b *Bot) UnbanChatMember(groupID, telegramID int64) error {
	_, err := b.API.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: groupID, UserID: telegramID},
		OnlyIfBanned:     true,
	})
	return err
}

// ApproveJoinRequest accepts a pending join request for the group.
func (b *Bot) ApproveJoinRequest(groupID, telegramID int64) error {
	_, err := b.API.Request(tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: groupID},
		UserID:     telegramID,
	})
	return err
}

// CreateInviteLinks makes a fresh pair of invite links for the group: a
// direct one for paid participants and a join-request one for guests, whose
// approvals flow through the allow-list grace window.
func (b *Bot) CreateInviteLinks(groupID int64) (participant, guest string, err error) {
	participant, err = b.createInviteLink(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: groupID},
		Name:       "participants",
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create participant link: %w", err)
	}

	guest, err = b.createInviteLink(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:         tgbotapi.ChatConfig{ChatID: groupID},
		Name:               "guests",
		CreatesJoinRequest: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create guest link: %w", err)
	}

	return participant, guest, nil
}

func (b *Bot) createInviteLink(cfg tgbotapi.CreateChatInviteLinkConfig) (string, error) {
	resp, err := b.API.Request(cfg)
	if err != nil {
		return "", err
	}

	var link struct {
		InviteLink string `json:"invite_link"`
	}
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("failed to decode invite link: %w", err)
	}

	return link.InviteLink, nil
}

// Keyboard builders

func (b *Bot) TripListKeyboard(activeTrips []models.Trip) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, trip := range activeTrips {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🌍 "+trip.Name, fmt.Sprintf("trip:%d", trip.ID)),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) ConfirmRegistrationKeyboard(tripID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ I agree, register me", fmt.Sprintf("confirm_reg:%d", tripID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel_reg"),
		),
	)
}

func (b *Bot) ReceiptReviewKeyboard(memberID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm 50%", fmt.Sprintf("approve:%d", memberID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Decline", fmt.Sprintf("decline:%d", memberID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💰 Full payment received", fmt.Sprintf("paid:%d", memberID)),
		),
	)
}

func (b *Bot) LogoutConfirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Yes, delete my account", "confirm_logout"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("↩️ Keep my account", "cancel_logout"),
		),
	)
}
