package handlers

import (
	"context"
	"errors"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"house-concierge-bot/internal/models"
	"house-concierge-bot/internal/session"
	"house-concierge-bot/internal/storage"
)

func (h *Handler) HandleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		h.HandleCommand(msg)
		return
	}
	if h.Cfg.IsAdmin(msg.From.ID) {
		h.handleAdminMessage(msg)
		return
	}
	h.handleGuestMessage(msg)
}

func (h *Handler) handleGuestMessage(msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !h.authorized(userID) {
		if h.Cfg.AuthMode == "phone" {
			h.handleContactAuth(msg)
			return
		}
		h.handleCodeEntry(msg)
		return
	}

	switch h.Sessions.Get(userID).State {
	case models.StateConciergeAwaitingMessage, models.StateConciergeAwaitingMore:
		h.relayToAdmins(msg)
	default:
		// plain text outside concierge mode: steer back to the menu
		h.showMainMenu(userID, chatID)
	}
}

// handleCodeEntry treats any message from an unauthorized guest as an access
// code attempt. Invalid input never changes state, the guest is always
// re-prompted.
func (h *Handler) handleCodeEntry(msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	h.Sessions.Update(userID, func(s *session.Session) { s.State = models.StateAwaitingCode })

	text := msg.Text
	if !isNumeric(text) {
		h.send(chatID, "Код должен быть числом. Попробуйте ещё раз.")
		return
	}
	code, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		h.send(chatID, "Код должен быть числом. Попробуйте ещё раз.")
		return
	}

	_, err = h.DB.RedeemCode(context.Background(), code, userID, h.Cfg.AccessDays)
	if errors.Is(err, storage.ErrUnknownCode) {
		h.send(chatID, "Код неверный. Проверьте и введите снова.")
		return
	}
	if err != nil {
		h.Log.Error("code redemption failed", "err", err)
		h.send(chatID, "Что-то пошло не так. Попробуйте ещё раз.")
		return
	}
	h.send(chatID, "Доступ предоставлен!")
	h.showMainMenu(userID, chatID)
}

// handleContactAuth grants access when the guest shares their own contact.
func (h *Handler) handleContactAuth(msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if msg.Contact == nil || msg.Contact.UserID != userID {
		h.promptForContact(chatID)
		return
	}
	if err := h.DB.GrantAccess(context.Background(), userID, h.Cfg.AccessDays); err != nil {
		h.Log.Error("grant access failed", "err", err)
		h.send(chatID, "Что-то пошло не так. Попробуйте ещё раз.")
		return
	}
	h.send(chatID, "Доступ предоставлен!")
	h.showMainMenu(userID, chatID)
}

// relayToAdmins rate-limits and forwards a concierge message to every admin
// with a reply button bound to the sender.
func (h *Handler) relayToAdmins(msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !h.Limiter.Allow(userID) {
		h.send(chatID, "Слишком много сообщений. Пожалуйста, подождите немного.")
		return
	}
	var mediaSize int
	switch {
	case msg.Video != nil:
		mediaSize = msg.Video.FileSize
	case len(msg.Photo) > 0:
		mediaSize = msg.Photo[len(msg.Photo)-1].FileSize
	}
	if int64(mediaSize) > h.Cfg.MaxMediaBytes {
		h.send(chatID, "Файл слишком большой, я не могу его переслать.")
		return
	}

	from := senderLabel(msg.From)
	kb := replyKB(userID)

	var build func(adminID int64) tgbotapi.Chattable
	switch {
	case len(msg.Photo) > 0:
		fileID := msg.Photo[len(msg.Photo)-1].FileID
		caption := "Медиа от " + from
		if msg.Caption != "" {
			caption += ":\n" + msg.Caption
		}
		build = func(adminID int64) tgbotapi.Chattable {
			p := tgbotapi.NewPhoto(adminID, tgbotapi.FileID(fileID))
			p.Caption = caption
			p.ReplyMarkup = kb
			return p
		}
	case msg.Video != nil:
		fileID := msg.Video.FileID
		caption := "Видео от " + from
		if msg.Caption != "" {
			caption += ":\n" + msg.Caption
		}
		build = func(adminID int64) tgbotapi.Chattable {
			v := tgbotapi.NewVideo(adminID, tgbotapi.FileID(fileID))
			v.Caption = caption
			v.ReplyMarkup = kb
			return v
		}
	case msg.Text != "":
		payload := "Сообщение от " + from + ":\n" + msg.Text
		build = func(adminID int64) tgbotapi.Chattable {
			m := tgbotapi.NewMessage(adminID, payload)
			m.ReplyMarkup = kb
			return m
		}
	default:
		h.send(chatID, "Я могу переслать текст, фото или видео.")
		return
	}

	results := h.fanOut(h.Cfg.AdminIDs, build)
	h.Sessions.Update(userID, func(s *session.Session) {
		s.State = models.StateConciergeAwaitingMore
	})
	if delivered(results) == 0 {
		h.send(chatID, "Не удалось отправить сообщение. Попробуйте позже.")
		return
	}
	h.send(chatID, "Спасибо! Ваше сообщение отправлено администратору. Можете дописать ещё или нажать «Готово».")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func senderLabel(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}
