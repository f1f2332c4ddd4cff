package handlers

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"house-concierge-bot/internal/content"
	"house-concierge-bot/internal/models"
	"house-concierge-bot/internal/session"
)

func (h *Handler) HandleCallback(cq *tgbotapi.CallbackQuery) {
	// always answer to remove the client's loading spinner
	_, _ = h.Bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if cq.Message == nil {
		return
	}
	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	intent := ParseIntent(cq.Data)

	switch intent.Kind {
	case IntentAdminList, IntentAdminReply, IntentMailingConfirm, IntentMailingCancel:
		h.handleAdminIntent(userID, chatID, intent)
		return
	}

	// Guests never get past code entry without access.
	if !h.Cfg.IsAdmin(userID) && !h.authorized(userID) {
		h.promptForCode(userID, chatID)
		return
	}

	switch intent.Kind {
	case IntentBackMain, IntentConciergeDone:
		h.showMainMenu(userID, chatID)

	case IntentConcierge:
		house := h.Repo.LoadHouse(h.Cfg.HouseID)
		text := "Напишите ваш вопрос. Я перешлю администратору."
		if house != nil && house.ConciergeText != "" {
			text = house.ConciergeText
		}
		h.Sessions.Update(userID, func(s *session.Session) {
			s.State = models.StateConciergeAwaitingMessage
		})
		kb := conciergeKB()
		h.sendMarkdown(chatID, text+"\n\nОтправьте ваш вопрос одним сообщением.", &kb)

	case IntentSection:
		h.renderSection(userID, chatID, sectionPaths[intent.Slug])

	case IntentGuides:
		guides := h.Repo.ListGuides(h.Cfg.HouseID)
		h.Sessions.Update(userID, func(s *session.Session) { s.State = models.StateGuidesMenu })
		kb := guidesKB(guides)
		h.sendMarkdown(chatID, "Как это работает?", &kb)

	case IntentGuide:
		guide := h.Repo.GetGuide(h.Cfg.HouseID, intent.Slug)
		if guide == nil {
			h.send(chatID, "Не найдено")
			return
		}
		kb := backKB("howto")
		h.sendMarkdown(chatID, guide.Content, &kb)

	case IntentActivities:
		acts := h.Repo.OfferedActivities(h.Cfg.HouseID, time.Now().Month())
		h.Sessions.Update(userID, func(s *session.Session) { s.State = models.StateActivitiesMenu })
		kb := activitiesKB(acts)
		h.sendMarkdown(chatID, "Чем заняться?", &kb)

	case IntentActivity:
		act := h.Repo.GetActivity(h.Cfg.HouseID, intent.Slug)
		if act == nil {
			h.send(chatID, "Не найдено")
			return
		}
		kb := backKB("activities")
		h.sendMarkdown(chatID, content.RenderActivity(*act), &kb)
	}
}

// renderSection shows a texts/ page, with its attached photo when one is
// indexed for the content path.
func (h *Handler) renderSection(userID, chatID int64, rel string) {
	text := h.Repo.ReadText(h.Cfg.HouseID, rel)
	kb := backKB("back_main")

	photo, err := h.Editor.Attachment(context.Background(), h.Cfg.HouseID, rel)
	if err != nil {
		h.Log.Error("attachment lookup failed", "err", err)
	}
	if photo != "" {
		msg := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(photo))
		msg.Caption = text
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = kb
		if _, err := h.Bot.Send(msg); err == nil {
			return
		}
		// fall back to text if the photo cannot be sent
	}
	h.sendMarkdown(chatID, text, &kb)
}

func (h *Handler) handleAdminIntent(userID, chatID int64, intent Intent) {
	if !h.Cfg.IsAdmin(userID) {
		h.send(chatID, msgNoPermission)
		return
	}

	switch intent.Kind {
	case IntentAdminList:
		h.send(chatID, h.contentListing())

	case IntentAdminReply:
		h.Sessions.Update(userID, func(s *session.Session) {
			s.ClearPending()
			s.ReplyTarget = intent.UserID
		})
		h.send(chatID, "Введите ответ пользователю "+strconv.FormatInt(intent.UserID, 10)+
			". Ваше следующее сообщение будет отправлено ему.")

	case IntentMailingConfirm:
		h.confirmMailing(userID, chatID)

	case IntentMailingCancel:
		h.Sessions.Update(userID, func(s *session.Session) { s.Mailing = nil })
		h.send(chatID, "Рассылка отменена.")
	}
}
