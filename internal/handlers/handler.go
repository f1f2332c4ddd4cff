// Package handlers interprets incoming telegram updates against the per-user
// conversation state and produces outbound actions: content renders, state
// transitions and concierge relay to the admins.
package handlers

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"house-concierge-bot/internal/config"
	"house-concierge-bot/internal/content"
	"house-concierge-bot/internal/lib/sl"
	"house-concierge-bot/internal/models"
	"house-concierge-bot/internal/ratelimit"
	"house-concierge-bot/internal/session"
	"house-concierge-bot/internal/storage"
)

// BotAPI is the slice of the telegram client the handlers use. Tests swap in
// a recording fake.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Handler struct {
	Bot      BotAPI
	Cfg      *config.Config
	Log      *slog.Logger
	DB       *storage.DB
	Repo     *content.Repository
	Editor   *content.Editor
	Sessions *session.Store
	Limiter  *ratelimit.Limiter
}

// HandleUpdate is the dispatch entry point for one polled update.
func (h *Handler) HandleUpdate(upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		h.HandleMessage(upd.Message)
	case upd.CallbackQuery != nil:
		h.HandleCallback(upd.CallbackQuery)
	}
}

func (h *Handler) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.Bot.Send(msg); err != nil {
		h.Log.Error("send failed", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}

func (h *Handler) sendMarkdown(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if kb != nil {
		msg.ReplyMarkup = kb
	}
	if _, err := h.Bot.Send(msg); err != nil {
		h.Log.Error("send failed", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}

// ---------------- keyboards -------------------------------------------------

const (
	btnConcierge     = "Консьерж (9–21)"
	btnRulesHouse    = "Правила дома"
	btnInventory     = "Инвентарь"
	btnHowItWorks    = "Как это работает?"
	btnActivities    = "Чем заняться?"
	btnMap           = "Карта локаций"
	btnFeedback      = "Обратная связь"
	btnSpecials      = "Спецпредложения"
	btnBuyHouse      = "Купить дом"
	btnBuyFurniture  = "Купить мебель"
	btnAbout         = "О проекте"
	btnBack          = "⬅️ Назад"
	btnFinish        = "Готово"
	btnReply         = "Ответить"
	btnMailingYes    = "Да"
	btnMailingNo     = "Нет"
	btnShareContact  = "Поделиться телефоном"
	btnAdminContents = "Список файлов"
)

func mainMenuKB() tgbotapi.InlineKeyboardMarkup {
	row := func(label, data string) []tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row(btnConcierge, "concierge"),
		row(btnRulesHouse, "section:rules_house"),
		row(btnInventory, "section:rules_inventory"),
		row(btnHowItWorks, "howto"),
		row(btnActivities, "activities"),
		row(btnMap, "section:map"),
		row(btnFeedback, "section:feedback"),
		row(btnSpecials, "section:specials"),
		row(btnBuyHouse, "section:buy_house"),
		row(btnBuyFurniture, "section:buy_furniture"),
		row(btnAbout, "section:about"),
	)
}

func backKB(target string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnBack, target)),
	)
}

func conciergeKB() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnFinish, "concierge_done"),
			tgbotapi.NewInlineKeyboardButtonData(btnBack, "back_main"),
		),
	)
}

func guidesKB(guides []models.Guide) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range guides {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(g.Title, "guide:"+g.ID)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnBack, "back_main")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func activitiesKB(acts []models.Activity) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, a := range acts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(a.Title, "activity:"+a.ID)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(btnBack, "back_main")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func replyKB(userID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnReply, intentAdminReply(userID))),
	)
}

// showMainMenu renders the main menu and moves the user into it.
func (h *Handler) showMainMenu(userID, chatID int64) {
	house := h.Repo.LoadHouse(h.Cfg.HouseID)
	title := "Дом"
	if house != nil && house.Name != "" {
		title = house.Name
	}
	h.Sessions.Update(userID, func(s *session.Session) { s.State = models.StateMainMenu })
	kb := mainMenuKB()
	h.sendMarkdown(chatID, title+". Главное меню:", &kb)
}
