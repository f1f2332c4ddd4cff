package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"house-concierge-bot/internal/models"
	"house-concierge-bot/internal/session"
)

const (
	msgCodePrompt   = "Добро пожаловать! Введите, пожалуйста, ваш числовой код доступа:"
	msgWelcomeBack  = "Добро пожаловать обратно!"
	msgNoPermission = "У вас нет прав для выполнения этой команды."

	adminHelp = "Админ-панель:\n" +
		"/ls — список файлов контента\n" +
		"/put <путь> — следующий текст перезапишет файл\n" +
		"/photo <путь> — следующее фото прикрепится к файлу\n" +
		"/delpic <путь> — удалить прикреплённое фото\n" +
		"/mailing <текст> — рассылка всем пользователям"
)

func (h *Handler) HandleCommand(msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	isAdmin := h.Cfg.IsAdmin(userID)

	switch msg.Command() {
	case "start":
		h.handleStart(userID, chatID, isAdmin)
	case "menu":
		if isAdmin {
			h.handleStart(userID, chatID, true)
			return
		}
		if h.authorized(userID) {
			h.showMainMenu(userID, chatID)
			return
		}
		h.promptForCode(userID, chatID)

	case "admin":
		if !isAdmin {
			h.send(chatID, msgNoPermission)
			return
		}
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(btnAdminContents, "admin_ls")),
		)
		reply := tgbotapi.NewMessage(chatID, adminHelp)
		reply.ReplyMarkup = kb
		_, _ = h.Bot.Send(reply)

	case "ls":
		if !isAdmin {
			h.send(chatID, msgNoPermission)
			return
		}
		h.send(chatID, h.contentListing())

	case "put":
		if !isAdmin {
			h.send(chatID, msgNoPermission)
			return
		}
		rel := strings.TrimSpace(msg.CommandArguments())
		if rel == "" {
			h.send(chatID, "Использование: /put <путь>")
			return
		}
		h.Sessions.Update(userID, func(s *session.Session) {
			s.ClearPending()
			s.EditPath = rel
		})
		h.send(chatID, "Ок. Пришлите текст, я перезапишу "+rel+".")

	case "photo":
		if !isAdmin {
			h.send(chatID, msgNoPermission)
			return
		}
		rel := strings.TrimSpace(msg.CommandArguments())
		if rel == "" {
			h.send(chatID, "Использование: /photo <путь>")
			return
		}
		h.Sessions.Update(userID, func(s *session.Session) {
			s.ClearPending()
			s.PhotoPath = rel
		})
		h.send(chatID, "Ок. Пришлите фото, я прикреплю его к "+rel+".")

	case "delpic":
		if !isAdmin {
			h.send(chatID, msgNoPermission)
			return
		}
		rel := strings.TrimSpace(msg.CommandArguments())
		if rel == "" {
			h.send(chatID, "Использование: /delpic <путь>")
			return
		}
		deleted, err := h.Editor.DeletePhoto(context.Background(), h.Cfg.HouseID, rel)
		if err != nil {
			h.send(chatID, "Ошибка удаления фото.")
			return
		}
		if deleted {
			h.send(chatID, "Фото для "+rel+" удалено.")
		} else {
			h.send(chatID, "У "+rel+" нет прикреплённого фото.")
		}

	case "mailing":
		if !isAdmin {
			h.send(chatID, msgNoPermission)
			return
		}
		h.beginMailing(userID, chatID, strings.TrimSpace(msg.CommandArguments()), "")
	}
}

func (h *Handler) handleStart(userID, chatID int64, isAdmin bool) {
	h.Sessions.Clear(userID)

	if isAdmin {
		h.send(chatID, "Здравствуйте, администратор!")
		h.send(chatID, adminHelp)
		return
	}

	if err := h.DB.EnsureUser(context.Background(), userID); err != nil {
		h.Log.Error("ensure user failed", "err", err)
	}

	if h.authorized(userID) {
		h.send(chatID, msgWelcomeBack)
		h.showMainMenu(userID, chatID)
		return
	}

	if h.Cfg.AuthMode == "phone" {
		h.promptForContact(chatID)
		return
	}
	h.promptForCode(userID, chatID)
}

func (h *Handler) promptForCode(userID, chatID int64) {
	h.Sessions.Update(userID, func(s *session.Session) { s.State = models.StateAwaitingCode })
	h.send(chatID, msgCodePrompt)
}

func (h *Handler) promptForContact(chatID int64) {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(btnShareContact)),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	msg := tgbotapi.NewMessage(chatID, "Для доступа поделитесь номером телефона.")
	msg.ReplyMarkup = kb
	_, _ = h.Bot.Send(msg)
}

func (h *Handler) authorized(userID int64) bool {
	ok, _, err := h.DB.GetAccessStatus(context.Background(), userID)
	if err != nil {
		h.Log.Error("access status query failed", "err", err)
		return false
	}
	return ok
}

func (h *Handler) contentListing() string {
	files := h.Editor.ListFiles(h.Cfg.HouseID)
	if len(files) == 0 {
		return "Нет файлов"
	}
	return "Файлы контента (дом " + h.Cfg.HouseID + "):\n" + strings.Join(files, "\n")
}
