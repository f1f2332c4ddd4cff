package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"house-concierge-bot/internal/content"
	"house-concierge-bot/internal/lib/sl"
	"house-concierge-bot/internal/session"
)

// DeliveryResult is the outcome of one fan-out send, so callers can count
// successes instead of digging through logs.
type DeliveryResult struct {
	ChatID int64
	Err    error
}

// fanOut sends to each recipient sequentially. One failed delivery never
// blocks the rest.
func (h *Handler) fanOut(ids []int64, build func(chatID int64) tgbotapi.Chattable) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(ids))
	for _, id := range ids {
		_, err := h.Bot.Send(build(id))
		if err != nil {
			h.Log.Error("fan-out delivery failed", slog.Int64("chat_id", id), sl.Err(err))
		}
		results = append(results, DeliveryResult{ChatID: id, Err: err})
	}
	return results
}

func delivered(results []DeliveryResult) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// handleAdminMessage resolves a non-command admin message against the
// pending targets: a reply to a guest, a content edit, or a photo upload.
func (h *Handler) handleAdminMessage(msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	sess := h.Sessions.Get(userID)

	switch {
	case sess.ReplyTarget != 0:
		h.forwardReply(msg, sess.ReplyTarget)
	case sess.EditPath != "":
		h.commitEdit(msg, sess.EditPath)
	case sess.PhotoPath != "":
		h.commitPhoto(msg, sess.PhotoPath)
	case len(msg.Photo) > 0 && strings.HasPrefix(msg.Caption, "/mailing"):
		text := strings.TrimSpace(strings.TrimPrefix(msg.Caption, "/mailing"))
		h.beginMailing(userID, chatID, text, msg.Photo[len(msg.Photo)-1].FileID)
	default:
		h.send(chatID, "Нет ожидающих действий. /admin — список команд.")
	}
}

// forwardReply sends exactly one admin message to the pending guest, then
// clears the target whether or not delivery worked.
func (h *Handler) forwardReply(msg *tgbotapi.Message, target int64) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	defer h.Sessions.Update(userID, func(s *session.Session) { s.ReplyTarget = 0 })

	var out tgbotapi.Chattable
	switch {
	case len(msg.Photo) > 0:
		p := tgbotapi.NewPhoto(target, tgbotapi.FileID(msg.Photo[len(msg.Photo)-1].FileID))
		p.Caption = msg.Caption
		out = p
	case msg.Video != nil:
		v := tgbotapi.NewVideo(target, tgbotapi.FileID(msg.Video.FileID))
		v.Caption = msg.Caption
		out = v
	case msg.Text != "":
		out = tgbotapi.NewMessage(target, msg.Text)
	default:
		h.send(chatID, "Я могу переслать текст, фото или видео.")
		return
	}

	if _, err := h.Bot.Send(out); err != nil {
		h.Log.Error("reply delivery failed", slog.Int64("target", target), sl.Err(err))
		h.send(chatID, "Не удалось отправить сообщение пользователю "+strconv.FormatInt(target, 10))
		return
	}
	h.send(chatID, "Отправлено пользователю "+strconv.FormatInt(target, 10))
}

// commitEdit writes the admin's text into the pending content path. The
// pending state is cleared in every branch so a retry starts clean.
func (h *Handler) commitEdit(msg *tgbotapi.Message, rel string) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	defer h.Sessions.Update(userID, func(s *session.Session) { s.EditPath = "" })

	if msg.Text == "" {
		h.send(chatID, "Нужен текст. Повторите /put "+rel)
		return
	}
	err := h.Editor.WriteText(h.Cfg.HouseID, rel, msg.Text)
	if errors.Is(err, content.ErrPathOutsideTree) {
		h.send(chatID, "Некорректный путь: "+rel)
		return
	}
	if err != nil {
		h.Log.Error("content write failed", slog.String("path", rel), sl.Err(err))
		h.send(chatID, "Не удалось записать файл "+rel)
		return
	}
	h.send(chatID, "Файл "+rel+" обновлён.")
}

// commitPhoto downloads the admin's photo and attaches it to the pending
// content path.
func (h *Handler) commitPhoto(msg *tgbotapi.Message, rel string) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	defer h.Sessions.Update(userID, func(s *session.Session) { s.PhotoPath = "" })

	if len(msg.Photo) == 0 {
		h.send(chatID, "Нужно фото. Повторите /photo "+rel)
		return
	}
	photo := msg.Photo[len(msg.Photo)-1]
	if int64(photo.FileSize) > h.Cfg.MaxMediaBytes {
		h.send(chatID, "Файл слишком большой.")
		return
	}

	body, err := h.downloadFile(photo.FileID)
	if err != nil {
		h.Log.Error("photo download failed", sl.Err(err))
		h.send(chatID, "Ошибка при загрузке фото. Повторите /photo "+rel)
		return
	}
	defer body.Close()

	if _, err := h.Editor.SavePhoto(context.Background(), h.Cfg.HouseID, rel, body); err != nil {
		if errors.Is(err, content.ErrPathOutsideTree) {
			h.send(chatID, "Некорректный путь: "+rel)
			return
		}
		h.Log.Error("photo save failed", slog.String("path", rel), sl.Err(err))
		h.send(chatID, "Ошибка при сохранении фото. Повторите /photo "+rel)
		return
	}
	h.send(chatID, "Фото прикреплено к "+rel+".")
}

func (h *Handler) downloadFile(fileID string) (io.ReadCloser, error) {
	url, err := h.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, h.Cfg.MaxMediaBytes), resp.Body}, nil
}

// ---------------- mailing ---------------------------------------------------

// beginMailing stores a broadcast draft and asks for confirmation.
func (h *Handler) beginMailing(adminID, chatID int64, text, photoFileID string) {
	if text == "" && photoFileID == "" {
		h.send(chatID, "Используйте команду с текстом или картинкой.")
		return
	}

	confirm := "Вы уверены, что хотите отправить это сообщение всем пользователям?\n\n" + text
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnMailingYes, "mailing_yes"),
			tgbotapi.NewInlineKeyboardButtonData(btnMailingNo, "mailing_no"),
		),
	)

	var sent tgbotapi.Message
	var err error
	if photoFileID != "" {
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(photoFileID))
		p.Caption = confirm
		p.ReplyMarkup = kb
		sent, err = h.Bot.Send(p)
	} else {
		m := tgbotapi.NewMessage(chatID, confirm)
		m.ReplyMarkup = kb
		sent, err = h.Bot.Send(m)
	}
	if err != nil {
		h.Log.Error("mailing confirmation failed", sl.Err(err))
		return
	}

	h.Sessions.Update(adminID, func(s *session.Session) {
		s.ClearPending()
		s.Mailing = &session.MailingDraft{
			Text:         text,
			PhotoFileID:  photoFileID,
			ConfirmMsgID: sent.MessageID,
		}
	})
}

// confirmMailing fans the stored draft out to every known user.
func (h *Handler) confirmMailing(adminID, chatID int64) {
	var draft *session.MailingDraft
	h.Sessions.Update(adminID, func(s *session.Session) {
		draft = s.Mailing
		s.Mailing = nil
	})
	if draft == nil {
		h.send(chatID, "Нет данных для рассылки.")
		return
	}

	ids, err := h.DB.ListUserIDs(context.Background())
	if err != nil {
		h.Log.Error("user list query failed", sl.Err(err))
		h.send(chatID, "Не удалось получить список пользователей.")
		return
	}

	results := h.fanOut(ids, func(userID int64) tgbotapi.Chattable {
		if draft.PhotoFileID != "" {
			p := tgbotapi.NewPhoto(userID, tgbotapi.FileID(draft.PhotoFileID))
			p.Caption = draft.Text
			return p
		}
		return tgbotapi.NewMessage(userID, draft.Text)
	})

	if draft.ConfirmMsgID != 0 {
		_, _ = h.Bot.Request(tgbotapi.NewDeleteMessage(chatID, draft.ConfirmMsgID))
	}
	h.send(chatID, fmt.Sprintf("Рассылка завершена: %d из %d.", delivered(results), len(results)))
}
