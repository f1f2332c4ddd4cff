package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"house-concierge-bot/internal/config"
	"house-concierge-bot/internal/content"
	"house-concierge-bot/internal/models"
	"house-concierge-bot/internal/ratelimit"
	"house-concierge-bot/internal/session"
	"house-concierge-bot/internal/storage"
)

const (
	guestID  = int64(7)
	adminID  = int64(900)
	admin2ID = int64(901)
)

// fakeBot records outbound API calls instead of talking to telegram.
type fakeBot struct {
	sent    []tgbotapi.Chattable
	failFor map[int64]bool
	fileURL string
	nextID  int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.failFor[chatIDOf(c)] {
		return tgbotapi.Message{}, errors.New("blocked by recipient")
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetFileDirectURL(string) (string, error) {
	return f.fileURL, nil
}

func chatIDOf(c tgbotapi.Chattable) int64 {
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		return v.ChatID
	case tgbotapi.PhotoConfig:
		return v.ChatID
	case tgbotapi.VideoConfig:
		return v.ChatID
	}
	return 0
}

func textOf(c tgbotapi.Chattable) string {
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		return v.Text
	case tgbotapi.PhotoConfig:
		return v.Caption
	case tgbotapi.VideoConfig:
		return v.Caption
	}
	return ""
}

func (f *fakeBot) lastText() string {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if s := textOf(f.sent[i]); s != "" {
			return s
		}
	}
	return ""
}

func (f *fakeBot) textsTo(chatID int64) []string {
	var res []string
	for _, c := range f.sent {
		if chatIDOf(c) == chatID {
			res = append(res, textOf(c))
		}
	}
	return res
}

func textMsg(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: "someone"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
}

func cmdMsg(userID int64, text string) *tgbotapi.Message {
	m := textMsg(userID, text)
	n := len(text)
	if i := strings.Index(text, " "); i >= 0 {
		n = i
	}
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	return m
}

func callbackFrom(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	}
}

func newTestHandler(t *testing.T) (*Handler, *fakeBot) {
	t.Helper()

	base := t.TempDir()
	write := func(rel, body string) {
		path := filepath.Join(base, "h1", filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("house.yaml", "name: Лесной дом\nconcierge_text: Задайте вопрос.\n")
	write("texts/about.md", "# О проекте\n")
	write("guides/sauna.md", "Как топить баню\n")
	write("activities.yaml", "- id: lake\n  title: Озеро\n  description_md: Купание.\n  months: [6, 7, 8]\n")

	db, err := storage.New(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.BulkLoadCodes(context.Background(), []storage.CodeRow{{Code: 1000, HouseID: "h1"}})
	require.NoError(t, err)

	cfg := &config.Config{
		AdminIDs:      []int64{adminID, admin2ID},
		HouseID:       "h1",
		AuthMode:      "code",
		AccessDays:    30,
		ContentDir:    base,
		MaxMediaBytes: 1 << 20,
	}
	repo := content.NewRepository(base)
	bot := &fakeBot{failFor: make(map[int64]bool)}

	h := &Handler{
		Bot:      bot,
		Cfg:      cfg,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DB:       db,
		Repo:     repo,
		Editor:   content.NewEditor(repo, db),
		Sessions: session.NewStore(time.Hour),
		Limiter:  ratelimit.New(0, time.Minute, 100),
	}
	return h, bot
}

func TestAuthFlow(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleMessage(cmdMsg(guestID, "/start"))
	assert.Equal(t, msgCodePrompt, bot.lastText())
	assert.Equal(t, models.StateAwaitingCode, h.Sessions.Get(guestID).State)

	h.HandleMessage(textMsg(guestID, "abc"))
	assert.Equal(t, "Код должен быть числом. Попробуйте ещё раз.", bot.lastText())
	assert.Equal(t, models.StateAwaitingCode, h.Sessions.Get(guestID).State)

	h.HandleMessage(textMsg(guestID, "4242"))
	assert.Equal(t, "Код неверный. Проверьте и введите снова.", bot.lastText())
	assert.Equal(t, models.StateAwaitingCode, h.Sessions.Get(guestID).State)
	ok, _, err := h.DB.GetAccessStatus(context.Background(), guestID)
	require.NoError(t, err)
	assert.False(t, ok, "unknown code must not grant access")

	h.HandleMessage(textMsg(guestID, "1000"))
	assert.Contains(t, bot.lastText(), "Главное меню")
	assert.Equal(t, models.StateMainMenu, h.Sessions.Get(guestID).State)
	ok, _, err = h.DB.GetAccessStatus(context.Background(), guestID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStart_StillAuthorized(t *testing.T) {
	h, bot := newTestHandler(t)
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))

	h.HandleMessage(cmdMsg(guestID, "/start"))
	texts := bot.textsTo(guestID)
	require.NotEmpty(t, texts)
	assert.Equal(t, msgWelcomeBack, texts[0])
	assert.Equal(t, models.StateMainMenu, h.Sessions.Get(guestID).State)
}

func TestStart_Admin(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleMessage(cmdMsg(adminID, "/start"))
	assert.Contains(t, bot.lastText(), "/put")
}

func TestAdminCommandsDeniedForGuests(t *testing.T) {
	h, bot := newTestHandler(t)

	for _, cmd := range []string{"/ls", "/put texts/about.md", "/photo texts/about.md", "/delpic texts/about.md", "/mailing hi", "/admin"} {
		h.HandleMessage(cmdMsg(guestID, cmd))
		assert.Equal(t, msgNoPermission, bot.lastText(), "command %s", cmd)
	}
}

func TestEditFlow(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleMessage(cmdMsg(adminID, "/put texts/rules_house.md"))
	assert.Contains(t, bot.lastText(), "перезапишу texts/rules_house.md")

	h.HandleMessage(textMsg(adminID, "не шуметь после 23:00"))
	assert.Equal(t, "Файл texts/rules_house.md обновлён.", bot.lastText())
	assert.Empty(t, h.Sessions.Get(adminID).EditPath)
	assert.Equal(t, "не шуметь после 23:00", h.Repo.ReadText("h1", "texts/rules_house.md"))
}

func TestEditFlow_TraversalRejected(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleMessage(cmdMsg(adminID, "/put ../../etc/passwd"))
	h.HandleMessage(textMsg(adminID, "pwned"))
	assert.Contains(t, bot.lastText(), "Некорректный путь")
	assert.Empty(t, h.Sessions.Get(adminID).EditPath)

	escaped := filepath.Join(filepath.Dir(h.Cfg.ContentDir), "etc", "passwd")
	_, err := os.Stat(escaped)
	assert.True(t, os.IsNotExist(err), "no file may be written outside the tree")
}

func TestCallback_UnauthenticatedRedirect(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleCallback(callbackFrom(guestID, "section:about"))
	assert.Equal(t, msgCodePrompt, bot.lastText())
	assert.Equal(t, models.StateAwaitingCode, h.Sessions.Get(guestID).State)
}

func TestCallback_MenuNavigation(t *testing.T) {
	h, bot := newTestHandler(t)
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))

	h.HandleCallback(callbackFrom(guestID, "section:about"))
	assert.Equal(t, "# О проекте\n", bot.lastText())

	h.HandleCallback(callbackFrom(guestID, "howto"))
	assert.Equal(t, models.StateGuidesMenu, h.Sessions.Get(guestID).State)

	h.HandleCallback(callbackFrom(guestID, "guide:sauna"))
	assert.Equal(t, "Как топить баню\n", bot.lastText())

	h.HandleCallback(callbackFrom(guestID, "guide:missing"))
	assert.Equal(t, "Не найдено", bot.lastText())

	h.HandleCallback(callbackFrom(guestID, "back_main"))
	assert.Equal(t, models.StateMainMenu, h.Sessions.Get(guestID).State)
	assert.Contains(t, bot.lastText(), "Главное меню")
}

func TestConciergeRelay(t *testing.T) {
	h, bot := newTestHandler(t)
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))

	h.HandleCallback(callbackFrom(guestID, "concierge"))
	assert.Equal(t, models.StateConciergeAwaitingMessage, h.Sessions.Get(guestID).State)
	assert.Contains(t, bot.lastText(), "Задайте вопрос.")

	h.HandleMessage(textMsg(guestID, "Где ключи от сарая?"))
	assert.Equal(t, models.StateConciergeAwaitingMore, h.Sessions.Get(guestID).State)

	for _, admin := range []int64{adminID, admin2ID} {
		texts := bot.textsTo(admin)
		require.Len(t, texts, 1, "admin %d", admin)
		assert.Contains(t, texts[0], "Где ключи от сарая?")
		assert.Contains(t, texts[0], "@someone")
	}
	assert.Contains(t, bot.lastText(), "отправлено администратору")

	// follow-up goes through without re-entering the menu
	h.HandleMessage(textMsg(guestID, "И ещё дрова."))
	assert.Len(t, bot.textsTo(adminID), 2)

	h.HandleCallback(callbackFrom(guestID, "concierge_done"))
	assert.Equal(t, models.StateMainMenu, h.Sessions.Get(guestID).State)
}

func TestConciergeRelay_OneAdminUnreachable(t *testing.T) {
	h, bot := newTestHandler(t)
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))
	bot.failFor[admin2ID] = true

	h.HandleCallback(callbackFrom(guestID, "concierge"))
	h.HandleMessage(textMsg(guestID, "Вопрос"))

	assert.Len(t, bot.textsTo(adminID), 1, "first admin still reached")
	assert.Contains(t, bot.lastText(), "отправлено администратору")
}

func TestConciergeRelay_RateLimited(t *testing.T) {
	h, bot := newTestHandler(t)
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))
	h.Limiter = ratelimit.New(0, time.Minute, 1)

	h.HandleCallback(callbackFrom(guestID, "concierge"))
	h.HandleMessage(textMsg(guestID, "раз"))
	h.HandleMessage(textMsg(guestID, "два"))

	assert.Len(t, bot.textsTo(adminID), 1)
	assert.Contains(t, bot.lastText(), "Слишком много сообщений")
}

func TestConciergeRelay_OversizedMedia(t *testing.T) {
	h, bot := newTestHandler(t)
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))
	h.HandleCallback(callbackFrom(guestID, "concierge"))

	photo := textMsg(guestID, "")
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "big", FileSize: int(h.Cfg.MaxMediaBytes) + 1}}
	h.HandleMessage(photo)
	assert.Empty(t, bot.textsTo(adminID), "oversized photo is not relayed")
	assert.Contains(t, bot.lastText(), "слишком большой")

	video := textMsg(guestID, "")
	video.Video = &tgbotapi.Video{FileID: "big", FileSize: int(h.Cfg.MaxMediaBytes) + 1}
	h.HandleMessage(video)
	assert.Empty(t, bot.textsTo(adminID), "oversized video is not relayed")

	small := textMsg(guestID, "")
	small.Photo = []tgbotapi.PhotoSize{{FileID: "ok", FileSize: 1024}}
	h.HandleMessage(small)
	require.Len(t, bot.textsTo(adminID), 1)
	assert.Contains(t, bot.textsTo(adminID)[0], "Медиа от")
}

// The dispatch loop holds the sender's user lock around HandleUpdate; every
// handler path touches the session store underneath, so handling must finish
// with the lock held.
func TestHandleUpdate_UnderUserLock(t *testing.T) {
	h, bot := newTestHandler(t)

	done := make(chan struct{})
	go func() {
		mu := h.Sessions.UserLock(guestID)
		mu.Lock()
		defer mu.Unlock()
		h.HandleUpdate(tgbotapi.Update{Message: cmdMsg(guestID, "/start")})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update handling blocked while the user lock is held")
	}
	assert.Equal(t, msgCodePrompt, bot.lastText())
	assert.Equal(t, models.StateAwaitingCode, h.Sessions.Get(guestID).State)
}

func TestAdminReplyFlow(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleCallback(callbackFrom(adminID, intentAdminReply(guestID)))
	assert.Equal(t, guestID, h.Sessions.Get(adminID).ReplyTarget)

	h.HandleMessage(textMsg(adminID, "Ключи под ковриком."))
	texts := bot.textsTo(guestID)
	require.Len(t, texts, 1)
	assert.Equal(t, "Ключи под ковриком.", texts[0])
	assert.Zero(t, h.Sessions.Get(adminID).ReplyTarget, "exactly one reply per invocation")

	h.HandleMessage(textMsg(adminID, "ещё раз"))
	assert.Empty(t, bot.textsTo(guestID)[1:], "second message is not forwarded")
}

func TestAdminReplyDeniedForGuests(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleCallback(callbackFrom(guestID, intentAdminReply(admin2ID)))
	assert.Equal(t, msgNoPermission, bot.lastText())
	assert.Zero(t, h.Sessions.Get(guestID).ReplyTarget)
}

func TestPhotoAttachFlow(t *testing.T) {
	h, bot := newTestHandler(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer ts.Close()
	bot.fileURL = ts.URL

	h.HandleMessage(cmdMsg(adminID, "/photo texts/about.md"))
	assert.Equal(t, "texts/about.md", h.Sessions.Get(adminID).PhotoPath)

	photo := textMsg(adminID, "")
	photo.Photo = []tgbotapi.PhotoSize{{FileID: "f1", FileSize: 100}}
	h.HandleMessage(photo)
	assert.Equal(t, "Фото прикреплено к texts/about.md.", bot.lastText())
	assert.Empty(t, h.Sessions.Get(adminID).PhotoPath)

	path, err := h.Editor.Attachment(context.Background(), "h1", "texts/about.md")
	require.NoError(t, err)
	require.NotEmpty(t, path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(b))

	// the section render now carries the photo
	require.NoError(t, h.DB.GrantAccess(context.Background(), guestID, 30))
	h.HandleCallback(callbackFrom(guestID, "section:about"))
	last := bot.sent[len(bot.sent)-1]
	_, isPhoto := last.(tgbotapi.PhotoConfig)
	assert.True(t, isPhoto, "content with attachment is sent as a photo")

	// deleting the attachment falls back to text-only
	h.HandleMessage(cmdMsg(adminID, "/delpic texts/about.md"))
	assert.Equal(t, "Фото для texts/about.md удалено.", bot.lastText())
	h.HandleCallback(callbackFrom(guestID, "section:about"))
	last = bot.sent[len(bot.sent)-1]
	_, isMsg := last.(tgbotapi.MessageConfig)
	assert.True(t, isMsg)
}

func TestMailingFlow(t *testing.T) {
	h, bot := newTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.DB.EnsureUser(ctx, guestID))
	require.NoError(t, h.DB.EnsureUser(ctx, 8))

	h.HandleMessage(cmdMsg(adminID, "/mailing Баня работает с пятницы"))
	require.NotNil(t, h.Sessions.Get(adminID).Mailing)
	assert.Contains(t, bot.lastText(), "Вы уверены")

	h.HandleCallback(callbackFrom(adminID, "mailing_yes"))
	assert.Nil(t, h.Sessions.Get(adminID).Mailing)
	assert.Contains(t, bot.lastText(), "Рассылка завершена: 2 из 2.")
	require.Len(t, bot.textsTo(guestID), 1)
	assert.Equal(t, "Баня работает с пятницы", bot.textsTo(guestID)[0])
	require.Len(t, bot.textsTo(8), 1)
}

func TestMailingCancel(t *testing.T) {
	h, bot := newTestHandler(t)

	h.HandleMessage(cmdMsg(adminID, "/mailing Черновик"))
	h.HandleCallback(callbackFrom(adminID, "mailing_no"))
	assert.Nil(t, h.Sessions.Get(adminID).Mailing)
	assert.Equal(t, "Рассылка отменена.", bot.lastText())

	h.HandleCallback(callbackFrom(adminID, "mailing_yes"))
	assert.Equal(t, "Нет данных для рассылки.", bot.lastText())
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		data string
		want Intent
	}{
		{"back_main", Intent{Kind: IntentBackMain}},
		{"concierge", Intent{Kind: IntentConcierge}},
		{"concierge_done", Intent{Kind: IntentConciergeDone}},
		{"howto", Intent{Kind: IntentGuides}},
		{"activities", Intent{Kind: IntentActivities}},
		{"admin_ls", Intent{Kind: IntentAdminList}},
		{"mailing_yes", Intent{Kind: IntentMailingConfirm}},
		{"mailing_no", Intent{Kind: IntentMailingCancel}},
		{"section:about", Intent{Kind: IntentSection, Slug: "about"}},
		{"section:nope", Intent{Kind: IntentUnknown}},
		{"guide:sauna", Intent{Kind: IntentGuide, Slug: "sauna"}},
		{"activity:lake", Intent{Kind: IntentActivity, Slug: "lake"}},
		{"admin_reply:42", Intent{Kind: IntentAdminReply, UserID: 42}},
		{"admin_reply:abc", Intent{Kind: IntentUnknown}},
		{"garbage", Intent{Kind: IntentUnknown}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseIntent(tc.data), "data %q", tc.data)
	}
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, isNumeric("1000"))
	assert.False(t, isNumeric(""))
	assert.False(t, isNumeric("10a0"))
	assert.False(t, isNumeric(" 1000"))
	assert.False(t, isNumeric("-5"))
}
