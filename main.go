package main

import (
	"log/slog"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"house-concierge-bot/internal/config"
	"house-concierge-bot/internal/content"
	"house-concierge-bot/internal/handlers"
	"house-concierge-bot/internal/lib/sl"
	"house-concierge-bot/internal/ratelimit"
	"house-concierge-bot/internal/scheduler"
	"house-concierge-bot/internal/session"
	"house-concierge-bot/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("bot init failed", sl.Err(err))
		os.Exit(1)
	}

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		logger.Error("storage init failed", sl.Err(err))
		os.Exit(1)
	}

	repo := content.NewRepository(cfg.ContentDir)
	sessions := session.NewStore(cfg.SessionTTL)

	h := &handlers.Handler{
		Bot:      bot,
		Cfg:      cfg,
		Log:      logger,
		DB:       db,
		Repo:     repo,
		Editor:   content.NewEditor(repo, db),
		Sessions: sessions,
		Limiter:  ratelimit.New(cfg.ConciergeMinInterval, cfg.ConciergeWindow, cfg.ConciergeMaxPerWin),
	}

	sched, err := scheduler.Start(logger, sessions, db)
	if err != nil {
		logger.Error("scheduler init failed", sl.Err(err))
		os.Exit(1)
	}
	defer func() { _ = sched.Shutdown() }()

	logger.Info("bot started", slog.String("house", cfg.HouseID), slog.Int("admins", len(cfg.AdminIDs)))

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	for upd := range bot.GetUpdatesChan(updateConfig) {
		var userID int64
		switch {
		case upd.Message != nil && upd.Message.From != nil:
			userID = upd.Message.From.ID
		case upd.CallbackQuery != nil:
			userID = upd.CallbackQuery.From.ID
		default:
			continue
		}

		// handle concurrently across users, serialized per user
		go func(upd tgbotapi.Update, userID int64) {
			mu := sessions.UserLock(userID)
			mu.Lock()
			defer mu.Unlock()
			h.HandleUpdate(upd)
		}(upd, userID)
	}
}
