package main

import (
	"os"
	"strconv"
	"strings"

	"tripbot/internal/access"
	"tripbot/internal/allowlist"
	"tripbot/internal/bot"
	"tripbot/internal/database"
	"tripbot/internal/handlers"
	"tripbot/internal/notify"
	"tripbot/internal/trips"
	"tripbot/internal/web"
	"tripbot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	// Logger config from env (LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT)
	loggerConfig := &logger.Config{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
		Output: getEnv("LOG_OUTPUT", "stdout"),
	}
	zapLogger, err := logger.New(loggerConfig, logger.DefaultServiceName)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()
	zap.ReplaceGlobals(zapLogger)

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		zap.L().Fatal("BOT_TOKEN is required")
	}

	adminIDs := parseAdminIDs(os.Getenv("ADMIN_IDS"))
	if len(adminIDs) == 0 {
		zap.L().Fatal("ADMIN_IDS is required (comma-separated telegram ids)")
	}

	dbConfig := database.Config{
		Host:     os.Getenv("DB_HOST"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	db, err := database.New(dbConfig)
	if err != nil {
		zap.L().Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	zap.L().Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		zap.L().Fatal("Failed to run migrations", zap.Error(err))
	}

	b, err := bot.New(botToken, db, adminIDs)
	if err != nil {
		zap.L().Fatal("Failed to create bot", zap.Error(err))
	}

	dispatcher := notify.New(b, zapLogger)
	allowed := allowlist.New()
	enforcer := access.NewEnforcer(db, b, allowed, dispatcher, zapLogger)
	service := trips.NewService(db, dispatcher, enforcer, zapLogger)
	sessions := web.NewSessions()

	b.Trips = service
	b.Enforcer = enforcer
	b.Allowed = allowed
	b.Notifier = dispatcher
	b.Sessions = sessions

	webURL := os.Getenv("URL")
	webAddr := getEnv("WEB_ADDR", ":8080")
	server := web.NewServer(db, service, b, enforcer, dispatcher, sessions, zapLogger)
	go func() {
		zap.L().Info("Admin API listening", zap.String("addr", webAddr))
		if err := server.Run(webAddr); err != nil {
			zap.L().Fatal("Admin API stopped", zap.Error(err))
		}
	}()

	zap.L().Info("Bot started successfully")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.API.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.Message != nil:
			message := update.Message
			if message.Chat.IsPrivate() {
				if message.IsCommand() {
					switch message.Command() {
					case "start":
						handlers.HandleStart(b, message)
					case "trips":
						handlers.HandleTrips(b, message)
					case "mystatus":
						handlers.HandleMyStatus(b, message)
					case "help":
						handlers.HandleHelp(b, message)
					case "logout":
						handlers.HandleLogout(b, message)
					case "email":
						handlers.HandleEmail(b, message)
					case "stats":
						handlers.HandleStats(b, message)
					case "newtrip":
						handlers.HandleNewTrip(b, message)
					case "admin":
						handlers.HandleAdminToken(b, message, webURL)
					default:
						b.SendMessage(message.Chat.ID,
							"Unknown command. Use /help to see what I can do.", nil)
					}
				} else {
					handlers.HandleMessage(b, message)
				}
			} else {
				handlers.HandleGroupMessage(b, message)
			}
		case update.CallbackQuery != nil:
			handlers.HandleCallbackQuery(b, update.CallbackQuery)
		case update.ChatJoinRequest != nil:
			handlers.HandleJoinRequest(b, update.ChatJoinRequest)
		}
	}
}

func parseAdminIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
