package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"bankcards/docs"
	"bankcards/internal/auth"
	"bankcards/internal/cache"
	"bankcards/internal/cardcipher"
	"bankcards/internal/config"
	"bankcards/internal/db"
	"bankcards/internal/handler"
	"bankcards/internal/model"
	"bankcards/internal/notify"
	"bankcards/internal/repository"
	"bankcards/internal/router"
	"bankcards/internal/service"
)

type stores struct {
	users     repository.UserRepository
	cards     repository.CardRepository
	transfers repository.TransferRepository
}

// @title Bank Cards API
// @version 1.0
// @description Card-to-card transfers with encrypted card storage and masked display.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.UsesDevKeys() {
		log.Warn("using built-in development card keys; set CARD_ENCRYPTION_KEY and CARD_LOOKUP_KEY")
	}

	cipher, err := cardcipher.NewFromHex(cfg.CardEncryptionKey, cfg.CardLookupKey)
	if err != nil {
		log.WithError(err).Fatal("card cipher init")
	}

	st, err := openStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("database init")
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := cacheClient.Ping(pingCtx); err != nil {
		log.WithError(err).Warn("redis unavailable, transfer history will not be cached")
	}
	cancelPing()

	var notifier notify.Notifier = notify.Noop{}
	if cfg.SMTPHost != "" {
		notifier = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SenderEmail)
	}
	dispatcher := notify.NewDispatcher(notifier, 100, log)

	directory := service.NewCardDirectory(st.cards, cipher, log)
	indexer := service.NewLookupIndexer(st.cards, cipher, log)
	if cfg.LookupIndexSchedule != "" {
		if err := indexer.Start(cfg.LookupIndexSchedule); err != nil {
			log.WithError(err).Fatal("lookup index schedule")
		}
		go func() { _, _ = indexer.Run(context.Background()) }()
	}

	transferService := service.NewTransferService(service.TransferDeps{
		Users:     st.users,
		Cards:     st.cards,
		Transfers: st.transfers,
		Directory: directory,
		Cipher:    cipher,
		Cache:     cacheClient,
		CacheTTL:  cfg.TransferCacheTTL,
		Notices:   dispatcher,
		Log:       log,
	})
	cardService := service.NewCardService(st.users, st.cards, cipher)

	jwtService := auth.NewJWTService(cfg.JWTSecret)

	e := echo.New()
	e.HideBanner = true
	router.Register(
		e,
		log,
		jwtService.Middleware(),
		handler.NewCardHandler(cardService),
		handler.NewTransferHandler(transferService),
	)

	if cfg.SwaggerHost != "" {
		docs.SwaggerInfo.Host = cfg.SwaggerHost
	}
	log.Infof("Swagger documentation available at: http://%s/swagger/index.html", docs.SwaggerInfo.Host)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + cfg.ServerPort
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server start")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	select {
	case <-indexer.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("lookup index backfill still running at shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending transfer receipts were not delivered")
	}
	_ = cacheClient.Close()
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func openStores(cfg *config.Config, log *logrus.Logger) (*stores, error) {
	if cfg.DBDriver == db.DriverMemory {
		log.Warn("DB_DRIVER=memory: data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{users: mem.Users(), cards: mem.Cards(), transfers: mem.Transfers()}, nil
	}

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	// Drop tables if RESET_DB environment variable is set
	if os.Getenv("RESET_DB") == "true" {
		log.Warn("RESET_DB=true detected, dropping all tables")
		for _, table := range []interface{}{&model.Transfer{}, &model.Card{}, &model.User{}} {
			if err := gormDB.Migrator().DropTable(table); err != nil {
				log.WithError(err).Warn("failed to drop table (may not exist)")
			}
		}
	}

	if err := db.Migrate(gormDB); err != nil {
		return nil, err
	}
	return &stores{
		users:     repository.NewUserRepository(gormDB),
		cards:     repository.NewCardRepository(gormDB),
		transfers: repository.NewTransferRepository(gormDB),
	}, nil
}
