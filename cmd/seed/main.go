package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"bankcards/internal/auth"
	"bankcards/internal/cardcipher"
	"bankcards/internal/config"
	"bankcards/internal/db"
	apperrors "bankcards/internal/errors"
	"bankcards/internal/model"
	"bankcards/internal/repository"
	"bankcards/internal/service"
)

// SeedFile is the input document: users, each with their cards.
type SeedFile struct {
	Users []SeedUser `json:"users"`
}

// SeedUser is one user to create.
type SeedUser struct {
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Cards    []SeedCard `json:"cards"`
}

// SeedCard is one card to register. Expiry is YYYY-MM.
type SeedCard struct {
	Number     string `json:"number"`
	HolderName string `json:"holder_name"`
	Expiry     string `json:"expiry"`
	Status     string `json:"status"`
	Balance    string `json:"balance"`
}

type seedStats struct {
	usersCreated int
	cardsCreated int
	cardsSkipped int
}

func main() {
	file := flag.String("file", "", "path to a seed JSON file")
	url := flag.String("url", os.Getenv("SEED_SOURCE"), "URL of a seed JSON document")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.Info("Starting seed script...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.DBDriver == db.DriverMemory {
		log.Fatal("seeding requires a persistent DB_DRIVER")
	}

	data, err := loadSeed(*file, *url)
	if err != nil {
		log.WithError(err).Fatal("failed to load seed data")
	}
	log.Infof("Loaded %d users", len(data.Users))

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	if err := db.Migrate(gormDB); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	cipher, err := cardcipher.NewFromHex(cfg.CardEncryptionKey, cfg.CardLookupKey)
	if err != nil {
		log.WithError(err).Fatal("card cipher init")
	}

	users := repository.NewUserRepository(gormDB)
	directory := service.NewCardDirectory(repository.NewCardRepository(gormDB), cipher, log)
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	stats, err := seed(context.Background(), users, directory, data, log)
	if err != nil {
		log.WithError(err).Fatal("failed to seed")
	}

	log.Info("Seed completed successfully!")
	log.Infof("  - Users created: %d", stats.usersCreated)
	log.Infof("  - Cards created: %d", stats.cardsCreated)
	log.Infof("  - Cards already present: %d", stats.cardsSkipped)

	for _, u := range data.Users {
		token, err := jwtService.GenerateAccessToken(u.Username, time.Hour)
		if err != nil {
			log.WithError(err).Warnf("no token for %s", u.Username)
			continue
		}
		fmt.Printf("%s\t%s\n", u.Username, token)
	}
}

// loadSeed reads the seed document from a file, or from url when no file is given.
func loadSeed(file, url string) (*SeedFile, error) {
	var body []byte
	var err error
	switch {
	case file != "":
		body, err = os.ReadFile(file)
	case url != "":
		body, err = fetch(url)
	default:
		return nil, errors.New("either -file or -url (SEED_SOURCE) is required")
	}
	if err != nil {
		return nil, err
	}
	return parseSeed(body)
}

func fetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seed data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("seed source returned status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parseSeed(body []byte) (*SeedFile, error) {
	var data SeedFile
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	for i, u := range data.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("user %d: username and password are required", i)
		}
	}
	return &data, nil
}

func (c SeedCard) registration(owner model.User) (service.CardRegistration, error) {
	expiry, err := time.Parse("2006-01", c.Expiry)
	if err != nil {
		return service.CardRegistration{}, fmt.Errorf("invalid expiry %q", c.Expiry)
	}
	balance := decimal.Zero
	if c.Balance != "" {
		if balance, err = decimal.NewFromString(c.Balance); err != nil {
			return service.CardRegistration{}, fmt.Errorf("invalid balance %q", c.Balance)
		}
	}
	holder := c.HolderName
	if holder == "" {
		holder = owner.Username
	}
	return service.CardRegistration{
		UserID:     owner.ID,
		Number:     c.Number,
		HolderName: holder,
		// cards expire at the end of their expiry month
		ExpiryDate: expiry.AddDate(0, 1, -1),
		Status:     model.CardStatus(c.Status),
		Balance:    balance,
	}, nil
}

// seed creates missing users and cards. Existing users and already registered card numbers are left as they are.
func seed(ctx context.Context, users repository.UserRepository, directory *service.CardDirectory, data *SeedFile, log *logrus.Logger) (seedStats, error) {
	var stats seedStats
	for _, su := range data.Users {
		user, err := users.FindByUsername(ctx, su.Username)
		if errors.Is(err, repository.ErrNotFound) {
			hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
			if err != nil {
				return stats, fmt.Errorf("hash password for %s: %w", su.Username, err)
			}
			user = &model.User{Username: su.Username, Email: su.Email, PasswordHash: string(hash), Role: "user"}
			if err := users.Create(ctx, user); err != nil {
				return stats, fmt.Errorf("create user %s: %w", su.Username, err)
			}
			stats.usersCreated++
		} else if err != nil {
			return stats, fmt.Errorf("find user %s: %w", su.Username, err)
		}

		for i, sc := range su.Cards {
			if _, err := directory.FindByPlaintextNumber(ctx, sc.Number); err == nil {
				stats.cardsSkipped++
				continue
			} else if !errors.Is(err, apperrors.ErrNotFound) {
				return stats, fmt.Errorf("user %s card %d: %w", su.Username, i, err)
			}

			reg, err := sc.registration(*user)
			if err != nil {
				return stats, fmt.Errorf("user %s card %d: %w", su.Username, i, err)
			}
			card, err := directory.Register(ctx, reg)
			if err != nil {
				return stats, fmt.Errorf("user %s card %d: %w", su.Username, i, err)
			}
			log.WithFields(logrus.Fields{"username": su.Username, "card_id": card.ID}).Info("card registered")
			stats.cardsCreated++
		}
	}
	return stats, nil
}
