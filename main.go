package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/rewind-fm/rewind/config"
	"github.com/rewind-fm/rewind/db"
	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/service/duration"
	"github.com/rewind-fm/rewind/service/parser"
	"github.com/rewind-fm/rewind/service/pipeline"
	"github.com/rewind-fm/rewind/service/resolver"
	"github.com/rewind-fm/rewind/service/stats"
	"github.com/rewind-fm/rewind/service/youtube"
	"github.com/rewind-fm/rewind/session"
)

type application struct {
	logger         *slog.Logger
	database       *db.DB
	sessionManager *session.SessionManager
	pipeline       *pipeline.Pipeline
	maxUploadBytes int64
}

func main() {
	config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// create data folder if not exists with proper perms
	os.MkdirAll("./data", 0o755)

	database, err := db.New(viper.GetString("db.path"))
	if err != nil {
		log.Fatalf("Error connecting to database: %v", err)
	}

	if err := database.Initialize(); err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}

	sessionManager := session.NewSessionManager(database)

	if err := bootstrapUser(database, sessionManager, logger); err != nil {
		log.Fatalf("Error bootstrapping user: %v", err)
	}

	entryParser := parser.NewWithMaxErrors(viper.GetInt("pipeline.max_parse_errors"))

	provider := youtube.NewClient(viper.GetString("youtube.api_key"))
	provider.SetTimeout(time.Duration(viper.GetInt("youtube.timeout_seconds")) * time.Second)
	metadataResolver := resolver.New(database, provider, entryParser)
	metadataResolver.SetBatching(
		viper.GetInt("youtube.batch_size"),
		time.Duration(viper.GetInt("youtube.batch_delay_ms"))*time.Millisecond,
	)

	location, err := time.LoadLocation(viper.GetString("stats.timezone"))
	if err != nil {
		log.Printf("Warning: invalid stats.timezone %q, using UTC", viper.GetString("stats.timezone"))
		location = time.UTC
	}
	aggregator := stats.New(duration.New(), entryParser, location)

	pipe := pipeline.New(
		database,
		database,
		entryParser,
		metadataResolver,
		aggregator,
		viper.GetInt("pipeline.max_attempts"),
	)

	app := &application{
		logger:         logger,
		database:       database,
		sessionManager: sessionManager,
		pipeline:       pipe,
		maxUploadBytes: viper.GetInt64("pipeline.max_upload_bytes"),
	}

	serverAddr := fmt.Sprintf("%s:%s", viper.GetString("server.host"), viper.GetString("server.port"))
	logger.Info("starting server", "addr", serverAddr)
	log.Fatal(http.ListenAndServe(serverAddr, app.routes()))
}

// bootstrapUser makes sure a fresh database has a usable account. There
// is no signup flow; the first API key is minted here and logged, and
// further keys are managed through /api/v1/keys.
func bootstrapUser(database *db.DB, sessions *session.SessionManager, logger *slog.Logger) error {
	user, err := database.GetUserByID(1)
	if err != nil {
		return err
	}
	if user != nil {
		return nil
	}

	userID, err := database.CreateUser(&models.User{Username: "admin"})
	if err != nil {
		return err
	}

	key, err := sessions.CreateAPIKey(userID, "bootstrap", 365)
	if err != nil {
		return err
	}

	logger.Info("created bootstrap user and API key", "userId", userID, "apiKey", key.ID)
	return nil
}
