// Package main runs the poll bot: Discord gateway, poll controller, admin HTTP API,
// websocket scoreboard and the website vote worker.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/charpoll/backend/config"
	"github.com/charpoll/backend/internal/auth"
	"github.com/charpoll/backend/internal/chat"
	"github.com/charpoll/backend/internal/middleware"
	"github.com/charpoll/backend/internal/poll"
	"github.com/charpoll/backend/internal/polls"
	"github.com/charpoll/backend/internal/realtime"
	"github.com/charpoll/backend/internal/store"
	"github.com/charpoll/backend/internal/weight"
	"github.com/charpoll/backend/internal/worker"
	"github.com/charpoll/backend/pkg/database"
	"github.com/charpoll/backend/pkg/queue"
	"github.com/charpoll/backend/pkg/redis"
	"github.com/charpoll/backend/pkg/response"
	"github.com/charpoll/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal("discord session", zap.Error(err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers
	if err := session.Open(); err != nil {
		logger.Fatal("discord login", zap.Error(err))
	}
	defer session.Close()

	platform := chat.NewDiscord(session, logger)
	logger.Info("discord connected", zap.String("bot_id", platform.BotUserID()))

	// Option images: S3 when a bucket is configured, otherwise a static base URL.
	var (
		uploader polls.ImageUploader
		images   poll.ImageSource = storage.StaticImages{BaseURL: cfg.Poll.ImageBaseURL}
	)
	if cfg.AWS.ImagesBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.ImagesBucket,
			Prefix:          cfg.AWS.ImagesPrefix,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			uploader, images = s3Client, s3Client
		}
	}

	// Weights
	levels := weight.NewCachedLevels(
		weight.NewLevelRepository(pool),
		rdb.Client,
		time.Duration(cfg.Poll.LevelCacheSec)*time.Second,
		logger,
	)
	calculator := weight.NewCalculator(platform, levels, weight.Rules{
		TierRoles:       cfg.Poll.TierRoles,
		SupporterRoleID: cfg.Poll.SupporterRoleID,
		SupporterBonus:  cfg.Poll.SupporterBonus,
		LevelBonus:      cfg.Poll.LevelBonus,
	}, logger)

	// Scoreboard
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	loc, err := time.LoadLocation(cfg.Poll.TimeZone)
	if err != nil {
		logger.Warn("unknown time zone, using UTC", zap.String("tz", cfg.Poll.TimeZone), zap.Error(err))
		loc = time.UTC
	}

	// Poll controller
	repo := store.NewRepository(pool)
	ctrl := poll.NewController(ctx, platform, poll.NewGateway(repo, logger), calculator, poll.Config{
		PollID:          cfg.Poll.ID,
		GuildID:         cfg.Discord.GuildID,
		ChannelID:       cfg.Discord.PollChannelID,
		RefreshInterval: time.Duration(cfg.Poll.RefreshIntervalSec) * time.Second,
		Markers:         poll.NewMarkers(cfg.Poll.EmojiEleven, cfg.Poll.EmojiTwelve),
		Location:        loc,
		Images:          images,
		Publisher:       hub,
	}, logger)
	defer ctrl.Close()

	if err := ctrl.Resume(ctx); err != nil {
		logger.Warn("resume failed", zap.Error(err))
	}

	// Website votes
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewWebsiteVoteProcessor(repo, jobQueue, logger)
	go processor.Run(ctx)
	logger.Info("website vote worker started")

	// HTTP
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	pollHandler := polls.NewHandler(ctrl, jobQueue, uploader, cfg.Poll.ID, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if !rdb.Healthy(c.Request.Context()) || pool.Ping(c.Request.Context()) != nil {
			response.ServiceUnavailable(c, "dependencies unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	pollHandler.RegisterRoutes(router, jwtService)
	router.GET("/ws", realtime.ServeWs(hub, logger, cfg.Poll.ID))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("bot stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
