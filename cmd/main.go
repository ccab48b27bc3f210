package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gopher0727/TeamLoom/config"
	"github.com/Gopher0727/TeamLoom/internal/events"
	"github.com/Gopher0727/TeamLoom/internal/fanout"
	"github.com/Gopher0727/TeamLoom/internal/handlers"
	"github.com/Gopher0727/TeamLoom/internal/presence"
	"github.com/Gopher0727/TeamLoom/internal/repositories"
	"github.com/Gopher0727/TeamLoom/internal/routers"
	"github.com/Gopher0727/TeamLoom/internal/services"
	"github.com/Gopher0727/TeamLoom/internal/storage"
	"github.com/Gopher0727/TeamLoom/internal/ws"
	"github.com/Gopher0727/TeamLoom/middleware/jwt"
	logger "github.com/Gopher0727/TeamLoom/middleware/log"
	"github.com/Gopher0727/TeamLoom/utils/ratelimit"
	"github.com/Gopher0727/TeamLoom/utils/snowflake"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "teamloom: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("配置初始化失败: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.InitPostgres(cfg.Postgres, log.Component("postgres"))
	if err != nil {
		return fmt.Errorf("postgres 初始化失败: %w", err)
	}

	// 没有 Redis 时退化为单节点：本地投递、不限流、无在线状态
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = storage.InitRedis(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, running as a single node", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	store := repositories.NewGateway(db, rdb)
	router := fanout.NewRouter(cfg.Fanout.Shards, log.Component("fanout"))
	relay := fanout.NewRelay(router, rdb, cfg.Fanout.RelayChannel, log.Component("relay"))

	// Kafka 不可用时直接写 activity 表
	recorder := events.NewRecorder(store.Activities)
	var publisher events.Publisher = recorder
	var consumerGroup sarama.ConsumerGroup
	if cfg.Kafka.Enabled {
		publisher, consumerGroup = startKafka(cfg.Kafka, recorder, log)
		if kp, ok := publisher.(*events.KafkaPublisher); ok {
			defer kp.Close()
		}
	}

	ids, err := snowflake.NewGenerator(cfg.Server.NodeID)
	if err != nil {
		return fmt.Errorf("server.node_id: %w", err)
	}
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours)

	notify := services.NewNotificationService(store, relay, log.Component("notifications"))
	members := services.NewMembershipService(store, notify, publisher, log.Component("membership"))
	chat := services.NewChatService(store, ids, cfg.Chat.MaxContentLength, cfg.Chat.HistoryLimit)
	accounts := services.NewAccountService(store, tokens)

	tracker := presence.NewTracker(rdb)
	limiter := ratelimit.NewLimiter(rdb, log.Component("ratelimit"), cfg.RateLimit.FailOpen)
	rules := ratelimit.RulesFrom(cfg.RateLimit)
	wsOpts := ws.OptionsFrom(cfg.Websocket, cfg.Server.AllowedOrigins)

	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	routers.SetupRoutes(engine, routers.Deps{
		Config:   cfg,
		Log:      log,
		Tokens:   tokens,
		Limiter:  limiter,
		Rules:    rules,
		Auth:     handlers.NewAuthHandler(accounts, log.Component("http")),
		Groups:   handlers.NewGroupHandler(members, tracker, log.Component("http")),
		Messages: handlers.NewMessageHandler(chat, relay, log.Component("http")),
		Notices:  handlers.NewNotificationHandler(notify, log.Component("http")),
		Health:   handlers.NewHealthHandler(db, rdb),
		Chat: ws.NewChatHandler(ws.ChatDeps{
			Members:  members,
			Chat:     chat,
			Router:   router,
			Bus:      relay,
			Presence: tracker,
			Limiter:  limiter,
			Rule:     rules.Message,
		}, wsOpts, log.Component("chat")),
		Notify: ws.NewNotificationHandler(notify, router, wsOpts, log.Component("notify-ws")),
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	if consumerGroup != nil {
		projector := events.NewProjector(recorder, log.Component("projector"))
		g.Go(func() error {
			return events.Consume(gctx, consumerGroup, cfg.Kafka.Topic, projector, log.Component("consumer"))
		})
	}
	g.Go(func() error {
		log.Info("正在启动服务器", zap.Int("port", cfg.Server.Port), zap.Int64("node_id", cfg.Server.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// startKafka returns the publisher to use and, when the producer is up, the
// consumer group projecting events into the activity feed. Any failure keeps
// the recorder as the publisher.
func startKafka(cfg config.KafkaConfig, recorder *events.Recorder, log *logger.Logger) (events.Publisher, sarama.ConsumerGroup) {
	producer, err := events.NewSyncProducer(cfg)
	if err != nil {
		log.Warn("kafka producer unavailable, recording activity directly", zap.Error(err))
		return recorder, nil
	}
	group, err := events.NewConsumerGroup(cfg)
	if err != nil {
		log.Warn("kafka consumer unavailable, recording activity directly", zap.Error(err))
		_ = producer.Close()
		return recorder, nil
	}
	return events.NewKafkaPublisher(producer, cfg.Topic, recorder, log.Component("events")), group
}
