package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPChat/config"
	"PPChat/global"
	"PPChat/logger"
	mid "PPChat/middleware"
	midsec "PPChat/middleware/security"
	"PPChat/service/broker"
	"PPChat/service/chat"
	"PPChat/service/chat/handlers"
	"PPChat/service/metrics"
	"PPChat/service/sink"
	"PPChat/service/storage"
	rds "PPChat/service/storage/redis"
	"PPChat/service/store"
	"PPChat/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := run(); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) 配置
	cfg, err := global.Load(os.Getenv("PPCHAT_CONFIG"))
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()
	if err := global.SetTunables(cfg.Tunables); err != nil {
		return err
	}
	ids.SetNodeID(cfg.NodeID)

	if cfg.Nacos.Enabled {
		w, err := config.StartNacosWatcher(cfg.Nacos)
		if err != nil {
			logger.Warn("[nacos] watcher disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	// 2) 存储
	cacheRDB, err := rds.NewClient(ctx, rds.Config{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.CacheDB, PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	defer cacheRDB.Close()

	pg, err := store.NewPgStore(ctx, store.PgConfig{
		DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns, Schema: cfg.Postgres.Schema,
	})
	if err != nil {
		return err
	}
	defer pg.Close()

	// 3) broker
	b, err := newBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	var sk sink.Sink = sink.Noop{}
	if cfg.Kafka.Enabled {
		ks, err := sink.NewKafkaSink(sink.KafkaConfig{
			Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic,
			Retries: cfg.Kafka.Retries, Compression: cfg.Kafka.Compression,
		})
		if err != nil {
			return err
		}
		sk = ks
	}
	defer sk.Close()

	// 4) relay
	reg := chat.NewRegistry(b)
	presence := chat.NewPresence(storage.NewPresenceStore(cacheRDB), reg, pg)
	disp := chat.NewDispatcher()
	handlers.RegisterAll(disp)
	srv := chat.NewServer(reg, pg, presence,
		storage.NewResponseCache(cacheRDB), storage.NewWindowLimiter(cacheRDB), sk, disp,
		chat.Options{
			SendQueueSize: cfg.Server.SendQueueSize,
			MaxFrameBytes: cfg.Server.MaxFrameBytes,
			NodeID:        cfg.NodeID,
		})

	// 5) gRPC health
	gs := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", cfg.Server.GrpcAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("[gRPC] listening", zap.String("addr", cfg.Server.GrpcAddr))
		if err := gs.Serve(lis); err != nil {
			logger.Error("[gRPC] server failed", zap.Error(err))
		}
	}()
	defer gs.GracefulStop()

	// 6) HTTP + WebSocket
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog())
	mids := mid.NewManager()
	mids.Add(mid.Origin(cfg.Server.AllowedOrigins))
	r.Use(mids.Use())

	secOpts := midsec.DefaultOptions([]byte(cfg.Auth.JwtSecret))
	secOpts.CookieName = cfg.Auth.CookieName
	secOpts.JWT.Alg = cfg.Auth.Algorithm
	mid.GET(r, cfg.Server.WsPath, srv.HandleWS, mid.RouteOpt{Auth: midsec.Middleware(secOpts, pg)})
	mid.GET(r, "/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "topics": len(reg.Topics())})
	}, mid.RouteOpt{})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	hs := &http.Server{Addr: cfg.Server.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.Server.Addr), zap.String("ws", cfg.Server.WsPath))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

func newBroker(ctx context.Context, cfg *global.AppConfig) (broker.Broker, error) {
	switch cfg.Broker.Kind {
	case "nats":
		return broker.NewNatsBroker(broker.NatsConfig{
			Servers:    cfg.Broker.NatsServers,
			Name:       "ppchat-relay",
			User:       cfg.Broker.NatsUser,
			Pass:       cfg.Broker.NatsPass,
			BufferSize: cfg.Broker.BufferSize,
		})
	case "memory":
		return broker.NewMemoryBroker(cfg.Broker.BufferSize), nil
	default:
		client, err := rds.NewClient(ctx, rds.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.BrokerDB, PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		return broker.NewRedisBroker(ctx, client, cfg.Broker.BufferSize), nil
	}
}
