package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/service/ingress"
	"PRelay/service/relay"
	"PRelay/service/storage"
	redisx "PRelay/service/storage/redis"
	"PRelay/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	conf, err := config.LoadApp()
	if err != nil {
		logger.Errorf("[Relay] load config: %v", err)
		os.Exit(2)
	}
	logger.SetLevel(conf.LogLevel)
	ids.SetNodeID(conf.NodeNum)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		logger.Errorf("[Relay] exit: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, conf *config.AppConfig) error {
	srv := relay.NewServer(relay.NewGate(conf.Secret), conf.Conn, relay.WithAllowedOrigins(conf.AllowedOrigins))
	srv.Start()

	var closers []io.Closer

	// 投递记录：配置了 Redis 就落 Redis，否则进程内
	var dlog storage.DeliveryLog = storage.NewMemoryLog(int(conf.Webhook.RecentKeep))
	if conf.Redis.Addr != "" {
		rdb, err := redisx.NewClient(ctx, redisx.Config{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
			PoolSize: conf.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		closers = append(closers, rdb)
		dlog = storage.NewRedisLog(rdb, conf.Webhook.RecentKeep)
	}
	sink := ingress.NewSink(srv, dlog)

	if len(conf.Nats.Servers) > 0 {
		nc, err := ingress.NewNatsxIngress(ingress.NatsxConfigFrom(conf.Nats, conf.NodeId), sink)
		if err != nil {
			return err
		}
		closers = append(closers, nc)
		if err := nc.Start(); err != nil {
			_ = ingress.CloseAll(closers...)
			return err
		}
	}

	var kc *ingress.KafkaIngress
	if len(conf.Kafka.Brokers) > 0 {
		var err error
		if kc, err = ingress.NewKafkaIngress(conf.Kafka, sink); err != nil {
			_ = ingress.CloseAll(closers...)
			return err
		}
		closers = append(closers, kc)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	middleware.Default().Add(middleware.AccessLog())
	r.Use(gin.Recovery(), middleware.Default().Handler())
	srv.Routes(r)
	sink.Routes(r, srv.Gate())
	hs := &http.Server{Addr: conf.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	gs := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("relay.Relay", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("[HTTP] Listening on %s", conf.HTTPAddr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", conf.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Infof("[gRPC] Listening on %s", conf.GRPCAddr)
		return gs.Serve(lis)
	})
	if kc != nil {
		g.Go(func() error { return kc.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("[Relay] shutting down")
		healthServer.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// 先告知客户端 shutdown，再停监听
		srv.Close()
		err := hs.Shutdown(sctx)
		gs.GracefulStop()
		return multierr.Append(err, ingress.CloseAll(closers...))
	})
	return g.Wait()
}
