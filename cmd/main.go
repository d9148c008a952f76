package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bugsnag/panicwrap"
	"github.com/seventv/common/mongo"
	"github.com/seventv/common/redis"
	"github.com/seventv/relay/internal/configure"
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/health"
	"github.com/seventv/relay/internal/monitoring"
	"github.com/seventv/relay/internal/rest"
	"github.com/seventv/relay/internal/svc/aliases"
	"github.com/seventv/relay/internal/svc/auth"
	"github.com/seventv/relay/internal/svc/channelbus"
	"github.com/seventv/relay/internal/svc/limiter"
	"github.com/seventv/relay/internal/svc/presences"
	"github.com/seventv/relay/internal/svc/prometheus"
	"github.com/seventv/relay/internal/svc/registry"
	"go.uber.org/zap"
)

var (
	Version = "development"
	Unix    = ""
	Time    = "unknown"
	User    = "unknown"
)

func init() {
	debug.SetGCPercent(2000)
	if i, err := strconv.Atoi(Unix); err == nil {
		Time = time.Unix(int64(i), 0).Format(time.RFC3339)
	}
}

func main() {
	config := configure.New()

	exitStatus, err := panicwrap.BasicWrap(func(s string) {
		zap.S().Errorw("panic detected",
			"panic", s,
		)
	})
	if err != nil {
		zap.S().Errorw("failed to setup panic handler",
			"error", err,
		)
		os.Exit(2)
	}

	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	if !config.NoHeader {
		zap.S().Info("7TV Relay")
		zap.S().Infof("Version: %s", Version)
		zap.S().Infof("build.Time: %s", Time)
		zap.S().Infof("build.User: %s", User)
	}

	zap.S().Debugf("MaxProcs: %d", runtime.GOMAXPROCS(0))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	{
		gCtx.Inst().Redis, err = redis.Setup(gCtx, redis.SetupOptions{
			Username:   config.Redis.Username,
			Password:   config.Redis.Password,
			Database:   config.Redis.Database,
			Sentinel:   config.Redis.Sentinel,
			Addresses:  config.Redis.Addresses,
			MasterName: config.Redis.MasterName,
		})
		if err != nil {
			zap.S().Fatalw("failed to setup redis handler",
				"error", err,
			)
		}
	}

	{
		gCtx.Inst().Mongo, err = mongo.Setup(gCtx, mongo.SetupOptions{
			URI:    config.Mongo.URI,
			DB:     config.Mongo.DB,
			Direct: config.Mongo.Direct,
		})
		if err != nil {
			zap.S().Fatalw("failed to setup mongo handler",
				"error", err,
			)
		}
	}

	{
		gCtx.Inst().Prometheus = prometheus.New(prometheus.Options{
			Labels: config.Monitoring.Labels.ToPrometheus(),
		})
	}

	{
		gCtx.Inst().Auth = auth.New(auth.AuthorizerOptions{
			JWTSecret: config.JWT.Secret,
			Domain:    config.JWT.Domain,
			Secure:    config.JWT.Secure,
		})
	}

	{
		gCtx.Inst().Limiter, err = limiter.New(gCtx, gCtx.Inst().Redis)
		if err != nil {
			zap.S().Fatalw("failed to setup limiter",
				"error", err,
			)
		}
	}

	{
		gCtx.Inst().Registry = registry.New()

		gCtx.Inst().Presences = presences.New(presences.Options{
			Redis:         gCtx.Inst().Redis,
			SnapshotTTL:   config.Presence.SnapshotTTL,
			ClientTimeout: config.Session.ClientTimeout,
		})

		gCtx.Inst().Bus = channelbus.New(gCtx, channelbus.Options{
			Redis:   gCtx.Inst().Redis,
			Metrics: gCtx.Inst().Prometheus,
		})

		gCtx.Inst().Aliases = aliases.New(aliases.Options{
			Mongo:     gCtx.Inst().Mongo,
			Canonical: gCtx.Inst().Bus.UserChannel,
		})
	}

	wg := sync.WaitGroup{}

	if gCtx.Config().Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-health.New(gCtx)
		}()
	}
	if gCtx.Config().Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-monitoring.New(gCtx)
		}()
	}

	done := make(chan struct{})
	go func() {
		<-sig
		cancel()
		go func() {
			select {
			case <-time.After(time.Minute):
			case <-sig:
			}
			zap.S().Fatal("force shutdown")
		}()

		zap.S().Info("shutting down")

		wg.Wait()

		close(done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rest.New(gCtx); err != nil {
			zap.S().Fatalw("rest failed",
				"error", err,
			)
		}
	}()

	zap.S().Info("running")

	<-done

	zap.S().Info("shutdown")
	os.Exit(0)
}
