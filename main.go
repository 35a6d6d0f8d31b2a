package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/threadfed/activitypub"
	"github.com/deemkeen/threadfed/db"
	"github.com/deemkeen/threadfed/util"
	"github.com/deemkeen/threadfed/web"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          util.Name,
		Short:        "Federation core for a threaded link aggregator",
		Version:      util.GetVersion(),
		SilenceUsage: true,
	}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Migrate the database, then serve inboxes and dispatch outgoing activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(conf *util.AppConfig, database *db.DB, log *zap.Logger) error {
				return serveAll(cmd.Context(), conf, database, log)
			})
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(*util.AppConfig, *db.DB, *zap.Logger) error { return nil })
		},
	}
	root.AddCommand(serve, migrate)
	root.RunE = serve.RunE
	return root
}

// withRuntime loads config, builds the logger and opens a migrated database
func withRuntime(run func(*util.AppConfig, *db.DB, *zap.Logger) error) error {
	conf, err := util.ReadConf()
	if err != nil {
		return err
	}
	log, err := util.NewLogger(conf)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	database, err := db.Open(util.ResolveFilePath(conf.Conf.DatabasePath), log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	log.Info("Running database migrations")
	if err := database.RunMigrations(context.Background()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return run(conf, database, log)
}

func serveAll(ctx context.Context, conf *util.AppConfig, database *db.DB, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := activitypub.NewActivityChannel(conf.Conf.QueueSize, conf.Conf.QueueFullPolicy, log)
	resolver := activitypub.NewObjectResolver(database, activitypub.NewFetcher(nil, log), conf.Conf.SslDomain, 0, log)
	fed, err := activitypub.NewFederation(conf, database, resolver, log, activitypub.WithQueue(queue))
	if err != nil {
		return err
	}

	var verifier activitypub.SignatureVerifier
	if conf.Conf.VerifySignatures {
		verifier = activitypub.HTTPSignatures{}
	}
	if !conf.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := web.NewRateLimiter(rate.Limit(5), 10)
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler: web.NewRouter(conf, web.Deps{
			Inbox:    activitypub.NewInbox(fed),
			Verifier: verifier,
			Outbox:   database,
			Actors:   database,
			Limiter:  limiter,
			Logger:   log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// the consumer drains what is queued even after shutdown starts
	g.Go(func() error {
		queue.Run(context.WithoutCancel(gctx), activitypub.NewRouter(fed))
		return nil
	})
	g.Go(func() error {
		limiter.Sweep(gctx, 5*time.Minute, 30*time.Minute)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting HTTP server", zap.String("version", util.GetNameAndVersion()), zap.String("addr", srv.Addr), zap.String("base_url", conf.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		queue.Close()
		return err
	})
	return g.Wait()
}
