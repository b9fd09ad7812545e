package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/otherjamesbrown/penf-linker/config"
	"github.com/otherjamesbrown/penf-linker/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-linker/pkg/db"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/api"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/observability"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/pipeline"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/queues"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/trigger"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// httpShutdownTimeout bounds how long in-flight API requests may finish.
const httpShutdownTimeout = 10 * time.Second

type serveOptions struct {
	httpAddr   string
	healthAddr string
	workers    int
	trigger    bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(deps *Deps) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the linking service",
		Long: `Run the linking service until interrupted.

Starts the analysis and linking workers, the HTTP API (with /metrics,
/healthz and /version), the gRPC health service and the maintenance schedule.
With the trigger enabled, documents changed in the database are analyzed
automatically.

On SIGINT or SIGTERM the service stops accepting work, lets queued tasks
finish within pipeline.shutdown_timeout and reports whether it drained.

Examples:
  penf-linker serve
  penf-linker serve --http-addr :9000 --workers 8 --trigger`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, deps, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP API listen address (default from config)")
	cmd.Flags().StringVar(&opts.healthAddr, "health-addr", "", "gRPC health listen address (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Number of analysis workers (default from config)")
	cmd.Flags().BoolVar(&opts.trigger, "trigger", false, "Analyze documents on database change notifications")

	return cmd
}

// apply overlays the flags that were set onto cfg.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.LinkerConfig) {
	if o.httpAddr != "" {
		cfg.Server.HTTPAddr = o.httpAddr
	}
	if o.healthAddr != "" {
		cfg.Server.HealthAddr = o.healthAddr
	}
	if cmd.Flags().Changed("workers") {
		cfg.Pipeline.AnalysisWorkers = o.workers
	}
	if o.trigger {
		cfg.Trigger.Enabled = true
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *Deps, cfg *config.LinkerConfig) error {
	logger := deps.NewLogger(cfg).With(logging.Component("serve"))
	logger.Info("Starting linker service", logging.F("version", buildinfo.String()))

	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	if _, err := db.RegisterPoolStatsCollector(prometheus.DefaultRegisterer, pool, "penf_linker", api.ServiceName); err != nil {
		logger.Warn("Failed to register pool metrics", logging.Err(err))
	}
	st := store.NewPostgresStore(pool, logger)

	metrics := observability.DefaultMetrics()
	annotator, release, err := deps.NewAnnotator(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("creating annotator: %w", err)
	}
	defer release()

	svcOpts := []pipeline.Option{pipeline.WithMetrics(metrics)}
	var redisClient *redis.Client
	if cfg.Queue.Backend == config.QueueRedis || cfg.Queue.PublishEvents {
		redisClient, err = connectToRedis(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisClient.Close()
	}
	if cfg.Queue.Backend == config.QueueRedis {
		svcOpts = append(svcOpts, pipeline.WithSharedQueues(
			redisQueue(redisClient, cfg, queues.NameAnalysis),
			redisQueue(redisClient, cfg, queues.NameSerialization),
		))
	}
	if cfg.Queue.PublishEvents {
		svcOpts = append(svcOpts, pipeline.WithPublisher(observability.NewRedisPublisher(redisClient, logger)))
	}

	svc, err := newService(cfg, st, annotator, logger, svcOpts...)
	if err != nil {
		return err
	}
	svc.Start()

	maintenance, err := pipeline.NewMaintenance(svc, cfg.Pipeline.SweepSchedule, logger)
	if err != nil {
		svc.Shutdown(0)
		return err
	}
	maintenance.Start()

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithGatherer(prometheus.DefaultGatherer),
		api.WithHealthCheck("database", func(ctx context.Context) error {
			return db.Check(ctx, pool)
		}),
	}
	if redisClient != nil {
		apiOpts = append(apiOpts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	httpServer := api.NewServer(svc, st, apiOpts...).NewHTTPServer(cfg.Server.HTTPAddr)

	healthListener, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		maintenance.Stop()
		svc.Shutdown(0)
		return fmt.Errorf("listening on %s: %w", cfg.Server.HealthAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 3)
	go func() {
		logger.Info("HTTP API listening", logging.F("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("gRPC health listening", logging.F("addr", cfg.Server.HealthAddr))
		if err := grpcServer.Serve(healthListener); err != nil {
			serveErr <- fmt.Errorf("health server: %w", err)
		}
	}()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	if cfg.Trigger.Enabled {
		listener := trigger.NewListener(cfg.Database.ConnectionString(), svc,
			trigger.WithChannel(cfg.Trigger.Channel),
			trigger.WithLogger(logger))
		go func() {
			if err := listener.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				serveErr <- fmt.Errorf("trigger listener: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case runErr = <-serveErr:
		logger.Error("Server failed", logging.Err(runErr))
	}

	healthServer.Shutdown()
	stopRun()

	httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", logging.Err(err))
	}

	maintenance.Stop()
	drained := svc.Shutdown(cfg.Pipeline.ShutdownTimeout)
	grpcServer.GracefulStop()

	out := cmd.OutOrStdout()
	if drained {
		fmt.Fprintln(out, green("Linking service stopped, all queued tasks finished."))
	} else {
		fmt.Fprintln(out, yellow(fmt.Sprintf("Linking service stopped, tasks were still running after %s.", cfg.Pipeline.ShutdownTimeout)))
	}
	return runErr
}

func redisQueue(client *redis.Client, cfg *config.LinkerConfig, name string) queues.Queue {
	qcfg := queues.DefaultConfigs()[name]
	qcfg.PollInterval = cfg.Pipeline.PollInterval
	if cfg.Queue.VisibilityTimeout > 0 {
		qcfg.VisibilityTimeout = cfg.Queue.VisibilityTimeout
	}
	q := queues.NewRedisQueue(client, qcfg)
	if name == queues.NameSerialization {
		// One writer across every process sharing the queues.
		return queues.NewLeasedQueue(q, client, cfg.Queue.LeaseTTL, cfg.Pipeline.PollInterval)
	}
	return q
}
