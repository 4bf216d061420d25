package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/racesim/log"
	"github.com/mpapenbr/racesim/pkg/config"
	httpserver "github.com/mpapenbr/racesim/pkg/http/server"
	"github.com/mpapenbr/racesim/pkg/lobby"
	"github.com/mpapenbr/racesim/pkg/publish"
	"github.com/mpapenbr/racesim/pkg/scheduler"
	"github.com/mpapenbr/racesim/pkg/sim"
	"github.com/mpapenbr/racesim/pkg/track"
	"github.com/mpapenbr/racesim/pkg/utils"
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the race simulation server",
		PreRun: func(cmd *cobra.Command, args []string) {
			// PORT is honoured for container platforms unless --addr was given
			if port := os.Getenv("PORT"); port != "" && !cmd.Flags().Changed("addr") {
				config.Addr = ":" + port
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.Addr,
		"addr",
		"a",
		"localhost:3000",
		"HTTP server listen address")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format (json, text)")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules, e.g. '*:* -debug:racesim.broadcast*'")
	cmd.Flags().DurationVar(&config.TickPeriod,
		"tick-period",
		scheduler.DefaultPeriod,
		"period of the simulation cycle")
	cmd.Flags().IntVar(&config.MaxAI,
		"max-ai",
		lobby.DefaultMaxAI,
		"max number of AI cars on lobby creation")
	cmd.Flags().DurationVar(&config.LobbyIdleTimeout,
		"lobby-idle-timeout",
		15*time.Minute,
		"lobbies without subscribers are removed after this idle duration (0 disables)")
	cmd.Flags().IntVar(&config.SubscriberBuffer,
		"subscriber-buffer",
		16,
		"number of snapshots buffered per stream subscriber")
	cmd.Flags().StringVar(&config.TrackFile,
		"track-file",
		"",
		"YAML track definition (default: built-in Monza)")
	cmd.Flags().StringVar(&config.PublicDir,
		"public-dir",
		"",
		"directory with the browser client")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"mirror lobby snapshots to this NATS server")
	cmd.Flags().DurationVar(&config.WaitForServices,
		"wait-for-services",
		15*time.Second,
		"duration to wait for the NATS server to be reachable")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data ('stdout' prints to console)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() (*log.Logger, error) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogFilter != "" {
		filter, err := log.WithFilter(config.LogFilter)
		if err != nil {
			return nil, fmt.Errorf("invalid log filter: %w", err)
		}
		opts = append(opts, filter)
	}
	switch config.LogFormat {
	case "json":
		return log.New(os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel), opts...), nil
	default:
		return log.DevLogger(os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel), opts...), nil
	}
}

// re-apply the log level when the config file changes
func watchConfig(logger *log.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !viper.IsSet("log-level") {
			return
		}
		level, err := log.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			logger.Warn("ignoring invalid log level", log.ErrorField(err))
			return
		}
		logger.SetLevel(level)
		logger.Info("log level changed",
			log.String("file", e.Name),
			log.String("level", level.String()))
	})
	viper.WatchConfig()
}

func loadTrack() (*track.Track, error) {
	if config.TrackFile == "" {
		return track.Monza(), nil
	}
	return track.Load(config.TrackFile)
}

func setupPublisher(ctx context.Context) publish.Publisher {
	if config.NatsURL == "" {
		return publish.Nop()
	}
	if addr := utils.ExtractFromNatsURL(config.NatsURL); addr != "" {
		if err := utils.WaitForTCP(ctx, addr, config.WaitForServices); err != nil {
			log.Warn("NATS not ready, mirror disabled", log.ErrorField(err))
			return publish.Nop()
		}
	}
	p, err := publish.Connect(config.NatsURL)
	if err != nil {
		log.Warn("Could not connect to NATS, mirror disabled",
			log.String("url", config.NatsURL), log.ErrorField(err))
		return publish.Nop()
	}
	log.Info("Mirroring snapshots to NATS", log.String("url", config.NatsURL))
	return p
}

//nolint:funlen,cyclop // by design
func startServer(ctx context.Context) error {
	var telemetry *config.Telemetry
	logger, err := setupLogger()
	if err != nil {
		return err
	}
	log.ResetDefault(logger)
	//nolint:errcheck // best effort
	defer logger.Sync()
	watchConfig(logger)

	log.Debug("Config:",
		log.String("addr", config.Addr),
		log.Duration("tickPeriod", config.TickPeriod),
		log.Int("maxAI", config.MaxAI),
		log.Duration("lobbyIdleTimeout", config.LobbyIdleTimeout),
		log.String("trackFile", config.TrackFile),
		log.String("natsUrl", config.NatsURL),
	)

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err = config.SetupTelemetry(context.Background()); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	t, err := loadTrack()
	if err != nil {
		log.Error("track could not be loaded",
			log.String("file", config.TrackFile), log.ErrorField(err))
		return err
	}
	log.Info("Track loaded",
		log.String("name", t.Name()), log.Float64("length", t.Length()))

	pub := setupPublisher(ctx)
	defer pub.Close()

	registry := lobby.NewRegistry(
		lobby.WithTrack(t),
		lobby.WithMaxAI(config.MaxAI),
		lobby.WithIdleTimeout(config.LobbyIdleTimeout),
		lobby.WithSubscriberBuffer(config.SubscriberBuffer),
		lobby.WithOnCreate(func(l *lobby.Lobby) { pub.PublishCreated(ctx, l.ID()) }),
		lobby.WithOnRemove(func(l *lobby.Lobby) { pub.PublishRemoved(ctx, l.ID()) }),
	)
	defer registry.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(registry, sim.NewEngine(t),
		scheduler.WithPeriod(config.TickPeriod),
		scheduler.WithPublisher(pub))
	go sched.Run(ctx)

	mux := httpserver.NewMux(httpserver.Config{
		Registry:  registry,
		PublicDir: config.PublicDir,
	})
	//nolint:gosec // by design
	server := &http.Server{
		Addr:    config.Addr,
		Handler: h2c.NewHandler(newCORS().Handler(mux), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", log.String("addr", config.Addr))
		errChan <- server.ListenAndServe()
	}()
	setupGoRoutinesDump()

	select {
	case err = <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server could not be started", log.ErrorField(err))
			return err
		}
	case <-ctx.Done():
		log.Debug("Got signal", log.ErrorField(context.Cause(ctx)))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.ShutdownGracePeriod)
	defer cancel()
	registry.Close() // ends all open streams
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", log.ErrorField(err))
	}
	if telemetry != nil {
		telemetry.Shutdown()
	}
	log.Info("Server terminated")
	return nil
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func newCORS() *cors.Cors {
	// The browser client may be served from anywhere, so CORS is fully open.
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Trace-ID"},
		MaxAge:         int(2 * time.Hour / time.Second),
	})
}
