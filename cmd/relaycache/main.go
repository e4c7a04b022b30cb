package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaycache/relaycache"
	"github.com/relaycache/relaycache/pkg/config"
	"github.com/relaycache/relaycache/pkg/control"
)

var (
	verbosityTraceFlag bool
	logFilenameFlag    string

	// set by goreleaser
	version string
)

func init() {
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()
	setupLogging()

	if flag.NArg() < 1 {
		log.Fatal().Msg("usage: relaycache [-vv] [-log-file FILE] CONFIG_FILE")
	}
	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}

	websocketEnabled := cfg.Server.WebsocketEnabledOrDefault()
	proxy, bus, err := relaycache.CreateProxy(relaycache.Config{
		BackendURL:       cfg.Server.BackendURL,
		IncludePaths:     cfg.Server.IncludePaths,
		ExcludePaths:     cfg.Server.ExcludePaths,
		WebsocketEnabled: &websocketEnabled,
		ForwardGetOnly:   cfg.Server.ForwardGetOnly,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("could not create proxy")
	}
	defer proxy.Close()

	proxyServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.ProxyPort),
		Handler: withRequestLogging(proxy),
	}
	controlServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.ControlPort),
		Handler: withRequestLogging(control.Router(bus, cfg.Server.ControlAuth)),
	}

	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", proxyServer.Addr).Str("backend", cfg.Server.BackendURL).Msg("proxy listening")
		errs <- proxyServer.ListenAndServe()
	}()
	go func() {
		log.Info().Str("addr", controlServer.Addr).Msg("control listening")
		errs <- controlServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listener failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		proxyServer.Shutdown(context.Background())
		controlServer.Shutdown(context.Background())
	}
}

func setupLogging() {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if logFilenameFlag != "" {
		f, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot open log file")
		}
		logOutputs = append(logOutputs, f)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).With().Str("version", version).Logger()
}

// withRequestLogging attaches a request-scoped logger carrying a
// correlation ID to every inbound request's context, retrievable
// downstream via hlog.FromRequest.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.Logger.With().
			Str("req_id", uuid.New().String()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}
