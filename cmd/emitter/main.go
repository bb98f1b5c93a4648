// Command emitter reads events as JSON lines on stdin and delivers them
// to a collection endpoint. It flushes what is pending at end of input and
// makes a best-effort send when interrupted.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/apm"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/build"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/config"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/identity"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	finalFlushTimeout = 30 * time.Second
	maxLineSize       = 1024 * 1024
)

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.GetViper()

	err := config.BindFlags(v, pflag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if v.GetBool(config.KEY_VERSION) {
		showVersion()
		return 0
	}

	// Load configuration before logging and APM since both are configured
	// from it.
	err = config.Load(v)
	if err != nil {
		log.Errorf("failed to load configuration: %v", err)
		return 1
	}

	err = log.Setup(
		log.RootLogger,
		v.GetBool(config.KEY_VERBOSE),
		v.GetString(config.KEY_LOG_LEVEL),
		v.GetString(config.KEY_LOG_FILE_NAME),
	)
	if err != nil {
		log.Errorf("failed to setup logging: %v", err)
		return 1
	}

	app, err := apm.Setup(
		v.GetString(config.KEY_APP_NAME),
		v.GetString(config.KEY_LICENSE_KEY),
		log.RootLogger,
	)
	if err != nil {
		log.Errorf("failed to setup APM: %v", err)
		return 1
	}
	defer apm.Shutdown(app)

	store, closeStore, err := openStore(v.GetString(config.KEY_STORAGE_PATH))
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricsAddr := v.GetString(config.KEY_METRICS_ADDR)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg)
	}

	e, err := config.NewEmitter(
		v,
		emitter.WithIdentityStore(store),
		emitter.WithRegisterer(reg),
		emitter.WithApplication(app),
	)
	if err != nil {
		log.Errorf("failed to create emitter: %v", err)
		return 1
	}

	log.Debugf("starting %s with anonymous id %s", build.LibraryName, e.AnonymousID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	teardown := emitter.NotifyTeardown(ctx, e)
	lines, readErrs := readLines(os.Stdin)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return finish(e, readErrs)
			}

			err := handleLine(ctx, e, line)
			if err != nil {
				log.Warnf("%v", err)
			}

		case accepted := <-teardown:
			if !accepted {
				log.Warnf("teardown send was not accepted; pending events were lost")
			}
			return 130
		}
	}
}

func finish(e *emitter.Emitter, readErrs <-chan error) int {
	status := 0

	if err := <-readErrs; err != nil {
		log.Errorf("failed reading input: %v", err)
		status = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()

	err := e.Drain(ctx)
	if err != nil {
		log.Errorf("final flush failed; %d events not delivered: %v", e.Pending(), err)
		status = 1
	}

	e.Shutdown()

	return status
}

func openStore(path string) (identity.Store, func(), error) {
	if path == "" {
		return identity.NewMemoryStore(), func() {}, nil
	}

	store, err := identity.OpenBadgerStore(path)
	if err != nil {
		return nil, nil, err
	}

	return store, func() {
		if err := store.Close(); err != nil {
			log.Warnf("failed to close identity store: %v", err)
		}
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	log.Debugf("serving metrics on %s", addr)

	err := http.ListenAndServe(addr, mux)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnf("metrics server stopped: %v", err)
	}
}

func readLines(f *os.File) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(lines)
		defer close(errs)

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			lines <- append([]byte(nil), line...)
		}

		errs <- scanner.Err()
	}()

	return lines, errs
}

func showVersion() {
	buildInfo := build.GetBuildInfo()

	fmt.Printf(
		"%s Version: %s, Platform: %s, GoVersion: %s, GitCommit: %s, BuildDate: %s\n",
		buildInfo.Name,
		buildInfo.Version,
		fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		runtime.Version(),
		buildInfo.Commit,
		buildInfo.Date,
	)
}
