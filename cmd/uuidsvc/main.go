package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/oklog/pkg/group"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"

	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidendpoint"
	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidservice"
	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidtransport"
)

func main() {
	var (
		httpAddr  = flag.String("http-addr", ":8080", "HTTP listen address")
		slowDelay = flag.Duration("slow-delay", 30*time.Second, "artificial delay of the get-slow endpoint")
	)
	flag.Parse()

	// Each replica carries an immutable identity so that responses and
	// logs can be told apart once a balancer is in front.
	instanceID := envString("INSTANCE_ID", "default")

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
		logger = log.With(logger, "instance", instanceID)
	}

	var generated metrics.Counter
	{
		generated = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "demo",
			Subsystem: "uuid_service",
			Name:      "uuids_generated_total",
			Help:      "Total count of UUIDs generated.",
		}, []string{})
	}
	var duration metrics.Histogram
	{
		duration = prometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
			Namespace: "demo",
			Subsystem: "uuid_service",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds.",
		}, []string{"method", "success"})
	}

	var svc uuidservice.Service
	{
		svc = uuidservice.New(instanceID, *slowDelay)
		svc = uuidservice.LoggingMiddleware(logger)(svc)
		svc = uuidservice.InstrumentingMiddleware(generated)(svc)
	}

	var (
		endpoints   = uuidendpoint.New(svc, logger, duration)
		httpHandler = uuidtransport.NewHTTPHandler(endpoints, logger)
	)

	var g group.Group
	{
		httpListener, err := net.Listen("tcp", *httpAddr)
		if err != nil {
			logger.Log("transport", "HTTP", "during", "Listen", "err", err)
			os.Exit(1)
		}
		g.Add(func() error {
			logger.Log("transport", "HTTP", "addr", *httpAddr)
			return http.Serve(httpListener, httpHandler)
		}, func(error) {
			httpListener.Close()
		})
	}
	{
		cancelInterrupt := make(chan struct{})
		g.Add(func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-c:
				return fmt.Errorf("received signal %s", sig)
			case <-cancelInterrupt:
				return nil
			}
		}, func(error) {
			close(cancelInterrupt)
		})
	}
	logger.Log("exit", g.Run())
}

func envString(env, fallback string) string {
	e := os.Getenv(env)
	if e == "" {
		return fallback
	}
	return e
}
