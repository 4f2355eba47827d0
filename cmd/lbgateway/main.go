package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/oklog/pkg/group"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"

	"github.com/prateekgoelmzn/load-balancer-handson/pkg/gateway"
)

func main() {
	var (
		configPath = flag.String("config", "gateway.yml", "path to the gateway config file")
		httpAddr   = flag.String("http-addr", "", "HTTP listen address, overrides the config file")
	)
	flag.Parse()

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		logger.Log("during", "LoadConfig", "err", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Listen = *httpAddr
	}

	var requests metrics.Counter
	{
		requests = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "demo",
			Subsystem: "lb_gateway",
			Name:      "requests_total",
			Help:      "Total count of proxied requests.",
		}, []string{"route", "code", "cache"})
	}
	var duration metrics.Histogram
	{
		duration = prometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
			Namespace: "demo",
			Subsystem: "lb_gateway",
			Name:      "request_duration_seconds",
			Help:      "Proxied request duration in seconds.",
		}, []string{"route", "success"})
	}

	handler, err := gateway.New(cfg, logger, requests, duration)
	if err != nil {
		logger.Log("during", "New", "err", err)
		os.Exit(1)
	}

	var g group.Group
	{
		httpListener, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			logger.Log("transport", "HTTP", "during", "Listen", "err", err)
			os.Exit(1)
		}
		g.Add(func() error {
			logger.Log("transport", "HTTP", "addr", cfg.Listen)
			return http.Serve(httpListener, handler)
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
