package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/go-kit/kit/circuitbreaker"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/sd"
	"github.com/go-kit/kit/sd/lb"
)

// proxyRequest is the transport-agnostic capture of one inbound request,
// already rewritten for the backend.
type proxyRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// proxyResponse is what comes back from a backend, plus the cache outcome
// annotation when the route caches.
type proxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Cache      string
}

// errBackendStatus carries a relayable 5xx backend response through the
// error path, so that the circuit breaker counts it while the client still
// sees the backend's actual status.
type errBackendStatus struct {
	resp *proxyResponse
}

func (e *errBackendStatus) Error() string {
	return fmt.Sprintf("backend status %d", e.resp.StatusCode)
}

// hopHeaders are stripped in both directions per RFC 7230 section 6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// New assembles the gateway handler from a validated config. The metrics
// are dependencies; requests wants "route", "code" and "cache" labels,
// duration wants "route" and "success".
func New(cfg *Config, logger log.Logger, requests metrics.Counter, duration metrics.Histogram) (http.Handler, error) {
	r := mux.NewRouter()
	r.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		h, err := newRouteHandler(route, log.With(logger, "route", route.Path), requests, duration)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Path, err)
		}
		r.PathPrefix(route.Path).Handler(h)
	}
	return r, nil
}

// newRouteHandler builds the endpoint chain for one route: per-backend HTTP
// client endpoints wrapped in circuit breakers, round-robin balanced,
// retried within the route's overall budget, optionally cached.
func newRouteHandler(route *RouteConfig, logger log.Logger, requests metrics.Counter, duration metrics.Histogram) (http.Handler, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: time.Duration(route.Timeouts.Dial),
			}).DialContext,
			ResponseHeaderTimeout: time.Duration(route.Timeouts.ResponseHeader),
			MaxIdleConnsPerHost:   16,
		},
	}

	var endpoints []endpoint.Endpoint
	for _, instance := range route.Backends {
		target, err := url.Parse(instance)
		if err != nil {
			return nil, err
		}
		e := backendEndpoint(client, target)
		breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        instance,
			Interval:    time.Duration(route.Health.Window),
			Timeout:     time.Duration(route.Health.Cooldown),
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= route.Health.Failures },
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Log("backend", name, "from", from.String(), "to", to.String())
			},
		})
		endpoints = append(endpoints, circuitbreaker.Gobreaker(breaker)(e))
	}

	balancer := lb.NewRoundRobin(sd.FixedEndpointer(endpoints))
	balanced := lb.RetryWithCallback(time.Duration(route.Timeouts.Overall), balancer, retryPolicy(route.Retries))
	if route.Cache.Enabled {
		balanced = newCache(time.Duration(route.Cache.TTL), route.Cache.VaryQuery).middleware(balanced)
	}

	return &routeHandler{
		route:    route,
		endpoint: balanced,
		logger:   logger,
		requests: requests,
		duration: duration,
	}, nil
}

// retryPolicy retries transport-level failures (dial timeout, connection
// refused, open breaker) on the next backend, up to max attempts. A 5xx
// that actually came back from a backend is not retried: it has already
// been counted against that backend, and the client gets to see it.
func retryPolicy(max int) lb.Callback {
	return func(n int, received error) (bool, error) {
		var status *errBackendStatus
		if errors.As(received, &status) {
			return false, received
		}
		return n < max, nil
	}
}

// backendEndpoint returns an endpoint that forwards a proxyRequest to one
// backend instance. Transport errors come back as errors; so do 5xx
// statuses, wrapped so the response survives for relaying.
func backendEndpoint(client *http.Client, target *url.URL) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		preq := request.(*proxyRequest)

		u := *target
		u.Path = preq.Path
		u.RawQuery = preq.RawQuery
		req, err := http.NewRequestWithContext(ctx, preq.Method, u.String(), bytes.NewReader(preq.Body))
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, preq.Header)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		presp := &proxyResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &errBackendStatus{resp: presp}
		}
		return presp, nil
	}
}

type routeHandler struct {
	route    *RouteConfig
	endpoint endpoint.Endpoint
	logger   log.Logger
	requests metrics.Counter
	duration metrics.Histogram
}

func (h *routeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	begin := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	header := r.Header.Clone()
	for _, k := range hopHeaders {
		header.Del(k)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		header.Add("X-Forwarded-For", host)
	}
	preq := &proxyRequest{
		Method:   r.Method,
		Path:     h.route.Rewrite + strings.TrimPrefix(r.URL.Path, h.route.Path),
		RawQuery: r.URL.RawQuery,
		Header:   header,
		Body:     body,
	}

	response, err := h.endpoint(r.Context(), preq)

	var presp *proxyResponse
	if err == nil {
		presp = response.(*proxyResponse)
	} else {
		// lb.Retry folds attempt errors into a RetryError that does not
		// unwrap, so the relayable backend status has to be dug out of
		// its Final field first.
		var re lb.RetryError
		if errors.As(err, &re) {
			err = re.Final
		}
		var status *errBackendStatus
		if errors.As(err, &status) {
			presp = status.resp
		}
	}

	code := http.StatusBadGateway
	cacheOutcome := "none"
	if presp != nil {
		code = presp.StatusCode
		if presp.Cache != "" {
			cacheOutcome = strings.ToLower(presp.Cache)
		}
	}
	defer func() {
		h.requests.With("route", h.route.Path, "code", fmt.Sprint(code), "cache", cacheOutcome).Add(1)
		h.duration.With("route", h.route.Path, "success", fmt.Sprint(presp != nil)).Observe(time.Since(begin).Seconds())
		h.logger.Log("method", r.Method, "path", r.URL.Path, "code", code, "took", time.Since(begin), "err", err)
	}()

	if presp == nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	copyHeader(w.Header(), presp.Header)
	for _, k := range hopHeaders {
		w.Header().Del(k)
	}
	if presp.Cache != "" {
		w.Header().Set("X-Cache", presp.Cache)
	}
	w.WriteHeader(presp.StatusCode)
	w.Write(presp.Body)
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
