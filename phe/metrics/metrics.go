// Package metrics exposes relay and engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheusHen/phe/phe/log"
)

var (
	// Registry holds every phe metric plus the go and process collectors.
	Registry = prometheus.NewRegistry()

	// Encryptions counts client-side encryptions.
	Encryptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phe_encryptions_total",
		Help: "Number of ElGamal encryptions performed",
	})

	// Decryptions counts client-side decryptions.
	Decryptions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phe_decryptions_total",
		Help: "Number of ElGamal decryptions performed",
	})

	// Combines counts homomorphic jobs by operation and outcome.
	Combines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phe_combines_total",
		Help: "Number of homomorphic combine jobs run by the relay",
	}, []string{"op", "status"})

	// CartsRelayed counts carts accepted and forwarded by a relay.
	CartsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phe_carts_relayed_total",
		Help: "Number of encrypted carts stored and forwarded",
	})

	// ComputeDuration observes the time spent inside combine jobs.
	ComputeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phe_compute_duration_seconds",
		Help:    "Time spent computing homomorphic jobs",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})

	// QueueDuration observes how long jobs wait for a worker.
	QueueDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phe_queue_duration_seconds",
		Help:    "Time jobs spend queued before a worker picks them up",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})

	metricsBound sync.Once
)

func bindMetrics(l log.Logger) {
	if err := Registry.Register(collectors.NewGoCollector()); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "goCollector", "err", err)
		return
	}
	if err := Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "processCollector", "err", err)
		return
	}
	for _, c := range []prometheus.Collector{
		Encryptions,
		Decryptions,
		Combines,
		CartsRelayed,
		ComputeDuration,
		QueueDuration,
	} {
		if err := Registry.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "bindMetrics", "err", err)
			return
		}
	}
}

// ObserveJob records one finished homomorphic job.
func ObserveJob(op string, compute, queue time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	Combines.WithLabelValues(op, status).Inc()
	ComputeDuration.WithLabelValues(op).Observe(compute.Seconds())
	QueueDuration.WithLabelValues(op).Observe(queue.Seconds())
}

// Handler returns the /metrics handler, registering collectors on first use.
func Handler(l log.Logger) http.Handler {
	metricsBound.Do(func() {
		bindMetrics(l)
	})
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Serve exposes /metrics on bind until ctx is done. A bare port binds to
// 127.0.0.1.
func Serve(ctx context.Context, logger log.Logger, bind string) error {
	logger.Infow("metrics starting", "desired_port", bind)

	// handle bind being just a port value
	if !strings.Contains(bind, ":") {
		bind = "127.0.0.1:" + bind
	}
	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Warnw("", "metrics", "listen failed", "err", err)
		return err
	}
	logger.Infow("metric listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(logger))

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()
	err = s.Serve(l)
	logger.Warnw("", "metrics", "listen finished", "err", err)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
