package stats

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const metricsNamespace = "cacheload"

var (
	iterationsDesc = prometheus.NewDesc(metricsNamespace+"_iterations_total",
		"Iterations by outcome.", []string{"outcome"}, nil)
	rpcDesc = prometheus.NewDesc(metricsNamespace+"_rpc_total",
		"RPCs issued by operation.", []string{"op"}, nil)
	rpcErrorsDesc = prometheus.NewDesc(metricsNamespace+"_rpc_errors_total",
		"RPCs that got no response, by operation.", []string{"op"}, nil)
	rpcLatencyDesc = prometheus.NewDesc(metricsNamespace+"_rpc_latency_microseconds",
		"RPC latency since start of run.", []string{"op", "quantile"}, nil)
	connErrorsDesc = prometheus.NewDesc(metricsNamespace+"_connection_errors_total",
		"Connections that could not be established.", nil, nil)
	checksDesc = prometheus.NewDesc(metricsNamespace+"_checks_total",
		"Check evaluations by name and outcome.", []string{"check", "outcome"}, nil)
)

// Collector exposes a WorkloadStats to Prometheus, read at scrape time.
type Collector struct {
	stats *WorkloadStats
}

func NewCollector(ws *WorkloadStats) *Collector {
	return &Collector{stats: ws}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- iterationsDesc
	ch <- rpcDesc
	ch <- rpcErrorsDesc
	ch <- rpcLatencyDesc
	ch <- connErrorsDesc
	ch <- checksDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ws := c.stats
	ch <- prometheus.MustNewConstMetric(iterationsDesc, prometheus.CounterValue, float64(ws.FullIterations.Load()), "full")
	ch <- prometheus.MustNewConstMetric(iterationsDesc, prometheus.CounterValue, float64(ws.PartialIterations.Load()), "partial")
	ch <- prometheus.MustNewConstMetric(iterationsDesc, prometheus.CounterValue, float64(ws.FailedIterations.Load()), "failed")
	ch <- prometheus.MustNewConstMetric(iterationsDesc, prometheus.CounterValue, float64(ws.InterruptedIterations.Load()), "interrupted")
	ch <- prometheus.MustNewConstMetric(connErrorsDesc, prometheus.CounterValue, float64(ws.ConnectionErrors.Load()))

	for _, op := range Ops {
		ps := ws.OpStats[op]
		total, failed := ps.Counts()
		ch <- prometheus.MustNewConstMetric(rpcDesc, prometheus.CounterValue, float64(total), op)
		ch <- prometheus.MustNewConstMetric(rpcErrorsDesc, prometheus.CounterValue, float64(failed), op)

		lat := ps.Overall()
		for _, q := range []struct {
			label string
			value int64
		}{{"0.5", lat.P50}, {"0.95", lat.P95}, {"0.99", lat.P99}, {"1", lat.Max}} {
			ch <- prometheus.MustNewConstMetric(rpcLatencyDesc, prometheus.GaugeValue, float64(q.value), op, q.label)
		}
	}

	for _, cc := range ws.Checks() {
		ch <- prometheus.MustNewConstMetric(checksDesc, prometheus.CounterValue, float64(cc.Passed), cc.Name, "pass")
		ch <- prometheus.MustNewConstMetric(checksDesc, prometheus.CounterValue, float64(cc.Failed), cc.Name, "fail")
		ch <- prometheus.MustNewConstMetric(checksDesc, prometheus.CounterValue, float64(cc.Skipped), cc.Name, "skip")
	}
}

// MetricsHandler serves ws on a private registry together with the Go
// runtime and process collectors.
func MetricsHandler(ws *WorkloadStats) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(ws),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ServeMetrics serves /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, ws *WorkloadStats, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(ws))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
