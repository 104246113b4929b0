/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package monitoring

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promgo "github.com/prometheus/client_model/go"
	"golang.org/x/sync/errgroup"
)

const (
	scheme         = "http://"
	metricsSubPath = "/metrics"
)

// Provider is a metrics.Provider backed by a private prometheus registry.
type Provider struct {
	logger   types.Logger
	registry *prometheus.Registry
	url      string
}

func NewProvider(logger types.Logger) *Provider {
	return &Provider{logger: logger, registry: prometheus.NewRegistry()}
}

// StartPrometheusServer serves the registry on listener until ctx is cancelled.
// The monitor functions run alongside the server with a context that is cancelled
// when the server stops; the method returns after all of them returned.
func (p *Provider) StartPrometheusServer(ctx context.Context, listener net.Listener, monitor ...func(context.Context)) error {
	mux := http.NewServeMux()
	mux.Handle(metricsSubPath, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry}))
	server := &http.Server{
		ReadTimeout: 30 * time.Second,
		Handler:     mux,
	}

	var err error
	if p.url, err = MakeMetricsURL(listener.Addr().String()); err != nil {
		return errors.Wrap(err, "failed formatting URL")
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.logger.Infof("Prometheus serving on URL: %s", p.url)
		defer p.logger.Infof("Prometheus stopped serving")
		return server.Serve(listener)
	})
	for _, m := range monitor {
		g.Go(func() error {
			m(gCtx)
			return nil
		})
	}

	stop := context.AfterFunc(ctx, func() {
		if errClose := server.Close(); errClose != nil {
			p.logger.Warnf("Failed closing prometheus server: %v", errClose)
		}
	})
	defer stop()

	if err = g.Wait(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "prometheus server stopped with an error")
	}
	return nil
}

// URL is empty until the server started.
func (p *Provider) URL() string {
	return p.url
}

func MakeMetricsURL(address string) (string, error) {
	return url.JoinPath(scheme, address, metricsSubPath)
}

func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// NewCounter registers a counter vector. Without label names the returned
// counter is usable directly, otherwise With must select the labels first.
func (p *Provider) NewCounter(o metrics.CounterOpts) metrics.Counter {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
	}, o.LabelNames)
	p.registry.MustRegister(cv)

	c := &Counter{cv: cv}
	if len(o.LabelNames) == 0 {
		c.Counter = cv.WithLabelValues()
	}
	return c
}

func (p *Provider) NewGauge(o metrics.GaugeOpts) metrics.Gauge {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
	}, o.LabelNames)
	p.registry.MustRegister(gv)

	g := &Gauge{gv: gv}
	if len(o.LabelNames) == 0 {
		g.Gauge = gv.WithLabelValues()
	}
	return g
}

func (p *Provider) NewHistogram(o metrics.HistogramOpts) metrics.Histogram {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
		Buckets:   o.Buckets,
	}, o.LabelNames)
	p.registry.MustRegister(hv)

	h := &Histogram{hv: hv}
	if len(o.LabelNames) == 0 {
		h.Histogram = hv.WithLabelValues().(prometheus.Histogram)
	}
	return h
}

type Counter struct {
	prometheus.Counter
	cv *prometheus.CounterVec
}

func (c *Counter) With(labelValues ...string) metrics.Counter {
	return &Counter{Counter: c.cv.WithLabelValues(labelValues...), cv: c.cv}
}

type Gauge struct {
	prometheus.Gauge
	gv *prometheus.GaugeVec
}

func (g *Gauge) With(labelValues ...string) metrics.Gauge {
	return &Gauge{Gauge: g.gv.WithLabelValues(labelValues...), gv: g.gv}
}

type Histogram struct {
	prometheus.Histogram
	hv *prometheus.HistogramVec
}

func (h *Histogram) With(labelValues ...string) metrics.Histogram {
	return &Histogram{Histogram: h.hv.WithLabelValues(labelValues...).(prometheus.Histogram), hv: h.hv}
}

// GetMetricValue reads the current value of a metric created by a Provider.
// Metrics of other providers, such as the disabled one, read as zero.
func GetMetricValue(m any, logger types.Logger) float64 {
	pm, ok := m.(prometheus.Metric)
	if !ok {
		return 0
	}

	gm := promgo.Metric{}
	if err := pm.Write(&gm); err != nil {
		logger.Warnf("Failed reading metric: %v", err)
		return 0
	}

	switch {
	case gm.Gauge != nil:
		return gm.Gauge.GetValue()
	case gm.Counter != nil:
		return gm.Counter.GetValue()
	case gm.Untyped != nil:
		return gm.Untyped.GetValue()
	case gm.Histogram != nil:
		return gm.Histogram.GetSampleSum()
	default:
		logger.Warnf("Unsupported metric %s", pm.Desc())
		return 0
	}
}
