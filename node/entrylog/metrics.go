/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package entrylog

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/hyperledger/fabric-x-bookie/common/monitoring"
	"github.com/hyperledger/fabric-x-bookie/common/types"
	"github.com/hyperledger/fabric-x-bookie/node/config"
)

var (
	entriesAddedOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "entrylog",
		Name:      "entries_added_total",
		Help:      "The total number of entries appended to the entry log.",
	}

	bytesWrittenOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "entrylog",
		Name:      "written_bytes_total",
		Help:      "The total number of record bytes appended to the entry log.",
	}

	entriesReadOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "entrylog",
		Name:      "entries_read_total",
		Help:      "The total number of entries read and verified.",
	}

	digestMismatchesOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "entrylog",
		Name:      "digest_mismatches_total",
		Help:      "The total number of envelopes that failed verification.",
	}
)

type EntryLogMetrics struct {
	EntriesAdded     metrics.Counter
	BytesWritten     metrics.Counter
	EntriesRead      metrics.Counter
	DigestMismatches metrics.Counter
}

func NewEntryLogMetrics(p metrics.Provider) *EntryLogMetrics {
	if p == nil {
		p = &disabled.Provider{}
	}
	return &EntryLogMetrics{
		EntriesAdded:     p.NewCounter(entriesAddedOpts).With(),
		BytesWritten:     p.NewCounter(bytesWrittenOpts).With(),
		EntriesRead:      p.NewCounter(entriesReadOpts).With(),
		DigestMismatches: p.NewCounter(digestMismatchesOpts).With(),
	}
}

// Metrics owns the metrics provider of a bookie, serves it when a monitoring
// address is configured and periodically logs the entry log totals.
type Metrics struct {
	provider *monitoring.Provider
	monitor  *monitoring.Monitor
	logger   types.Logger
	interval time.Duration

	stop      context.CancelFunc
	done      sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	el        *EntryLogMetrics
}

func NewMetrics(conf *config.BookieConfig, logger types.Logger) (*Metrics, error) {
	m := &Metrics{logger: logger, interval: conf.MetricsLogInterval}
	if conf.MonitoringListenAddress == "" {
		m.provider = monitoring.NewProvider(logger)
		return m, nil
	}

	endpoint, err := monitoring.ParseEndpoint(conf.MonitoringListenAddress)
	if err != nil {
		return nil, err
	}
	m.monitor = monitoring.NewMonitor(endpoint, logger)
	m.provider = m.monitor.Provider
	return m, nil
}

// Provider is the provider the entry log registers its metrics with.
func (m *Metrics) Provider() *monitoring.Provider {
	return m.provider
}

// Start serves the metrics if configured and starts the reporting routine for el.
func (m *Metrics) Start(el *EntryLogMetrics) error {
	var err error
	m.startOnce.Do(func() {
		m.el = el
		var report []func(context.Context)
		if m.interval > 0 {
			report = append(report, m.trackMetrics)
		}

		if m.monitor != nil {
			err = m.monitor.Start(report...)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		m.stop = cancel
		for _, r := range report {
			m.done.Add(1)
			go func() {
				defer m.done.Done()
				r(ctx)
			}()
		}
	})
	return err
}

func (m *Metrics) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Infof("Reporting routine is stopping")
		if m.monitor != nil {
			m.monitor.Stop()
		}
		if m.stop != nil {
			m.stop()
		}
		m.done.Wait()

		if m.el == nil {
			return
		}
		entries, bytes, reads, mismatches := m.totals()
		m.logger.Infof("ENTRYLOG_METRICS: total: entries=%d, bytes=%d, reads=%d, digest_mismatches=%d", entries, bytes, reads, mismatches)
	})
}

func (m *Metrics) totals() (entries, bytes, reads, mismatches uint64) {
	return uint64(monitoring.GetMetricValue(m.el.EntriesAdded, m.logger)),
		uint64(monitoring.GetMetricValue(m.el.BytesWritten, m.logger)),
		uint64(monitoring.GetMetricValue(m.el.EntriesRead, m.logger)),
		uint64(monitoring.GetMetricValue(m.el.DigestMismatches, m.logger))
}

func (m *Metrics) trackMetrics(ctx context.Context) {
	lastEntries, lastBytes, _, _ := m.totals()
	sec := m.interval.Seconds()
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			entries, bytes, reads, mismatches := m.totals()
			m.logger.Infof("ENTRYLOG_METRICS: total: entries=%d, bytes=%d, reads=%d, digest_mismatches=%d, in the last %.2f seconds: entries=%d, bytes=%d",
				entries, bytes, reads, mismatches, sec, entries-lastEntries, bytes-lastBytes)
			lastEntries, lastBytes = entries, bytes
		case <-ctx.Done():
			return
		}
	}
}
