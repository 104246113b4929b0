/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package storage

import (
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
)

var (
	flushCountOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "buffered_channel",
		Name:      "flush_count_total",
		Help:      "The total number of write buffer flushes to the backing store.",
	}

	forceWriteCountOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "buffered_channel",
		Name:      "force_write_count_total",
		Help:      "The total number of force writes that synced the backing store.",
	}

	bytesFlushedOpts = metrics.CounterOpts{
		Namespace: "bookie",
		Subsystem: "buffered_channel",
		Name:      "flushed_bytes_total",
		Help:      "The total number of bytes written to the backing store.",
	}

	unpersistedBytesOpts = metrics.GaugeOpts{
		Namespace: "bookie",
		Subsystem: "buffered_channel",
		Name:      "unpersisted_bytes",
		Help:      "The number of bytes written since the last force write.",
	}
)

type ChannelMetrics struct {
	FlushCount       metrics.Counter
	ForceWriteCount  metrics.Counter
	BytesFlushed     metrics.Counter
	UnpersistedBytes metrics.Gauge
}

// NewChannelMetrics registers the buffered channel metrics with p. A nil provider disables them.
// The metrics are unlabelled, so a provider backs at most one channel.
func NewChannelMetrics(p metrics.Provider) *ChannelMetrics {
	if p == nil {
		p = &disabled.Provider{}
	}
	return &ChannelMetrics{
		FlushCount:       p.NewCounter(flushCountOpts).With(),
		ForceWriteCount:  p.NewCounter(forceWriteCountOpts).With(),
		BytesFlushed:     p.NewCounter(bytesFlushedOpts).With(),
		UnpersistedBytes: p.NewGauge(unpersistedBytesOpts).With(),
	}
}
