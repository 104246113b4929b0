/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package monitoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperledger/fabric-x-bookie/common/types"
)

// Monitor runs a Provider's prometheus server in the background.
type Monitor struct {
	Provider *Provider
	logger   types.Logger
	endpoint Endpoint

	stop context.CancelFunc
	done sync.WaitGroup
}

func NewMonitor(endpoint Endpoint, logger types.Logger) *Monitor {
	return &Monitor{Provider: NewProvider(logger), endpoint: endpoint, logger: logger}
}

// Start binds the endpoint and serves metrics until Stop. The monitor
// functions run for as long as the server does.
func (m *Monitor) Start(monitor ...func(context.Context)) error {
	listener, err := m.endpoint.Listen()
	if err != nil {
		return err
	}
	m.logger.Infof("Listening on: %s://%s", protocol, m.endpoint.Address())

	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel

	m.done.Add(1)
	go func() {
		defer m.done.Done()
		if err := m.Provider.StartPrometheusServer(ctx, listener, monitor...); err != nil {
			m.logger.Errorf("Monitoring server failed: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down and waits for the monitor functions to return.
func (m *Monitor) Stop() {
	if m.stop != nil {
		m.stop()
	}
	m.done.Wait()
}

func (m *Monitor) Address() string {
	return fmt.Sprintf("http://%s/metrics", m.endpoint.Address())
}
