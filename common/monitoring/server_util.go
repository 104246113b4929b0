/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package monitoring

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

const protocol = "tcp"

type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint splits a host:port listen address. Port 0 picks a free port on Listen.
func ParseEndpoint(address string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid listen address %q", address)
	}
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid port in listen address %q", address)
	}
	return Endpoint{Host: host, Port: portInt}, nil
}

func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Listen binds the endpoint and updates its port with the effective one.
func (e *Endpoint) Listen() (net.Listener, error) {
	listener, err := net.Listen(protocol, e.Address())
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}

	tcpAddress, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, errors.Errorf("listener address %s is not a TCP address", listener.Addr())
	}
	e.Port = tcpAddress.Port
	return listener, nil
}
