// Package realnet provides the real implementation of the NetworkListener port.
package realnet

import (
	"net"

	"github.com/acolita/fake-ssh/internal/ports"
)

// Listener implements ports.NetworkListener with net.Listen.
type Listener struct{}

// NewListener creates a new Listener.
func NewListener() *Listener {
	return &Listener{}
}

// Listen creates a network listener.
func (l *Listener) Listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

var _ ports.NetworkListener = (*Listener)(nil)
