package ports

import "net"

// NetworkListener abstracts network listening for testing.
type NetworkListener interface {
	// Listen creates a network listener.
	Listen(network, address string) (net.Listener, error)
}
