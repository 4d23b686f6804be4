// Package ports defines interfaces for external dependencies (Ports and Adapters pattern).
package ports

import "time"

// Clock abstracts the time source used for file timestamps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}
