// Package mock provides a test double for the snr.Computer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// Computer is a mock implementation of snr.Computer.
type Computer struct {
	mu sync.Mutex

	// SNR is returned by Compute.
	SNR float64

	// Err, if non-nil, is returned by Compute.
	Err error

	// CallCount records how many times Compute was called.
	CallCount int
}

// Compute implements snr.Computer.
func (c *Computer) Compute(_ context.Context, _ []byte, _ int) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCount++
	return c.SNR, c.Err
}

// Calls returns CallCount. Thread-safe.
func (c *Computer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCount
}

var _ snr.Computer = (*Computer)(nil)
