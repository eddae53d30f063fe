// internal/mqtt/health.go

package mqtt

import (
	"fmt"
	"time"
)

// WaitForConnection blocks until the broker session is up or the timeout elapses.
func (c *Client) WaitForConnection(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("connection timeout after %v", timeout)
}
