package plug

import "fmt"

// Config names the two sides of a plug. Values are not interpreted here;
// malformed names surface as open failures.
type Config struct {
	// Device is the TAP device name.
	Device string

	// Endpoint is the remote switch address.
	Endpoint string
}

// Validate checks that both sides are named.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("plug: config: Device is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("plug: config: Endpoint is required")
	}
	return nil
}
