package modelwire

import (
	"fmt"
	"sync"
)

// Client routes requests to registered vendor adapters. It is the entry
// point for hosts that talk to more than one vendor; single-vendor hosts can
// hold an Adapter directly.
type Client struct {
	adapters      map[string]Adapter
	defaultVendor string
	mu            sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAdapter registers a vendor adapter.
func WithAdapter(name string, adapter Adapter) ClientOption {
	return func(c *Client) {
		c.adapters[name] = adapter
	}
}

// WithDefaultVendor sets the default vendor name.
func WithDefaultVendor(name string) ClientOption {
	return func(c *Client) {
		c.defaultVendor = name
	}
}

// NewClient creates a Client with the given options. If exactly one adapter
// is registered and no default is set, that adapter becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: make(map[string]Adapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultVendor == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.defaultVendor = name
		}
	}
	return c
}

// Register adds a vendor adapter after construction.
func (c *Client) Register(name string, adapter Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
	if c.defaultVendor == "" {
		c.defaultVendor = name
	}
}

// Resolve returns the adapter for a vendor name, falling back to the default
// vendor when name is empty, then to the model catalog's vendor for the model.
func (c *Client) Resolve(vendor, model string) (Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := vendor
	if name == "" {
		name = c.defaultVendor
	}
	if name == "" {
		if info := GetModelInfo(model); info != nil {
			name = info.Vendor
		}
	}
	if name == "" {
		return nil, &ConfigurationError{WireError: WireError{
			Message: "no vendor specified and no default vendor configured",
		}}
	}

	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigurationError{WireError: WireError{
			Message: fmt.Sprintf("vendor %q is not registered", name),
		}}
	}
	return adapter, nil
}

// ResolveEndpoint returns the adapter whose vendor matches the endpoint
// host, or the default adapter for unrecognized hosts.
func (c *Client) ResolveEndpoint(endpoint string) (Adapter, error) {
	quirks := QuirksForEndpoint(endpoint)
	return c.Resolve(quirks.Vendor, "")
}
