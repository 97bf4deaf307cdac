package config

import "time"

// Connection-pool and timeout defaults applied to every client that does not
// set its own.
const (
	DefaultMinConns = 1
	DefaultMaxConns = 10
	DefaultTimeout  = 30 * time.Second
)

// DefaultConfig returns the built-in defaults for the server and log
// sections. Clients and routes have no defaults; the file must declare them.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Host:         "0.0.0.0",
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyClientDefaults fills pool sizes and timeouts on each client config.
func applyClientDefaults(cfg *Config) {
	for _, c := range cfg.Clients {
		if c.MinConns == 0 {
			c.MinConns = DefaultMinConns
		}
		if c.MaxConns == 0 {
			c.MaxConns = DefaultMaxConns
		}
		if c.Timeout == 0 {
			c.Timeout = DefaultTimeout
		}
	}
	for _, route := range cfg.Routes {
		for _, sub := range route.Subrequests {
			if sub.Type == ClientHTTP && sub.Method == "" {
				sub.Method = "GET"
			}
		}
	}
}
