package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://leads.example.com").
	// The TUI and other clients use it to reach the server.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
}
