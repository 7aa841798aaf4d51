package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr       = ":8000"
	DefaultWSPath           = "/ws"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReadLimit        = 1 << 16
	DefaultRoutingKey       = "type"
	DefaultGraceWindow      = 5 * time.Minute
	DefaultSweepInterval    = 1 * time.Minute
	DefaultRegistryBackend  = "memory"
	DefaultSessionBackend   = "memory"
	DefaultCookieName       = "sessionid"
	DefaultRedisAddr        = "localhost:6379"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
)

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}

	if c.Socket.RoutingKey == "" {
		c.Socket.RoutingKey = DefaultRoutingKey
	}

	if c.Sweeper.GraceWindow == 0 {
		c.Sweeper.GraceWindow = DefaultGraceWindow
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}

	if c.Registry.Backend == "" {
		c.Registry.Backend = DefaultRegistryBackend
	}
	if c.Session.Backend == "" {
		c.Session.Backend = DefaultSessionBackend
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = DefaultCookieName
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	applyDBDefaults(&c.Database.Postgres)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
