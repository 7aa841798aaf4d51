package config

import "time"

// Config is the root configuration for a socketd instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Socket   SocketConfig   `yaml:"socket"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Registry RegistryConfig `yaml:"registry"`
	Session  SessionConfig  `yaml:"session"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds websocket listener settings.
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	WSPath           string        `yaml:"ws_path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// SocketConfig holds dispatch settings.
type SocketConfig struct {
	RoutingKey    string `yaml:"routing_key"`
	LoginRequired bool   `yaml:"login_required"`
	Diagnostic    bool   `yaml:"diagnostic"`
}

// SweeperConfig holds liveness sweep timings.
type SweeperConfig struct {
	GraceWindow time.Duration `yaml:"grace_window"`
	Interval    time.Duration `yaml:"interval"`
}

// RegistryConfig selects the connection registry backend.
type RegistryConfig struct {
	Backend string `yaml:"backend"` // memory | redis | postgres
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend    string `yaml:"backend"` // memory | redis
	CookieName string `yaml:"cookie_name"`
}

// RedisConfig holds the shared Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the Postgres connection for the durable
// registry backend.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
