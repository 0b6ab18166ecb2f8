package models

// MConfig Structure
type MConfig struct {
	Name      string           `yaml:"name"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	LogLevel  string           `yaml:"log_level"`
	GrpcPort  int              `yaml:"grpc_port"`
	Timezone  string           `yaml:"timezone"`
	Backend   MBackendConfig   `yaml:"backend"`
	Reconnect MReconnectConfig `yaml:"reconnect"`
	Storage   MStorageConfig   `yaml:"storage"`
	Cache     MCacheConfig     `yaml:"cache"`
	Refresh   MRefreshConfig   `yaml:"refresh"`
}

type MBackendConfig struct {
	APIBaseURL string `yaml:"api_base_url"`
	WSBaseURL  string `yaml:"ws_base_url"`
	BusinessID string `yaml:"business_id"`
	Token      string `yaml:"token"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"retries"` // idempotent requests only
}

type MReconnectConfig struct {
	InitialDelayMs     int `yaml:"initial_delay_ms"`
	MaxDelayMs         int `yaml:"max_delay_ms"`
	MaxAttempts        int `yaml:"max_attempts"`
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	ReadTimeoutMs      int `yaml:"read_timeout_ms"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MCacheConfig struct {
	Type              string `yaml:"type"` // "memory" or "redis"
	RedisAddr         string `yaml:"redis_addr"`
	RedisPassword     string `yaml:"redis_password"`
	RedisDB           int    `yaml:"redis_db"`
	PreviewTTLSeconds int    `yaml:"preview_ttl_seconds"`
}

type MRefreshConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}
