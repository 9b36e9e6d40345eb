// =============================================================================
// 📦 agentrelay 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Registry:   DefaultRegistryConfig(),
		Supervisor: DefaultSupervisorConfig(),
		Runtime:    DefaultRuntimeConfig(),
		Router:     DefaultRouterConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Type:       "file",
		Path:       "agents.json",
		KeyPrefix:  "agentrelay:",
		MaxRetries: 10,
	}
}

// DefaultSupervisorConfig 返回默认进程监管配置
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		AgentsDir:        "agents",
		DialoguePortBase: 5005,
		LogicPortBase:    5055,
		ReconcileOnStart: true,
		StopOnShutdown:   false,
		StopConcurrency:  4,
		Commands: CommandsConfig{
			Train:    []string{"rasa", "train", "--quiet"},
			Dialogue: []string{"rasa", "run", "--enable-api", "-p", "{port}", "--cors", "*"},
			Logic:    []string{"rasa", "run", "actions", "-p", "{port}"},
		},
		Training: TrainingConfig{
			Timeout:         30 * time.Minute,
			StderrTailBytes: 2048,
		},
		Readiness: ReadinessConfig{
			Interval: 250 * time.Millisecond,
			Timeout:  10 * time.Second,
		},
	}
}

// DefaultRuntimeConfig 返回默认运行时客户端配置
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Host:    "localhost",
		Timeout: 30 * time.Second,
	}
}

// DefaultRouterConfig 返回默认转接配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ForwardFailure: "propagate",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "agentrelay",
		Password:        "",
		Name:            "agentrelay.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentrelay",
		SampleRate:   0.1,
	}
}
