// =============================================================================
// 📦 agentrelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 agentrelay 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Registry agent 注册表配置
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Supervisor 进程监管配置
	Supervisor SupervisorConfig `yaml:"supervisor" env:"SUPERVISOR"`

	// Runtime agent 运行时客户端配置
	Runtime RuntimeConfig `yaml:"runtime" env:"RUNTIME"`

	// Router 会话转接配置
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Redis 配置（registry.type=redis 时使用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（registry.type=sql 时使用）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API Keys，为空时不启用 API Key 认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 query 参数传递 API Key
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT HMAC 密钥，为空时不启用 JWT 认证
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每个客户端 IP 的限流速率（请求/秒）
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RegistryConfig 注册表配置
type RegistryConfig struct {
	// 后端类型: file, redis, sql, memory
	Type string `yaml:"type" env:"TYPE"`
	// file 后端的 JSON 文件路径
	Path string `yaml:"path" env:"PATH"`
	// redis 后端的键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// redis 乐观事务最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// SupervisorConfig 进程监管配置
type SupervisorConfig struct {
	// agent 工作目录的根路径
	AgentsDir string `yaml:"agents_dir" env:"AGENTS_DIR"`
	// 对话服务默认端口基数
	DialoguePortBase int `yaml:"dialogue_port_base" env:"DIALOGUE_PORT_BASE"`
	// 逻辑服务默认端口基数
	LogicPortBase int `yaml:"logic_port_base" env:"LOGIC_PORT_BASE"`
	// 启动时清理失效 PID
	ReconcileOnStart bool `yaml:"reconcile_on_start" env:"RECONCILE_ON_START"`
	// 关闭时停止所有 agent 进程
	StopOnShutdown bool `yaml:"stop_on_shutdown" env:"STOP_ON_SHUTDOWN"`
	// StopAll 并发上限
	StopConcurrency int `yaml:"stop_concurrency" env:"STOP_CONCURRENCY"`
	// 进程命令模板
	Commands CommandsConfig `yaml:"commands" env:"COMMANDS"`
	// 训练配置
	Training TrainingConfig `yaml:"training" env:"TRAINING"`
	// 就绪探测配置
	Readiness ReadinessConfig `yaml:"readiness" env:"READINESS"`
}

// CommandsConfig 进程命令模板，{port} 会被替换为对应端口
type CommandsConfig struct {
	Train    []string `yaml:"train" env:"TRAIN"`
	Dialogue []string `yaml:"dialogue" env:"DIALOGUE"`
	Logic    []string `yaml:"logic" env:"LOGIC"`
}

// TrainingConfig 训练配置
type TrainingConfig struct {
	// 单次训练超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 失败详情中保留的 stderr 尾部字节数
	StderrTailBytes int `yaml:"stderr_tail_bytes" env:"STDERR_TAIL_BYTES"`
}

// ReadinessConfig 逻辑服务就绪探测配置
type ReadinessConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RuntimeConfig agent 运行时 HTTP 客户端配置
type RuntimeConfig struct {
	// 访问 agent 的主机名
	Host string `yaml:"host" env:"HOST"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RouterConfig 会话转接配置
type RouterConfig struct {
	// 转发失败策略: propagate, degrade
	ForwardFailure string `yaml:"forward_failure" env:"FORWARD_FAILURE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 命令模板按空白切分，其余切片按逗号切分
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(splitList(value)))
		}
	}

	return nil
}

func splitList(value string) []string {
	sep := ","
	if !strings.Contains(value, ",") {
		return strings.Fields(value)
	}
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	switch c.Registry.Type {
	case "file":
		if c.Registry.Path == "" {
			errs = append(errs, "registry.path is required for file registry")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for redis registry")
		}
	case "sql":
		if c.Database.DSN() == "" {
			errs = append(errs, "unsupported database driver "+c.Database.Driver)
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown registry type %q", c.Registry.Type))
	}

	if c.Supervisor.DialoguePortBase <= 0 || c.Supervisor.LogicPortBase <= 0 {
		errs = append(errs, "port bases must be positive")
	}
	if c.Supervisor.DialoguePortBase == c.Supervisor.LogicPortBase {
		errs = append(errs, "dialogue and logic port bases must differ")
	}
	if len(c.Supervisor.Commands.Train) == 0 ||
		len(c.Supervisor.Commands.Dialogue) == 0 ||
		len(c.Supervisor.Commands.Logic) == 0 {
		errs = append(errs, "supervisor commands must not be empty")
	}
	if c.Runtime.Timeout <= 0 {
		errs = append(errs, "runtime.timeout must be positive")
	}

	switch c.Router.ForwardFailure {
	case "propagate", "degrade":
	default:
		errs = append(errs, fmt.Sprintf("router.forward_failure must be propagate or degrade, got %q", c.Router.ForwardFailure))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
