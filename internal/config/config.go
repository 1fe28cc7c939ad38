// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/agentmesh/go-transcript/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// App-server 传输层
	AppServerURL        string `env:"APP_SERVER_URL" default:"ws://127.0.0.1:4500/rpc"`
	AppServerTimeoutSec int    `env:"APP_SERVER_TIMEOUT_SEC" default:"60" min:"1"`
	AppServerPingSec    int    `env:"APP_SERVER_PING_SEC" default:"30" min:"5"`

	// 会话默认参数
	DefaultModel          string `env:"DEFAULT_MODEL" default:"gpt-5.1-codex"`
	DefaultEffort         string `env:"DEFAULT_EFFORT" default:"medium"`
	DefaultApprovalPolicy string `env:"DEFAULT_APPROVAL_POLICY" default:"on-request"`

	// 转录重建
	ShowReasoning     bool `env:"SHOW_REASONING" default:"true"`
	CollapseByDefault bool `env:"COLLAPSE_BY_DEFAULT" default:"true"`

	// PostgreSQL (诊断事件日志，可选)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`
	JournalEnabled         bool   `env:"JOURNAL_ENABLED" default:"false"`

	// 只读投影 API
	APIListenAddr string `env:"API_LISTEN_ADDR" default:"127.0.0.1:8750"`
	APIPageLimit  int    `env:"API_PAGE_LIMIT" default:"200" min:"1"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
