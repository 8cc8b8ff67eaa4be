package constants

import "time"

const (
	DefaultICETimeout = 10 * time.Second
	DefaultRelayPath  = "/ws"
)

// DefaultStunServers 默认 STUN 服务器
var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// 环境变量键
const (
	ENV_MODE          = "MODE"
	ENV_ADDR          = "ADDR"
	ENV_RELAY_URL     = "RELAY_URL"
	ENV_STUN_SERVERS  = "STUN_SERVERS"
	ENV_TOKEN_SECRET  = "TOKEN_SECRET"
	ENV_SERVICE_URL   = "SERVICE_URL"
	ENV_LOG_LEVEL     = "LOG_LEVEL"
	ENV_LOG_FILENAME  = "LOG_FILENAME"
	ENV_LOG_MAX_SIZE  = "LOG_MAX_SIZE"
	ENV_LOG_MAX_AGE   = "LOG_MAX_AGE"
	ENV_LOG_BACKUPS   = "LOG_MAX_BACKUPS"
	ENV_LOG_DAILY     = "LOG_DAILY"
	ENV_READ_TIMEOUT  = "READ_TIMEOUT"
	ENV_WRITE_TIMEOUT = "WRITE_TIMEOUT"
	ENV_IDLE_TIMEOUT  = "IDLE_TIMEOUT"
)

// 中继连接参数
const (
	RelayWriteWait      = 10 * time.Second
	RelayPongWait       = 60 * time.Second
	RelayPingPeriod     = 54 * time.Second
	RelayMaxMessageSize = 1 << 16
	RelaySendBuffer     = 64
)
