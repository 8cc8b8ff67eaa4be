package config

import (
	"log"
	"time"

	"github.com/LingByte/LingMeshX/pkg/constants"
	"github.com/LingByte/LingMeshX/pkg/logger"
	"github.com/LingByte/LingMeshX/pkg/utils"
)

// ServerConfig holds relay-server specific configuration
type ServerConfig struct {
	Addr         string        `json:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

var GlobalConfig *Config

// Config System common config
type Config struct {
	Server      ServerConfig     // Relay server configuration
	Log         logger.LogConfig // Log configuration
	Mode        string           `env:"MODE"`
	RelayURL    string           `env:"RELAY_URL"`
	StunServers []string         `env:"STUN_SERVERS"`
	TokenSecret string           `env:"TOKEN_SECRET"`
	ServiceURL  string           `env:"SERVICE_URL"`
}

func Load() error {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	mode := utils.GetStringOrDefault(constants.ENV_MODE, "development")
	if err := utils.LoadEnv(mode); err != nil {
		// .env文件不存在时只记录日志，不影响启动
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}
	// 2. 加载全局配置（所有配置都有默认值，确保无.env文件也能启动）
	GlobalConfig = &Config{
		Server: ServerConfig{
			Addr:         utils.GetStringOrDefault(constants.ENV_ADDR, ":8080"),
			ReadTimeout:  time.Duration(utils.GetIntOrDefault(constants.ENV_READ_TIMEOUT, 15)) * time.Second,
			WriteTimeout: time.Duration(utils.GetIntOrDefault(constants.ENV_WRITE_TIMEOUT, 15)) * time.Second,
			IdleTimeout:  time.Duration(utils.GetIntOrDefault(constants.ENV_IDLE_TIMEOUT, 60)) * time.Second,
		},
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault(constants.ENV_LOG_LEVEL, "info"),
			Filename:   utils.GetStringOrDefault(constants.ENV_LOG_FILENAME, "./logs/app.log"),
			MaxSize:    utils.GetIntOrDefault(constants.ENV_LOG_MAX_SIZE, 100),
			MaxAge:     utils.GetIntOrDefault(constants.ENV_LOG_MAX_AGE, 30),
			MaxBackups: utils.GetIntOrDefault(constants.ENV_LOG_BACKUPS, 5),
			Daily:      utils.GetBoolOrDefault(constants.ENV_LOG_DAILY, true),
		},
		Mode:        mode,
		RelayURL:    utils.GetStringOrDefault(constants.ENV_RELAY_URL, "ws://localhost:8080"+constants.DefaultRelayPath),
		StunServers: stunServers(),
		TokenSecret: utils.GetStringOrDefault(constants.ENV_TOKEN_SECRET, "dev-secret"),
		ServiceURL:  utils.GetEnv(constants.ENV_SERVICE_URL),
	}
	return nil
}

func stunServers() []string {
	if servers := utils.SplitList(utils.GetEnv(constants.ENV_STUN_SERVERS)); len(servers) > 0 {
		return servers
	}
	return constants.DefaultStunServers
}
