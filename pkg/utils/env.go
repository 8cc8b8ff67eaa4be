package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv 根据运行模式加载对应的 .env 文件
// 查找顺序: .env.<mode> -> .env
func LoadEnv(mode string) error {
	candidates := []string{".env"}
	if mode != "" {
		candidates = append([]string{".env." + mode}, candidates...)
	}
	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return godotenv.Load(name)
		}
	}
	return fmt.Errorf("no env file found (tried %s)", strings.Join(candidates, ", "))
}

// GetEnv 获取环境变量
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetStringOrDefault 获取字符串环境变量，不存在时返回默认值
func GetStringOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetIntOrDefault 获取整数环境变量，不存在或非法时返回默认值
func GetIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBoolOrDefault 获取布尔环境变量，不存在或非法时返回默认值
func GetBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// SplitList 拆分逗号分隔的环境变量值
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
