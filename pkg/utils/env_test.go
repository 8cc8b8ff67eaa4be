package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetOrDefault 测试环境变量读取与默认值回退
func TestGetOrDefault(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "not-a-number")
	t.Setenv("TEST_BOOL", "true")

	assert.Equal(t, "hello", GetStringOrDefault("TEST_STR", "def"))
	assert.Equal(t, "def", GetStringOrDefault("TEST_MISSING", "def"))

	assert.Equal(t, 42, GetIntOrDefault("TEST_INT", 7))
	assert.Equal(t, 7, GetIntOrDefault("TEST_MISSING", 7))
	assert.Equal(t, 7, GetIntOrDefault("TEST_BAD_INT", 7))

	assert.True(t, GetBoolOrDefault("TEST_BOOL", false))
	assert.False(t, GetBoolOrDefault("TEST_MISSING", false))
}

// TestSplitList 测试逗号列表拆分
func TestSplitList(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"空值", "", nil},
		{"单项", "stun:stun.l.google.com:19302", []string{"stun:stun.l.google.com:19302"}},
		{"多项带空格", "a, b ,c", []string{"a", "b", "c"}},
		{"跳过空项", "a,,b,", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.value))
		})
	}
}

// TestLoadEnv 测试按模式加载 env 文件
func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LING_TEST_KEY=base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.dev"), []byte("LING_TEST_KEY=dev\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("LING_TEST_KEY", "")
	os.Unsetenv("LING_TEST_KEY")

	// 模式文件优先
	require.NoError(t, LoadEnv("dev"))
	assert.Equal(t, "dev", GetEnv("LING_TEST_KEY"))

	// 找不到任何文件时报错
	empty := t.TempDir()
	require.NoError(t, os.Chdir(empty))
	assert.Error(t, LoadEnv("prod"))
}
