package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port        string
	DatabaseDSN string
	JWTSecret   string
	Env         string

	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// 消息被举报多少次后自动删除。
	ReportAutoDeleteThreshold int
	// 解散投票发起后多少小时内不允许取消。
	DeleteVoteCancelHours int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                      getenv("APP_PORT", "8080"),
		DatabaseDSN:               getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=communities port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:                 getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                       getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes:     getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:       getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		ReportAutoDeleteThreshold: getenvInt("REPORT_AUTODELETE_THRESHOLD", 5),
		DeleteVoteCancelHours:     getenvInt("DELETE_VOTE_CANCEL_HOURS", 24),
	}
}

// Validate 检查配置是否可用于启动；生产环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("refusing to run outside dev with the default jwt secret")
	}
	if cfg.ReportAutoDeleteThreshold < 1 {
		return errors.New("report auto-delete threshold must be at least 1")
	}
	if cfg.DeleteVoteCancelHours < 0 {
		return errors.New("delete vote cancel hours must not be negative")
	}
	return nil
}
