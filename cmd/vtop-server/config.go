package main

import (
	"fmt"
	"time"

	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/vtop"
)

type PortalConfig struct {
	BaseUrl string `json:"base_url"`
	// Timeout is a duration string like "20s".
	Timeout           string  `json:"timeout"`
	ChallengeStrategy string  `json:"challenge_strategy"`
	SkipTLSVerify     bool    `json:"skip_tls_verify"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

func (c PortalConfig) options() (vtop.Options, error) {
	strategy, err := vtop.ParseStrategy(c.ChallengeStrategy)
	if err != nil {
		return vtop.Options{}, err
	}
	timeout, err := parseDuration("portal.timeout", c.Timeout)
	if err != nil {
		return vtop.Options{}, err
	}
	return vtop.Options{
		BaseUrl:           c.BaseUrl,
		Timeout:           timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		SkipTLSVerify:     c.SkipTLSVerify,
		Strategy:          strategy,
	}, nil
}

type SessionsConfig struct {
	PendingTTL       string `json:"pending_ttl"`
	AuthenticatedTTL string `json:"authenticated_ttl"`
}

func (c SessionsConfig) options() (session.Options, error) {
	pending, err := parseDuration("sessions.pending_ttl", c.PendingTTL)
	if err != nil {
		return session.Options{}, err
	}
	authenticated, err := parseDuration("sessions.authenticated_ttl", c.AuthenticatedTTL)
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		PendingTTL:       pending,
		AuthenticatedTTL: authenticated,
	}, nil
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	TTL      string `json:"ttl"`
}

type RecordConfig struct {
	// Backend is one of "file", "sqlite", "redis" or "none".
	Backend string      `json:"backend"`
	Path    string      `json:"path"`
	DSN     string      `json:"dsn"`
	Redis   RedisConfig `json:"redis"`
}

type Config struct {
	Port      int              `json:"port"`
	Timezone  string           `json:"timezone"`
	Portal    PortalConfig     `json:"portal"`
	Sessions  SessionsConfig   `json:"sessions"`
	Record    RecordConfig     `json:"record"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		Port:     5000,
		Timezone: "Asia/Kolkata",
		Portal: PortalConfig{
			BaseUrl:           vtop.DefaultBaseUrl,
			Timeout:           "20s",
			ChallengeStrategy: string(vtop.StrategyAuto),
		},
		Sessions: SessionsConfig{
			PendingTTL: "15m",
		},
		Record: RecordConfig{
			Backend: "file",
		},
	}
}

// parseDuration accepts an empty value as zero.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
