package core

import (
	"time"
)

type Config struct {
	Spotify SpotifyConfig
	Player  PlayerConfig
	Server  ServerConfig
	Log     LogConfig
}

type SpotifyConfig struct {
	ClientID    string
	RedirectURL string
	StorePath   string
}

type PlayerConfig struct {
	DeviceName      string
	PollInterval    time.Duration
	TickInterval    time.Duration
	WatchInterval   time.Duration
	RefreshInterval time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8888/callback",
			StorePath:   "./trackdeck.db",
		},
		Player: PlayerConfig{
			DeviceName:      "trackdeck",
			PollInterval:    5 * time.Second,
			TickInterval:    250 * time.Millisecond,
			WatchInterval:   time.Second,
			RefreshInterval: 50 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
