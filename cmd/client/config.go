package main

import "time"

type Config struct {
	ServerURL      string        `env:"CHAT_SERVER_URL,default=http://localhost:8080"`
	UserID         string        `env:"CHAT_USER_ID,required=true"`
	Token          string        `env:"CHAT_TOKEN"`
	LogLevel       string        `env:"LOG_LEVEL,default=WARN"`
	AckTimeout     time.Duration `env:"ACK_TIMEOUT,default=5s"`
	ReconnectMin   time.Duration `env:"RECONNECT_MIN,default=500ms"`
	ReconnectMax   time.Duration `env:"RECONNECT_MAX,default=30s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	PongWait       time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait      time.Duration `env:"WRITE_WAIT,default=10s"`
	MaxTextLength  int           `env:"MAX_CONTENT_LENGTH,default=4000"`
}
