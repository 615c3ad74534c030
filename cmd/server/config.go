package main

import (
	"strings"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	GinMode              string        `env:"GIN_MODE,default=release"`
	StoreDriver          string        `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/messages"`
	MongoURI             string        `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase        string        `env:"MONGO_DATABASE,default=hr"`
	MongoCollection      string        `env:"MONGO_COLLECTION,default=messages"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	SendTimeout          time.Duration `env:"SEND_TIMEOUT,default=5s"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=500ms"`
	WriteWait            time.Duration `env:"WRITE_WAIT,default=10s"`
	PongWait             time.Duration `env:"PONG_WAIT,default=60s"`
	MaxFrameSize         int64         `env:"MAX_FRAME_SIZE,default=16384"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	StatsInterval        time.Duration `env:"STATS_INTERVAL,default=30s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	AllowedOrigins       string        `env:"ALLOWED_ORIGINS,default=*"`
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
