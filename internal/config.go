package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,required=true"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,required=true"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=50"`
	PersistQueueSize     int           `env:"PERSIST_QUEUE_SIZE,required=true"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	MaxFrameBytes        int64         `env:"MAX_FRAME_BYTES,default=4096"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	CensoredWordsPath    string        `env:"CENSORED_WORDS_PATH"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
