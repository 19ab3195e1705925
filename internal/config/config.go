package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"log"
)

type Config struct {
	Redis    Redis
	Queue    Queue
	Call     Call
	Channels Channels
	Log      Log
}

// Redis holds the shared store connection. Address wins over Host/Port.
type Redis struct {
	Protocol string `env:"Redis_Protocol" envDefault:"redis://"`
	Host     string `env:"Redis_Host" envDefault:"localhost"`
	Port     int    `env:"Redis_Port" envDefault:"6379"`
	User     string `env:"Redis_User"`
	Password string `env:"Redis_Password"`
	DB       int    `env:"Redis_DB"`
	Addr     string `env:"Redis_Address"`
}

type Queue struct {
	PollTimeout          time.Duration `env:"Queue_PollTimeout" envDefault:"2s"`
	ProcessingBackoff    time.Duration `env:"Queue_ProcessingBackoff" envDefault:"500ms"`
	IdleWaitInterval     time.Duration `env:"Queue_IdleWaitInterval" envDefault:"100ms"`
	ShutdownPollInterval time.Duration `env:"Queue_ShutdownPollInterval" envDefault:"5ms"`
	TaskTTL              time.Duration `env:"Queue_TaskTTL"`
	DeadLetter           bool          `env:"Queue_DeadLetter" envDefault:"true"`
	ReconnectBaseBackoff time.Duration `env:"Queue_ReconnectBaseBackoff" envDefault:"500ms"`
	ReconnectMaxBackoff  time.Duration `env:"Queue_ReconnectMaxBackoff" envDefault:"30s"`
}

type Call struct {
	Timeout time.Duration `env:"Call_Timeout" envDefault:"30s"`
}

type Channels struct {
	FileManager string `env:"FILE_MANAGER_CHANNEL" envDefault:"file-manager"`
	FileUtils   string `env:"FILE_UTILS_CHANNEL" envDefault:"file-utils"`
	FileConvert string `env:"FILE_CONVERT_CHANNEL" envDefault:"file-convert"`
}

type Log struct {
	Level  string `env:"Log_Level" envDefault:"info"`
	Pretty bool   `env:"Log_Pretty"`
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}

	return c
}

// Parse reads an optional .env file and then the process environment.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Address returns host:port for the store connection.
func (r Redis) Address() string {
	if r.Addr != "" {
		return r.Addr
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// URL renders the connection as a redis URL understood by redis.ParseURL.
func (r Redis) URL() string {
	scheme := strings.TrimSuffix(r.Protocol, "://")
	if scheme == "" {
		scheme = "redis"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   r.Address(),
		Path:   "/" + strconv.Itoa(r.DB),
	}
	switch {
	case r.User != "" && r.Password != "":
		u.User = url.UserPassword(r.User, r.Password)
	case r.Password != "":
		u.User = url.UserPassword("", r.Password)
	case r.User != "":
		u.User = url.User(r.User)
	}
	return u.String()
}
