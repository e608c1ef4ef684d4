package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultBTZPayBaseURL   = "https://web.btzpay.my.id"
	defaultBTZPayTimeout   = 20 * time.Second
	defaultIntentTimeoutMs = 900000
	defaultPollInterval    = 30 * time.Second
	defaultPollConcurrency = 4
	defaultPollRate        = 5
)

type Config struct {
	HTTPAddr    string `validate:"required"`
	DatabaseURL string
	JWTSecret   string `validate:"omitempty,min=16"`

	BTZPayBaseURL     string        `validate:"required,url"`
	BTZPayAPIKey      string
	BTZPayHTTPTimeout time.Duration `validate:"gte=1s"`
	IntentTimeout     time.Duration `validate:"gte=1m"`
	CallbackURL       string        `validate:"omitempty,url"`
	ProxyURL          string        `validate:"omitempty,url,startswith=socks5"`

	OwnerID         int64
	SudoUsers       []int64
	AuthorizedChats map[int64][]int64 // chat id -> allowed topic threads, empty for the whole chat
	FreeGroupID     int64
	PlanPrices      map[string]int64 `validate:"dive,gt=0"`

	PollInterval    time.Duration `validate:"gte=1s"`
	PollConcurrency int           `validate:"min=1,max=64"`
	PollRate        float64       `validate:"gte=0"`

	MetricsUser         string
	MetricsPasswordHash string `validate:"required_with=MetricsUser"`
	CORSOrigins         []string

	LogLevel  string `validate:"omitempty,oneof=trace debug info warn warning error disabled"`
	LogFormat string `validate:"omitempty,oneof=json console auto"`
}

var validate = validator.New()

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "config").Msg(".env file not found, using environment only")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		HTTPAddr:    p.str("HTTP_ADDR", defaultHTTPAddr),
		DatabaseURL: p.str("DATABASE_URL", ""),
		JWTSecret:   p.str("JWT_SECRET", ""),

		BTZPayBaseURL:     p.str("BTZPAY_BASE_URL", defaultBTZPayBaseURL),
		BTZPayAPIKey:      p.str("BTZPAY_APIKEY", ""),
		BTZPayHTTPTimeout: p.duration("BTZPAY_HTTP_TIMEOUT", defaultBTZPayTimeout),
		IntentTimeout:     time.Duration(p.int64("BTZPAY_TIMEOUT_MS", defaultIntentTimeoutMs)) * time.Millisecond,
		CallbackURL:       p.str("BTZPAY_CALLBACK_URL", ""),
		ProxyURL:          p.str("BTZPAY_PROXY", ""),

		OwnerID:         p.int64("OWNER_ID", 0),
		SudoUsers:       p.int64List("SUDO_USERS"),
		AuthorizedChats: p.chats("AUTHORIZED_CHATS"),
		FreeGroupID:     p.int64("PUBLIC_MIRROR_GROUP_ID", 0),
		PlanPrices:      p.prices("PLAN_PRICES"),

		PollInterval:    p.duration("POLL_INTERVAL", defaultPollInterval),
		PollConcurrency: int(p.int64("POLL_CONCURRENCY", defaultPollConcurrency)),
		PollRate:        p.float("POLL_RATE", defaultPollRate),

		MetricsUser:         p.str("METRICS_USER", ""),
		MetricsPasswordHash: p.str("METRICS_PASSWORD_HASH", ""),
		CORSOrigins:         p.list("CORS_ORIGINS"),

		LogLevel:  strings.ToLower(p.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(p.str("LOG_FORMAT", "auto")),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// RequireServer checks the settings only the API server needs.
func (c *Config) RequireServer() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.BTZPayAPIKey == "" {
		errs = append(errs, errors.New("BTZPAY_APIKEY is required"))
	}
	return errors.Join(errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int64(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

// list splits a comma or whitespace separated value.
func (p *parser) list(key string) []string {
	return strings.FieldsFunc(p.getenv(key), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func (p *parser) int64List(key string) []int64 {
	var ids []int64
	for _, field := range p.list(key) {
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, field))
			continue
		}
		ids = append(ids, n)
	}
	return ids
}

// chats parses "-1001,-1002:5|7": a chat id optionally followed by the topic
// thread ids allowed in it.
func (p *parser) chats(key string) map[int64][]int64 {
	fields := p.list(key)
	if len(fields) == 0 {
		return nil
	}
	chats := make(map[int64][]int64, len(fields))
	for _, field := range fields {
		chat, threads, _ := strings.Cut(field, ":")
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %q is not a chat id", key, chat))
			continue
		}
		var ids []int64
		for _, thread := range strings.FieldsFunc(threads, func(r rune) bool { return r == '|' }) {
			n, err := strconv.ParseInt(thread, 10, 64)
			if err != nil || n <= 0 {
				p.errs = append(p.errs, fmt.Errorf("%s: %q is not a thread id", key, thread))
				continue
			}
			ids = append(ids, n)
		}
		chats[id] = append(chats[id], ids...)
	}
	return chats
}

// prices parses "7d=12000,30d=25000".
func (p *parser) prices(key string) map[string]int64 {
	fields := p.list(key)
	if len(fields) == 0 {
		return nil
	}
	prices := make(map[string]int64, len(fields))
	for _, field := range fields {
		id, amount, ok := strings.Cut(field, "=")
		n, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if !ok || strings.TrimSpace(id) == "" || err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %q must look like plan=amount", key, field))
			continue
		}
		prices[strings.TrimSpace(id)] = n
	}
	return prices
}
