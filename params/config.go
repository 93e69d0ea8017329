package params

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Credentials struct {
	APIKeyID     string
	APIKeySecret string
	Mnemonics    []string // one trading session per mnemonic
	APIAddress   string   // REST base URL for the client-id lookup
}

type FIX struct {
	BeginString      string
	DefaultApplVerID string
	TargetCompID     string
	Host             string
	Port             int
	HeartBtInt       time.Duration
	ResetSeqNum      bool
	LogonTimeout     time.Duration
	LogoutTimeout    time.Duration
	Symbol           string
}

// Address returns host:port of the FIX acceptor.
func (f FIX) Address() string {
	return net.JoinHostPort(f.Host, strconv.Itoa(f.Port))
}

type Storage struct {
	// SeqStorePath is a Pebble directory; empty keeps sequence numbers in memory.
	SeqStorePath string
	// JournalDir holds one message journal per session; empty disables it.
	JournalDir string
}

type Node struct {
	APIAddr string
	LogFile string
	// Debug lowers the log level and logs raw messages and signing inputs.
	Debug bool
}

type Config struct {
	Credentials Credentials
	FIX         FIX
	Storage     Storage
	Node        Node
}

func Default() Config {
	return Config{
		FIX: FIX{
			BeginString:      "FIXT.1.1",
			DefaultApplVerID: "9",
			TargetCompID:     "TRUEX_UAT_OE",
			HeartBtInt:       30 * time.Second,
			ResetSeqNum:      true,
			LogonTimeout:     10 * time.Second,
			LogoutTimeout:    5 * time.Second,
			Symbol:           "BTC-PYUSD",
		},
		Node: Node{
			APIAddr: ":8080",
			LogFile: "data/fixclient.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Credentials.APIKeyID = os.Getenv("TRUEX_CLIENT_API_KEY_ID")
	cfg.Credentials.APIKeySecret = os.Getenv("TRUEX_CLIENT_API_KEY_SECRET")
	cfg.Credentials.APIAddress = os.Getenv("TRUEX_API_ADDRESS")
	if m := os.Getenv("TRUEX_CLIENT_MNEMONICS"); m != "" {
		for _, s := range strings.Split(m, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Credentials.Mnemonics = append(cfg.Credentials.Mnemonics, s)
			}
		}
	}

	cfg.FIX.BeginString = getEnv("FIX_BEGIN_STRING", cfg.FIX.BeginString)
	cfg.FIX.DefaultApplVerID = getEnv("FIX_DEFAULT_APPL_VER_ID", cfg.FIX.DefaultApplVerID)
	cfg.FIX.TargetCompID = getEnv("FIX_TARGET_COMP_ID", cfg.FIX.TargetCompID)
	cfg.FIX.Host = getEnv("FIX_HOST", cfg.FIX.Host)
	cfg.FIX.Symbol = getEnv("FIX_SYMBOL", cfg.FIX.Symbol)
	if port := os.Getenv("FIX_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.FIX.Port = n
		}
	}
	if hb := os.Getenv("FIX_HEARTBEAT_SECONDS"); hb != "" {
		if s, err := strconv.Atoi(hb); err == nil && s > 0 {
			cfg.FIX.HeartBtInt = time.Duration(s) * time.Second
		}
	}
	if reset := os.Getenv("FIX_RESET_SEQ_NUM"); reset != "" {
		cfg.FIX.ResetSeqNum = reset == "true"
	}
	if ms := os.Getenv("FIX_LOGON_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.FIX.LogonTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if ms := os.Getenv("FIX_LOGOUT_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.FIX.LogoutTimeout = time.Duration(n) * time.Millisecond
		}
	}

	cfg.Storage.SeqStorePath = os.Getenv("SEQ_STORE_PATH")
	cfg.Storage.JournalDir = os.Getenv("JOURNAL_DIR")

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.Debug = os.Getenv("DEBUG") == "true"

	return cfg
}

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Credentials.APIKeyID == "" {
		errs = append(errs, errors.New("TRUEX_CLIENT_API_KEY_ID is not set"))
	}
	if c.Credentials.APIKeySecret == "" {
		errs = append(errs, errors.New("TRUEX_CLIENT_API_KEY_SECRET is not set"))
	}
	if len(c.Credentials.Mnemonics) == 0 {
		errs = append(errs, errors.New("TRUEX_CLIENT_MNEMONICS is not set"))
	}
	if c.FIX.Host == "" {
		errs = append(errs, errors.New("FIX_HOST is not set"))
	}
	if c.FIX.Port <= 0 {
		errs = append(errs, errors.New("FIX_PORT is not set"))
	}
	return errors.Join(errs...)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
