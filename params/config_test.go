package params

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"TRUEX_CLIENT_API_KEY_ID", "TRUEX_CLIENT_API_KEY_SECRET", "TRUEX_CLIENT_MNEMONICS", "TRUEX_API_ADDRESS",
	"FIX_BEGIN_STRING", "FIX_DEFAULT_APPL_VER_ID", "FIX_TARGET_COMP_ID", "FIX_HOST", "FIX_PORT",
	"FIX_HEARTBEAT_SECONDS", "FIX_RESET_SEQ_NUM", "FIX_LOGON_TIMEOUT_MS", "FIX_LOGOUT_TIMEOUT_MS",
	"FIX_SYMBOL", "SEQ_STORE_PATH", "JOURNAL_DIR", "API_ADDR", "LOG_FILE", "DEBUG",
}

// clearEnv blanks every key for the test; t.Setenv restores the old values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := LoadFromEnv(missingEnvFile(t))

	if cfg.FIX.BeginString != "FIXT.1.1" || cfg.FIX.DefaultApplVerID != "9" || cfg.FIX.TargetCompID != "TRUEX_UAT_OE" {
		t.Errorf("FIX identity defaults = %+v", cfg.FIX)
	}
	if cfg.FIX.HeartBtInt != 30*time.Second {
		t.Errorf("HeartBtInt = %v", cfg.FIX.HeartBtInt)
	}
	if !cfg.FIX.ResetSeqNum {
		t.Error("ResetSeqNum should default to true")
	}
	if cfg.FIX.Symbol != "BTC-PYUSD" {
		t.Errorf("Symbol = %q", cfg.FIX.Symbol)
	}
	if cfg.Node.APIAddr != ":8080" || cfg.Node.Debug {
		t.Errorf("Node = %+v", cfg.Node)
	}
	if cfg.Storage.SeqStorePath != "" || cfg.Storage.JournalDir != "" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUEX_CLIENT_API_KEY_ID", "key-id")
	t.Setenv("TRUEX_CLIENT_API_KEY_SECRET", "secret")
	t.Setenv("TRUEX_CLIENT_MNEMONICS", "alice, bob,,")
	t.Setenv("FIX_HOST", "fix.example.com")
	t.Setenv("FIX_PORT", "9000")
	t.Setenv("FIX_HEARTBEAT_SECONDS", "5")
	t.Setenv("FIX_RESET_SEQ_NUM", "false")
	t.Setenv("FIX_LOGON_TIMEOUT_MS", "2500")
	t.Setenv("FIX_LOGOUT_TIMEOUT_MS", "not-a-number")
	t.Setenv("DEBUG", "true")

	cfg := LoadFromEnv(missingEnvFile(t))

	if got := strings.Join(cfg.Credentials.Mnemonics, "|"); got != "alice|bob" {
		t.Errorf("Mnemonics = %q", got)
	}
	if cfg.FIX.Address() != "fix.example.com:9000" {
		t.Errorf("Address = %q", cfg.FIX.Address())
	}
	if cfg.FIX.HeartBtInt != 5*time.Second {
		t.Errorf("HeartBtInt = %v", cfg.FIX.HeartBtInt)
	}
	if cfg.FIX.ResetSeqNum {
		t.Error("ResetSeqNum should be false")
	}
	if cfg.FIX.LogonTimeout != 2500*time.Millisecond {
		t.Errorf("LogonTimeout = %v", cfg.FIX.LogonTimeout)
	}
	if cfg.FIX.LogoutTimeout != 5*time.Second {
		t.Errorf("unparsable LogoutTimeout should keep the default, got %v", cfg.FIX.LogoutTimeout)
	}
	if !cfg.Node.Debug {
		t.Error("Debug should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFromEnv_DotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "TRUEX_CLIENT_MNEMONICS=carol\nFIX_SYMBOL=ETH-PYUSD\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FIX_SYMBOL", "BTC-USD")

	cfg := LoadFromEnv(path)
	if len(cfg.Credentials.Mnemonics) != 1 || cfg.Credentials.Mnemonics[0] != "carol" {
		t.Errorf("Mnemonics = %v", cfg.Credentials.Mnemonics)
	}
	if cfg.FIX.Symbol != "BTC-USD" {
		t.Errorf("environment should win over .env, Symbol = %q", cfg.FIX.Symbol)
	}
}

func TestValidate_ReportsAllMissing(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"TRUEX_CLIENT_API_KEY_ID", "TRUEX_CLIENT_API_KEY_SECRET", "TRUEX_CLIENT_MNEMONICS", "FIX_HOST", "FIX_PORT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
