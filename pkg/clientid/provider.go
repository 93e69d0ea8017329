package clientid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/fixsession/pkg/auth"
)

var ErrNotFound = errors.New("client id not found")

// Provider resolves the counterparty-assigned client id for a trading mnemonic.
type Provider interface {
	Lookup(ctx context.Context, mnemonic string) (string, error)
}

// Static serves ids from a fixed map.
type Static map[string]string

func (s Static) Lookup(_ context.Context, mnemonic string) (string, error) {
	if id, ok := s[mnemonic]; ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%s: %w", mnemonic, ErrNotFound)
}

const clientPath = "/api/v1/client"

// HTTPProvider queries the counterparty REST API with a signed GET request.
type HTTPProvider struct {
	Address string
	Creds   auth.Credentials

	Client *http.Client
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

func NewHTTPProvider(address string, creds auth.Credentials, logger *zap.SugaredLogger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPProvider{
		Address: strings.TrimRight(address, "/"),
		Creds:   creds,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Now:     time.Now,
		Logger:  logger,
	}
}

type clientEntry struct {
	ID   string `json:"id"`
	Info struct {
		Mnemonic string `json:"mnemonic"`
	} `json:"info"`
}

func (p *HTTPProvider) Lookup(ctx context.Context, mnemonic string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Address+clientPath, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	ts := strconv.FormatInt(p.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-truex-auth-timestamp", ts)
	req.Header.Set("x-truex-auth-signature", auth.SignRequest(p.Creds.APIKeySecret, ts, http.MethodGet, clientPath))
	req.Header.Set("x-truex-auth-token", p.Creds.APIKeyID)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("client lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("client lookup: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var entries []clientEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return "", fmt.Errorf("decode client list: %w", err)
	}
	for _, e := range entries {
		if e.Info.Mnemonic == mnemonic && e.ID != "" {
			p.Logger.Infow("client_id_resolved", "mnemonic", mnemonic, "client_id", e.ID)
			return e.ID, nil
		}
	}
	p.Logger.Warnw("client_id_not_found", "mnemonic", mnemonic, "entries", len(entries))
	return "", fmt.Errorf("%s: %w", mnemonic, ErrNotFound)
}

var (
	_ Provider = Static(nil)
	_ Provider = (*HTTPProvider)(nil)
)
