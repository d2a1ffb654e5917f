package push

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// GatewayConfig configures the HTTP push gateway.
type GatewayConfig struct {
	URL        string
	Secret     string
	RatePerSec int
	Workers    int
	Timeout    time.Duration
}

// Gateway posts one signed request per token to an HTTP push gateway.
type Gateway struct {
	url     string
	secret  string
	workers int
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger
}

// NewGateway creates a push gateway client.
func NewGateway(cfg GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, errors.New("push gateway url is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Gateway{
		url:     cfg.URL,
		secret:  cfg.Secret,
		workers: cfg.Workers,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

type gatewayRequest struct {
	Token   string  `json:"token"`
	Message Message `json:"message"`
}

type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendBatch delivers msg to every token. Per-token failures are reported in
// the outcomes; the returned error is always nil once sending has started.
func (g *Gateway) SendBatch(ctx context.Context, tokens []string, msg Message) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tokens))

	eg := new(errgroup.Group)
	eg.SetLimit(g.workers)
	for i, token := range tokens {
		eg.Go(func() error {
			outcomes[i] = g.send(ctx, token, msg)
			return nil
		})
	}
	_ = eg.Wait()

	sent := 0
	for _, o := range outcomes {
		if o.Success {
			sent++
		}
	}
	g.logger.Debug("push batch sent", "tokens", len(tokens), "success", sent)
	return outcomes, nil
}

func (g *Gateway) send(ctx context.Context, token string, msg Message) Outcome {
	out := Outcome{Token: token}
	if err := g.limiter.Wait(ctx); err != nil {
		out.ErrorClass, out.Err = ClassTransient, fmt.Errorf("wait for send slot: %w", err)
		return out
	}

	body, err := json.Marshal(gatewayRequest{Token: token, Message: msg})
	if err != nil {
		out.ErrorClass, out.Err = ClassTransient, fmt.Errorf("marshal push request: %w", err)
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		out.ErrorClass, out.Err = ClassTransient, fmt.Errorf("create push request: %w", err)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Weather-Alert-Guardian/1.0")
	if g.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+computeHMAC(body, []byte(g.secret)))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		out.ErrorClass, out.Err = ClassTransient, fmt.Errorf("send push: %w", err)
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		return out
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ge gatewayError
	_ = json.Unmarshal(raw, &ge)
	out.ErrorClass = Classify(resp.StatusCode, ge.Error.Code)
	out.Err = fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(ge.Error.Message))
	return out
}

// Classify maps a gateway status and error code to an ErrorClass.
func Classify(status int, code string) ErrorClass {
	switch strings.ToUpper(code) {
	case "UNREGISTERED", "NOT_FOUND":
		return ClassUnregistered
	case "INVALID_ARGUMENT":
		if status == http.StatusBadRequest {
			return ClassInvalidArgument
		}
	}
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return ClassUnregistered
	}
	return ClassTransient
}

func computeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
