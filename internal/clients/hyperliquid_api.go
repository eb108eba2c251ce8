package clients

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MainnetURL = hyperliquid.MainnetAPIURL
	TestnetURL = hyperliquid.TestnetAPIURL

	infoPath     = "/info"
	exchangePath = "/exchange"
)

// APIConfig host pair and transport policy for HyperliquidAPI.
type APIConfig struct {
	MainnetURL     string
	TestnetURL     string
	Timeout        time.Duration
	RateLimit      float64
	RateLimitBurst int
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
}

func (c *APIConfig) setDefaults() {
	if c.MainnetURL == "" {
		c.MainnetURL = MainnetURL
	}
	if c.TestnetURL == "" {
		c.TestnetURL = TestnetURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
}

// HyperliquidAPI talks to the exchange's info and exchange endpoints.
// Every call selects its host by network, so one instance serves both.
type HyperliquidAPI struct {
	client  *resty.Client
	urls    map[domain.Network]string
	limiter *rate.Limiter
	reads   *retrier.Retrier
	writes  *retrier.Retrier
	logger  *zap.Logger
}

// NewHyperliquidAPI creates an exchange API client.
func NewHyperliquidAPI(cfg APIConfig, logger *zap.Logger) *HyperliquidAPI {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	backoff := []retrier.Option{
		retrier.WithMaxRetries(cfg.MaxAttempts - 1),
		retrier.WithInitialInterval(cfg.BaseDelay),
		retrier.WithMultiplier(cfg.Multiplier),
	}
	readOpts := append(append([]retrier.Option{}, backoff...), retrier.WithRetryIf(isTransportError))
	// a write is only resent when it provably never left the process
	writeOpts := append(append([]retrier.Option{}, backoff...), retrier.WithRetryIf(wasNotSent))

	return &HyperliquidAPI{
		client: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		urls: map[domain.Network]string{
			domain.NetworkMainnet: strings.TrimRight(cfg.MainnetURL, "/"),
			domain.NetworkTestnet: strings.TrimRight(cfg.TestnetURL, "/"),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		reads:   retrier.New(readOpts...),
		writes:  retrier.New(writeOpts...),
		logger:  logger,
	}
}

// BaseURL returns the host serving network.
func (c *HyperliquidAPI) BaseURL(network domain.Network) (string, error) {
	u, ok := c.urls[network]
	if !ok {
		return "", domain.NewError(domain.KindConfiguration, "no exchange host for network %q", network)
	}
	return u, nil
}

// statusError non-2xx HTTP response. Never retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "http " + strconv.Itoa(e.code) + ": " + e.body
}

func isStatusError(err error) bool {
	var se *statusError
	return errors.As(err, &se)
}

// isTransportError network-level failure: the request or its response was lost.
func isTransportError(err error) bool {
	return err != nil && !isStatusError(err) && !isDecodeError(err)
}

// isDialError the connection was never established, so nothing was sent.
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

// notSentError the request was abandoned before it was written.
type notSentError struct{ err error }

func (e *notSentError) Error() string { return "request not sent: " + e.err.Error() }
func (e *notSentError) Unwrap() error { return e.err }

func wasNotSent(err error) bool {
	var ns *notSentError
	return errors.As(err, &ns) || isDialError(err)
}

func (c *HyperliquidAPI) post(ctx context.Context, url string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &notSentError{err: errors.Wrap(err, "rate limiter wait failed")}
	}

	c.logger.Debug("executing request", zap.String("url", url))
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &statusError{code: resp.StatusCode(), body: strings.TrimSpace(resp.String())}
	}
	return resp.Body(), nil
}

// Info posts a read query ({"type": ..., params}) and decodes the answer into out.
// Transport failures are retried with backoff, HTTP status failures are final.
func (c *HyperliquidAPI) Info(ctx context.Context, network domain.Network, query any, out any) error {
	base, err := c.BaseURL(network)
	if err != nil {
		return err
	}

	err = c.reads.Do(ctx, func(ctx context.Context) error {
		raw, err := c.post(ctx, base+infoPath, query)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return &decodeError{err: err}
		}
		return nil
	})
	if err != nil {
		return classifyReadError(err)
	}
	return nil
}

func classifyReadError(err error) error {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return domain.WrapError(domain.KindExchangeRejected, err, "exchange info request rejected")
	case isDecodeError(err):
		return domain.WrapError(domain.KindExchangeRejected, err, "malformed exchange info response")
	default:
		return domain.WrapError(domain.KindTransientNetwork, err, "exchange info request failed")
	}
}

// ExchangeRequest signed write body.
type ExchangeRequest struct {
	Action       any              `json:"action"`
	Nonce        int64            `json:"nonce"`
	Signature    domain.Signature `json:"signature"`
	VaultAddress *string          `json:"vaultAddress"`
}

// PostAction submits a signed action. Only dial failures are retried; a request
// that may have reached the exchange is reported with OutcomeUnknown set.
func (c *HyperliquidAPI) PostAction(ctx context.Context, network domain.Network, req ExchangeRequest) (*ExchangeResponse, error) {
	base, err := c.BaseURL(network)
	if err != nil {
		return nil, err
	}

	mayHaveSent := false
	raw, err := retrier.DoWithData(c.writes, ctx, func(ctx context.Context) ([]byte, error) {
		raw, err := c.post(ctx, base+exchangePath, req)
		if err == nil || !wasNotSent(err) {
			mayHaveSent = true
		}
		return raw, err
	})
	if err != nil {
		var se *statusError
		switch {
		case errors.As(err, &se):
			return nil, domain.WrapError(domain.KindExchangeRejected, err, "%s", nonEmpty(se.body, "exchange rejected the request"))
		case !mayHaveSent:
			return nil, domain.WrapError(domain.KindTransientNetwork, err, "could not reach the exchange")
		default:
			de := domain.WrapError(domain.KindTransientNetwork, err, "order outcome unknown, check your wallet before retrying")
			de.OutcomeUnknown = true
			return nil, de
		}
	}

	var resp ExchangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		de := domain.WrapError(domain.KindExchangeRejected, err, "malformed exchange response: %s", truncate(string(raw), 200))
		de.OutcomeUnknown = true
		return nil, de
	}
	return &resp, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// SpotMeta spot universe and token listing.
func (c *HyperliquidAPI) SpotMeta(ctx context.Context, network domain.Network) (*SpotMeta, error) {
	var meta SpotMeta
	if err := c.Info(ctx, network, map[string]string{"type": "spotMeta"}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// AllMids mid prices keyed by coin or "@index".
func (c *HyperliquidAPI) AllMids(ctx context.Context, network domain.Network) (map[string]string, error) {
	mids := map[string]string{}
	if err := c.Info(ctx, network, map[string]string{"type": "allMids"}, &mids); err != nil {
		return nil, err
	}
	return mids, nil
}

// ExtraAgents delegated signers the user approved.
func (c *HyperliquidAPI) ExtraAgents(ctx context.Context, network domain.Network, user string) ([]ExtraAgent, error) {
	var agents []ExtraAgent
	q := map[string]string{"type": "extraAgents", "user": user}
	if err := c.Info(ctx, network, q, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// SpotClearinghouseState spot balances of user.
func (c *HyperliquidAPI) SpotClearinghouseState(ctx context.Context, network domain.Network, user string) (*SpotClearinghouseState, error) {
	var st SpotClearinghouseState
	q := map[string]string{"type": "spotClearinghouseState", "user": user}
	if err := c.Info(ctx, network, q, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UserFillsByTime fills of user since start.
func (c *HyperliquidAPI) UserFillsByTime(ctx context.Context, network domain.Network, user string, start time.Time) ([]UserFill, error) {
	var fills []UserFill
	q := map[string]any{"type": "userFillsByTime", "user": user, "startTime": start.UnixMilli()}
	if err := c.Info(ctx, network, q, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// UserNonFundingLedgerUpdates deposits, withdrawals and transfers of user since start.
func (c *HyperliquidAPI) UserNonFundingLedgerUpdates(ctx context.Context, network domain.Network, user string, start time.Time) ([]LedgerUpdate, error) {
	var updates []LedgerUpdate
	q := map[string]any{"type": "userNonFundingLedgerUpdates", "user": user, "startTime": start.UnixMilli()}
	if err := c.Info(ctx, network, q, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
