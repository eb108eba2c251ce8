package pricer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMids struct {
	mids    map[string]string
	err     error
	network domain.Network
}

func (f *fakeMids) AllMids(_ context.Context, network domain.Network) (map[string]string, error) {
	f.network = network
	return f.mids, f.err
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) *clients.HyperliquidAPI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return clients.NewHyperliquidAPI(clients.APIConfig{
		MainnetURL: server.URL,
		TestnetURL: server.URL,
		Timeout:    200 * time.Millisecond,
		RateLimit:  1000,
		BaseDelay:  time.Millisecond,
	}, zap.NewNop())
}

func TestHyperliquidPricer_Mids(t *testing.T) {
	src := &fakeMids{mids: map[string]string{"BTC": "50000", "@107": "12.5", "BAD": "x"}}
	p := NewHyperliquidPricer(src)

	mids, err := p.Mids(context.Background(), domain.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkTestnet, src.network)
	assert.Len(t, mids, 2)

	px, ok := mids.Lookup("UBTC", "BTC")
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.NewFromInt(50000)))

	_, ok = mids.Lookup("BAD", "ETH")
	assert.False(t, ok)
}

func TestHyperliquidPricer_Errors(t *testing.T) {
	p := NewHyperliquidPricer(&fakeMids{err: errors.New("boom")})
	_, err := p.Mids(context.Background(), domain.NetworkMainnet)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))

	_, err = p.Mids(context.Background(), domain.Network("devnet"))
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))

	_, err = NewHyperliquidPricer(&fakeMids{mids: map[string]string{}}).Mids(context.Background(), domain.NetworkMainnet)
	assert.Equal(t, domain.KindExchangeRejected, domain.KindOf(err))
}

func TestHyperliquidPricer_ExchangeUnavailable(t *testing.T) {
	var calls int32
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	var err error
	assert.NotPanics(t, func() {
		_, err = NewHyperliquidPricer(api).Mids(context.Background(), domain.NetworkMainnet)
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindExchangeRejected, domain.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "one allMids request, status errors are final")
}

func TestHyperliquidPricer_ConnectionDropsAreRetried(t *testing.T) {
	var calls int32
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	})

	_, err := NewHyperliquidPricer(api).Mids(context.Background(), domain.NetworkMainnet)
	require.Error(t, err)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHyperliquidPricer_ThroughAPI(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"BTC":"50000","@142":"49950.5"}`))
	})

	mids, err := NewHyperliquidPricer(api).Mids(context.Background(), domain.NetworkMainnet)
	require.NoError(t, err)
	px, ok := mids.Lookup("@142")
	require.True(t, ok)
	assert.Equal(t, "49950.5", px.String())
}
