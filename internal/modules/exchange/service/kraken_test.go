package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"threshold_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="

func TestSign_KnownVector(t *testing.T) {
	sig, err := Sign(
		"/0/private/AddOrder",
		"1616492376594",
		"nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25",
		testSecret,
	)
	require.NoError(t, err)
	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", sig)

	_, err = Sign("/0/private/Balance", "1", "nonce=1", "%%%not-base64")
	assert.Error(t, err)
}

type krakenStub struct {
	t *testing.T

	mu     sync.Mutex
	ticker string
	orders []url.Values
	nonces []int64
}

func (s *krakenStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/0/public/Ticker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(s.t, "XMRUSD", r.URL.Query().Get("pair"))
		_, _ = io.WriteString(w, s.ticker)
	})
	mux.HandleFunc("/0/private/Balance", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkSigned(w, r) {
			return
		}
		_, _ = io.WriteString(w, `{"error":[],"result":{"XXMR":"1.25","XMR.F":"9","ZUSD":"40.5","USD":"2.5","XXBT":"3"}}`)
	})
	mux.HandleFunc("/0/private/AddOrder", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkSigned(w, r) {
			return
		}
		_, _ = io.WriteString(w, `{"error":[],"result":{"descr":{"order":"buy 0.5 XMRUSD @ market"},"txid":["OUF4EM-FRGI2-MQMWZD","OXB5EM-AAAAA-BBBBBB"]}}`)
	})
	return mux
}

func (s *krakenStub) checkSigned(w http.ResponseWriter, r *http.Request) bool {
	body, _ := io.ReadAll(r.Body)
	form, err := url.ParseQuery(string(body))
	require.NoError(s.t, err)

	nonce := form.Get("nonce")
	want, err := Sign(r.URL.Path, nonce, string(body), testSecret)
	require.NoError(s.t, err)
	if r.Header.Get("API-Key") != "key" || r.Header.Get("API-Sign") != want {
		_, _ = io.WriteString(w, `{"error":["EAPI:Invalid signature"]}`)
		return false
	}

	n, _ := strconv.ParseInt(nonce, 10, 64)
	s.mu.Lock()
	s.nonces = append(s.nonces, n)
	if r.URL.Path == "/0/private/AddOrder" {
		s.orders = append(s.orders, form)
	}
	s.mu.Unlock()
	return true
}

func newKrakenStub(t *testing.T) (*krakenStub, *KrakenClient) {
	stub := &krakenStub{t: t, ticker: `{"error":[],"result":{"XXMRZUSD":{"a":["160.1","1","1.000"],"c":["160.00000000","0.1"]}}}`}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	c := NewKrakenClient(KrakenConfig{
		BaseURL:    srv.URL + "/",
		APIKey:     "key",
		APISecret:  testSecret,
		Pair:       "XMRUSD",
		BaseAsset:  "XMR",
		QuoteAsset: "USD",
		Timeout:    2 * time.Second,
	})
	return stub, c
}

func TestKraken_Price(t *testing.T) {
	_, c := newKrakenStub(t)

	price, err := c.Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 160.0, price)
}

func TestKraken_PriceErrors(t *testing.T) {
	stub, c := newKrakenStub(t)

	stub.ticker = `{"error":["EQuery:Unknown asset pair"]}`
	_, err := c.Price(context.Background())
	assert.ErrorContains(t, err, "Unknown asset pair")

	stub.ticker = `{"error":[],"result":{}}`
	_, err = c.Price(context.Background())
	assert.Error(t, err)

	stub.ticker = `{"error":[],"result":{"XXMRZUSD":{"c":["abc","1"]}}}`
	_, err = c.Price(context.Background())
	assert.Error(t, err)
}

func TestKraken_BalancesSumAliases(t *testing.T) {
	_, c := newKrakenStub(t)

	bal, err := c.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Balances{Base: 1.25, Quote: 43.0}, bal)
}

func TestKraken_BadSignatureIsError(t *testing.T) {
	_, c := newKrakenStub(t)
	c.SetCreds("key", "b3RoZXI=")

	_, err := c.Balances(context.Background())
	assert.ErrorContains(t, err, "Invalid signature")
}

func TestKraken_PrivateWithoutCreds(t *testing.T) {
	_, c := newKrakenStub(t)
	c.SetCreds("", "")

	_, err := c.Balances(context.Background())
	assert.Error(t, err)
}

func TestKraken_MarketBuyConvertsNotional(t *testing.T) {
	stub, c := newKrakenStub(t)

	ref, err := c.MarketBuy(context.Background(), 80)
	require.NoError(t, err)
	assert.Equal(t, "OUF4EM-FRGI2-MQMWZD,OXB5EM-AAAAA-BBBBBB", ref.Ref())
	assert.NotEmpty(t, ref.ClientOrderID)

	require.Len(t, stub.orders, 1)
	o := stub.orders[0]
	assert.Equal(t, "XMRUSD", o.Get("pair"))
	assert.Equal(t, "buy", o.Get("type"))
	assert.Equal(t, "market", o.Get("ordertype"))
	assert.Equal(t, "0.50000000", o.Get("volume"))
	assert.Equal(t, ref.ClientOrderID, o.Get("cl_ord_id"))
}

func TestKraken_MarketSellAndNonceGrowth(t *testing.T) {
	stub, c := newKrakenStub(t)
	ctx := context.Background()

	_, err := c.MarketSell(ctx, 0.123456789)
	require.NoError(t, err)
	_, err = c.MarketSell(ctx, 1)
	require.NoError(t, err)

	require.Len(t, stub.orders, 2)
	assert.Equal(t, "sell", stub.orders[0].Get("type"))
	assert.Equal(t, "0.12345679", stub.orders[0].Get("volume"))
	assert.Equal(t, "1.00000000", stub.orders[1].Get("volume"))
	assert.Greater(t, stub.nonces[1], stub.nonces[0])
}

func TestKraken_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewKrakenClient(KrakenConfig{BaseURL: srv.URL, Pair: "XMRUSD"})
	_, err := c.Price(context.Background())
	assert.ErrorContains(t, err, "http 503")
}

func TestAssetAliases(t *testing.T) {
	assert.Equal(t, []string{"XMR", "XXMR", "ZXMR"}, assetAliases("xmr"))
	assert.Equal(t, []string{"USD", "XUSD", "ZUSD"}, assetAliases("USD"))
	assert.Contains(t, assetAliases("BTC"), "XXBT")
}
