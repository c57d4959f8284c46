package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"threshold_bot/internal/metrics"
	"threshold_bot/internal/models"
	"threshold_bot/pkg/logger"
	"threshold_bot/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type KrakenConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Pair       string
	BaseAsset  string
	QuoteAsset string
	Timeout    time.Duration
}

// KrakenClient — спотовый REST-клиент на одну пару.
type KrakenClient struct {
	cfg  KrakenConfig
	http *http.Client

	nonceMu   sync.Mutex
	lastNonce int64
}

func NewKrakenClient(cfg KrakenConfig) *KrakenClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &KrakenClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (k *KrakenClient) SetCreds(key, secret string) { k.cfg.APIKey, k.cfg.APISecret = key, secret }

// ===== public =====

// Price — цена последней сделки (c[0]) по паре.
func (k *KrakenClient) Price(ctx context.Context) (price float64, err error) {
	ctx, finish := tracing.Start(ctx, "kraken.Ticker")
	defer func() { finish(err) }()

	var res map[string]tickerInfo
	if err = k.public(ctx, "Ticker", url.Values{"pair": {k.cfg.Pair}}, &res); err != nil {
		return 0, k.fail("Ticker", err)
	}
	// ключ — внутреннее имя пары (XXMRZUSD), берём первый
	for _, t := range res {
		if len(t.Close) == 0 {
			break
		}
		price, err = strconv.ParseFloat(t.Close[0], 64)
		if err != nil {
			return 0, k.fail("Ticker", errors.Wrapf(err, "parse ticker for %s", k.cfg.Pair))
		}
		return price, nil
	}
	return 0, k.fail("Ticker", errors.Errorf("empty ticker for %s", k.cfg.Pair))
}

// ===== private =====

// Balances суммирует все алиасы базового и котируемого актива.
func (k *KrakenClient) Balances(ctx context.Context) (out models.Balances, err error) {
	ctx, finish := tracing.Start(ctx, "kraken.Balance")
	defer func() { finish(err) }()

	var raw map[string]string
	if err = k.private(ctx, "Balance", url.Values{}, &raw); err != nil {
		return models.Balances{}, k.fail("Balance", err)
	}
	out.Base = sumAliases(raw, k.cfg.BaseAsset)
	out.Quote = sumAliases(raw, k.cfg.QuoteAsset)
	return out, nil
}

// MarketBuy переводит нотионал в объём по свежей цене тикера.
func (k *KrakenClient) MarketBuy(ctx context.Context, notionalQuote float64) (models.OrderRef, error) {
	price, err := k.Price(ctx)
	if err != nil || price <= 0 {
		logger.Error("Cannot place buy: invalid current price")
		return models.OrderRef{}, errors.New("cannot place buy: invalid current price")
	}
	return k.addOrder(ctx, models.SideBuy, notionalQuote/price)
}

func (k *KrakenClient) MarketSell(ctx context.Context, qtyBase float64) (models.OrderRef, error) {
	return k.addOrder(ctx, models.SideSell, qtyBase)
}

func (k *KrakenClient) addOrder(ctx context.Context, side models.Side, volume float64) (ref models.OrderRef, err error) {
	ctx, finish := tracing.Start(ctx, "kraken.AddOrder")
	defer func() { finish(err) }()

	clientID := uuid.NewString()
	form := url.Values{
		"pair":      {k.cfg.Pair},
		"type":      {string(side)},
		"ordertype": {"market"},
		"volume":    {strconv.FormatFloat(volume, 'f', 8, 64)},
		"cl_ord_id": {clientID},
	}
	var res addOrderResult
	if err = k.private(ctx, "AddOrder", form, &res); err != nil {
		return models.OrderRef{}, k.fail("AddOrder", err)
	}
	logger.Info("Kraken order accepted: %s (txid=%s, cl_ord_id=%s)", res.Descr.Order, strings.Join(res.TxID, ","), clientID)
	return models.OrderRef{TxIDs: res.TxID, ClientOrderID: clientID}, nil
}

// ===== transport =====

func (k *KrakenClient) public(ctx context.Context, method string, q url.Values, out any) error {
	u := k.cfg.BaseURL + "/0/public/" + method
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return k.do(req, out)
}

func (k *KrakenClient) private(ctx context.Context, method string, form url.Values, out any) error {
	if k.cfg.APIKey == "" || k.cfg.APISecret == "" {
		return errors.New("kraken api credentials are not set")
	}
	path := "/0/private/" + method
	nonce := k.nextNonce()
	form.Set("nonce", nonce)
	body := form.Encode()

	sig, err := Sign(path, nonce, body, k.cfg.APISecret)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.cfg.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("API-Key", k.cfg.APIKey)
	req.Header.Set("API-Sign", sig)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	return k.do(req, out)
}

func (k *KrakenClient) do(req *http.Request, out any) error {
	resp, err := k.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var wrap krakenResponse
	if err := sonic.Unmarshal(body, &wrap); err != nil {
		return errors.Wrap(err, "decode kraken response")
	}
	if len(wrap.Error) > 0 {
		return fmt.Errorf("kraken error: %s", strings.Join(wrap.Error, "; "))
	}
	if out == nil || len(wrap.Result) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(wrap.Result, out); err != nil {
		return errors.Wrap(err, "decode kraken result")
	}
	return nil
}

// fail логирует и считает ошибку: наверх уходит только значение.
func (k *KrakenClient) fail(method string, err error) error {
	metrics.IncExchangeError(method)
	logger.Error("Kraken API error on %s: %v", method, err)
	return errors.Wrapf(err, "kraken %s", method)
}

// nextNonce — миллисекунды, строго возрастающие в пределах процесса.
func (k *KrakenClient) nextNonce() string {
	k.nonceMu.Lock()
	defer k.nonceMu.Unlock()
	n := time.Now().UnixMilli()
	if n <= k.lastNonce {
		n = k.lastNonce + 1
	}
	k.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// Sign: API-Sign = base64(HMAC-SHA512(path + SHA256(nonce + postdata), base64decode(secret))).
func Sign(path, nonce, postData, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", errors.Wrap(err, "decode api secret")
	}
	sha := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func sumAliases(raw map[string]string, asset string) float64 {
	var total float64
	for _, code := range assetAliases(asset) {
		v, ok := raw[code]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.Warn("Kraken balance %s=%q is not a number", code, v)
			continue
		}
		total += f
	}
	return total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
