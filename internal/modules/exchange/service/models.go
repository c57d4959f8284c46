package service

import "encoding/json"

// krakenResponse — общая обёртка REST-ответов Kraken.
type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type tickerInfo struct {
	// c = [цена последней сделки, объём]
	Close []string `json:"c"`
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

// ws v2

type wsRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type wsFrame struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Method  string `json:"method"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
	} `json:"data"`
}
