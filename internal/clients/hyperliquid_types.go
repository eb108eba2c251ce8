package clients

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// SpotMeta response of the spotMeta info query.
type SpotMeta struct {
	Universe []SpotUniverseEntry `json:"universe"`
	Tokens   []SpotToken         `json:"tokens"`
}

// SpotUniverseEntry one spot market. Precision fields are optional.
type SpotUniverseEntry struct {
	Name        string  `json:"name"`
	Tokens      []int   `json:"tokens"`
	Index       int     `json:"index"`
	IsCanonical bool    `json:"isCanonical"`
	SzDecimals  *int32  `json:"szDecimals,omitempty"`
	MinSz       *string `json:"minSz,omitempty"`
}

// SpotToken listed token.
type SpotToken struct {
	Name        string `json:"name"`
	SzDecimals  *int32 `json:"szDecimals,omitempty"`
	WeiDecimals int    `json:"weiDecimals"`
	Index       int    `json:"index"`
	TokenID     string `json:"tokenId"`
}

// TokenByIndex returns the token with the given index.
func (m *SpotMeta) TokenByIndex(idx int) (SpotToken, bool) {
	for _, t := range m.Tokens {
		if t.Index == idx {
			return t, true
		}
	}
	return SpotToken{}, false
}

// ExtraAgent approved delegated signer. ValidUntil is unix millis.
type ExtraAgent struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	ValidUntil int64  `json:"validUntil"`
}

// SpotClearinghouseState response of the spotClearinghouseState query.
type SpotClearinghouseState struct {
	Balances []SpotBalance `json:"balances"`
}

// SpotBalance token balance, amounts are decimal strings.
type SpotBalance struct {
	Coin  string `json:"coin"`
	Token int    `json:"token"`
	Hold  string `json:"hold"`
	Total string `json:"total"`
}

// UserFill one fill. Side is "B" for buys and "A" for sells.
type UserFill struct {
	Coin string `json:"coin"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Time int64  `json:"time"`
	Hash string `json:"hash"`
	Oid  int64  `json:"oid"`
	Fee  string `json:"fee"`
}

// LedgerUpdate non-funding ledger entry.
type LedgerUpdate struct {
	Time  int64       `json:"time"`
	Hash  string      `json:"hash"`
	Delta LedgerDelta `json:"delta"`
}

// LedgerDelta change carried by a ledger entry.
type LedgerDelta struct {
	Type string `json:"type"`
	Usdc string `json:"usdc"`
}

const (
	ResponseStatusOK  = "ok"
	ResponseStatusErr = "err"
)

// ExchangeResponse body of an /exchange call. Response is a string when
// Status is "err" and an object otherwise.
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// ErrorMessage returns the exchange message of an "err" response.
func (r *ExchangeResponse) ErrorMessage() string {
	var msg string
	if err := json.Unmarshal(r.Response, &msg); err == nil {
		return msg
	}
	return string(r.Response)
}

// OrderStatus one entry of an order response. Exactly one field is set for a
// well-formed entry; Other holds plain string statuses.
type OrderStatus struct {
	Filled  *FilledStatus
	Resting *RestingStatus
	Error   string
	Other   string
}

// FilledStatus immediately matched part of an order.
type FilledStatus struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
}

// RestingStatus order placed on the book.
type RestingStatus struct {
	Oid int64 `json:"oid"`
}

// UnmarshalJSON accepts both object and plain string statuses.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Other)
	}
	var raw struct {
		Filled  *FilledStatus  `json:"filled"`
		Resting *RestingStatus `json:"resting"`
		Error   *string        `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Filled = raw.Filled
	s.Resting = raw.Resting
	if raw.Error != nil {
		s.Error = *raw.Error
	}
	return nil
}

// OrderStatuses decodes the statuses of an "ok" order response.
func (r *ExchangeResponse) OrderStatuses() ([]OrderStatus, error) {
	var body struct {
		Type string `json:"type"`
		Data *struct {
			Statuses []OrderStatus `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(r.Response, &body); err != nil {
		return nil, errors.Wrap(err, "decode order response")
	}
	if body.Data == nil {
		return nil, errors.Errorf("order response has no data: %s", string(r.Response))
	}
	return body.Data.Statuses, nil
}
