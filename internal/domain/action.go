package domain

// Wire constants of the order action.
const (
	ActionTypeOrder = "order"
	GroupingNA      = "na"
	TimeInForceIOC  = "Ioc"
)

// TradeAction order action as hashed for signing and as sent in the request body.
// Field order is part of the signed encoding and must not change.
type TradeAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []OrderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

// OrderWire single order inside a TradeAction.
type OrderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Size       string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	OrderType  OrderTypeWire `json:"t" msgpack:"t"`
}

// OrderTypeWire order type selector.
type OrderTypeWire struct {
	Limit *LimitOrderWire `json:"limit,omitempty" msgpack:"limit,omitempty"`
}

// LimitOrderWire limit order parameters.
type LimitOrderWire struct {
	Tif string `json:"tif" msgpack:"tif"`
}

// NewIOCOrderAction builds the single-order immediate-or-cancel action.
// limitPx and size must already be formatted exchange decimal strings.
func NewIOCOrderAction(assetID int, isBuy bool, limitPx, size string) TradeAction {
	return TradeAction{
		Type: ActionTypeOrder,
		Orders: []OrderWire{{
			Asset:      assetID,
			IsBuy:      isBuy,
			LimitPx:    limitPx,
			Size:       size,
			ReduceOnly: false,
			OrderType:  OrderTypeWire{Limit: &LimitOrderWire{Tif: TimeInForceIOC}},
		}},
		Grouping: GroupingNA,
	}
}

// Signature ECDSA signature in the exchange's {r,s,v} form.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}
