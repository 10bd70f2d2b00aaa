package mpesa

import (
	"github.com/shopspring/decimal"
)

// Item represents a key-value pair from the callback metadata array.
type Item struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// CallbackPayload represents the STK push result the gateway posts back.
type CallbackPayload struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []Item `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseMetadata converts the callback's metadata array to a clean map.
// Input example: [{"Name": "Amount", "Value": 100}, {"Name": "MpesaReceiptNumber", "Value": "ABC123"}]
// Output: {"Amount": 100, "MpesaReceiptNumber": "ABC123"}
func ParseMetadata(items []Item) map[string]interface{} {
	result := make(map[string]interface{}, len(items))
	for _, item := range items {
		if item.Name != "" {
			result[item.Name] = item.Value
		}
	}
	return result
}

// MetadataAmount extracts the reported amount from parsed metadata. The
// second return is false when no usable amount is present. The gateway
// sends the value as a JSON number; a decoded string is tolerated too.
func MetadataAmount(metadata map[string]interface{}) (decimal.Decimal, bool) {
	v, ok := metadata["Amount"]
	if !ok || v == nil {
		return decimal.Zero, false
	}

	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}

	return decimal.Zero, false
}

// MetadataReceipt extracts the gateway receipt number, if present.
func MetadataReceipt(metadata map[string]interface{}) (string, bool) {
	v, ok := metadata["MpesaReceiptNumber"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
