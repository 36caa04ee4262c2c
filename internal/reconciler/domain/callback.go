package domain

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Callback is the normalized form of one provider STK callback.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Amount            int64
	PhoneNumber       string
}

func (c *Callback) Success() bool { return c.ResultCode == 0 }

var ErrInvalidPayload = errors.New("invalid_callback_payload")

type envelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes the provider's callback envelope. A successful
// callback must carry a receipt number in its metadata.
func ParseCallback(payload []byte) (*Callback, error) {
	var raw envelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrInvalidPayload
	}

	stk := raw.Body.StkCallback
	if strings.TrimSpace(stk.CheckoutRequestID) == "" {
		return nil, ErrInvalidPayload
	}

	callback := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}

	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			switch item.Name {
			case "MpesaReceiptNumber":
				if s, ok := item.Value.(string); ok {
					callback.ReceiptNumber = s
				}
			case "Amount":
				if f, ok := item.Value.(float64); ok {
					callback.Amount = int64(f)
				}
			case "PhoneNumber":
				switch v := item.Value.(type) {
				case string:
					callback.PhoneNumber = v
				case float64:
					callback.PhoneNumber = strconv.FormatFloat(v, 'f', -1, 64)
				}
			}
		}
	}

	if callback.Success() && callback.ReceiptNumber == "" {
		return nil, ErrInvalidPayload
	}
	return callback, nil
}
