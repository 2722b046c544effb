package paymentgateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	TransactionTypePayBillOnline = "CustomerPayBillOnline"

	// ErrorCodeRequestInProcess is returned by the query endpoint while the push is outstanding.
	ErrorCodeRequestInProcess = "500.001.1001"

	ResultCodeSuccess          = 0
	ResultCodeInsufficientFund = 1
	ResultCodeCancelledByUser  = 1032
	ResultCodeUnreachable      = 1037
	ResultCodeStillProcessing  = 4999
)

// ResultCode is the provider outcome code. The callback sends it as a number,
// the query endpoint as a string; both decode to the same int.
type ResultCode int

func (c *ResultCode) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return fmt.Errorf("result code is null")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid result code %q: %w", s, err)
	}
	*c = ResultCode(n)
	return nil
}

func (c ResultCode) Int() int {
	return int(c)
}

func (c ResultCode) IsSuccess() bool {
	return c == ResultCodeSuccess
}

type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string      `json:"ResponseCode"`
	ResponseDescription string      `json:"ResponseDescription"`
	MerchantRequestID   string      `json:"MerchantRequestID"`
	CheckoutRequestID   string      `json:"CheckoutRequestID"`
	ResultCode          *ResultCode `json:"ResultCode"`
	ResultDesc          string      `json:"ResultDesc"`
}

// ErrorResponse is the body Daraja returns on non-2xx responses.
type ErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type CallbackEnvelope struct {
	Body *CallbackBody `json:"Body"`
}

type CallbackBody struct {
	STKCallback *STKCallback `json:"stkCallback"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *ResultCode       `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem values are numbers or strings depending on the item name.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// String renders the item value without quotes, keeping numbers in their literal form.
func (i CallbackItem) String() string {
	raw := bytes.TrimSpace(i.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}

// Lookup finds an item by name; item order is not significant.
func (m *CallbackMetadata) Lookup(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, item := range m.Item {
		if item.Name == name {
			v := item.String()
			return v, v != ""
		}
	}
	return "", false
}

// TimeoutNotification is posted to the queue timeout URL.
type TimeoutNotification struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
	MerchantRequestID string `json:"MerchantRequestID,omitempty"`
}

// Ack is the acknowledgement envelope the provider expects from webhooks.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
