package provider

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
)

// ErrMissingResultCode 결과 코드 없는 콜백. 성공으로 간주하지 않는다
var ErrMissingResultCode = stderrors.New("callback has no result code")

// CallbackEnvelope STK 푸시 결과 콜백 본문
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback 콜백의 결과 부분
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *ResultCode       `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata 성공 시에만 오는 부가 정보
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem Name/Value 쌍
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// ResultCode 숫자 또는 문자열로 오는 결과 코드
type ResultCode int

func (c *ResultCode) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("invalid result code %s", string(b))
		}
		n = json.Number(s)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("invalid result code %s", string(b))
	}
	*c = ResultCode(v)
	return nil
}

// ParseCallback 콜백 본문 파싱. checkout id나 결과 코드가 없으면 에러
func ParseCallback(body []byte) (*StkCallback, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed callback: %w", err)
	}
	cb := &env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, stderrors.New("malformed callback: missing checkout request id")
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("malformed callback %s: %w", cb.CheckoutRequestID, ErrMissingResultCode)
	}
	return cb, nil
}

// Code 결과 코드 값. ParseCallback을 통과한 콜백에서만 호출한다
func (c *StkCallback) Code() int {
	return int(*c.ResultCode)
}

// ReceiptNumber 영수증 번호. 없으면 빈 문자열
func (c *StkCallback) ReceiptNumber() string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}
