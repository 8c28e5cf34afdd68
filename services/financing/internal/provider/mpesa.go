package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kyungseok/laptop-financing/common/circuitbreaker"
	"github.com/kyungseok/laptop-financing/common/retry"
)

var (
	// ErrUnavailable 제공자에 연결할 수 없거나 전송/인증 단계에서 거절됨
	ErrUnavailable = stderrors.New("payment provider unavailable")
	// ErrInvalidPhone 지원하지 않는 전화번호 형식
	ErrInvalidPhone = stderrors.New("invalid phone number")
)

const (
	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

// 제공자는 동아프리카 표준시 타임스탬프로 비밀번호를 검증한다
var eat = time.FixedZone("EAT", 3*60*60)

// PushRequest STK 푸시 요청
type PushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// PushResult 제공자가 발급한 상관관계 식별자
type PushResult struct {
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseDescription string
	CustomerMessage     string
}

// Client 푸시 결제 제공자 인터페이스
type Client interface {
	Push(ctx context.Context, req PushRequest) (*PushResult, error)
}

// Config M-Pesa Daraja 설정
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

// MpesaClient Daraja STK 푸시 클라이언트
type MpesaClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// Option 클라이언트 옵션
type Option func(*MpesaClient)

// WithHTTPClient HTTP 클라이언트 교체
func WithHTTPClient(c *http.Client) Option {
	return func(m *MpesaClient) { m.httpClient = c }
}

// WithRetryConfig 토큰 발급 재시도 설정 교체
func WithRetryConfig(cfg retry.Config) Option {
	return func(m *MpesaClient) { m.retryCfg = cfg }
}

// WithCircuitBreaker 서킷 브레이커 교체
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(m *MpesaClient) { m.breaker = cb }
}

// NewMpesaClient Daraja 클라이언트 생성
func NewMpesaClient(cfg Config, logger *zap.Logger, opts ...Option) *MpesaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 3
	retryCfg.InitialInterval = 200 * time.Millisecond
	retryCfg.MaxElapsedTime = 10 * time.Second
	retryCfg.ShouldRetry = isRetryable

	m := &MpesaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuitbreaker.New(5, 30*time.Second, circuitbreaker.WithFailurePredicate(isBreakerFailure)),
		retryCfg:   retryCfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Push STK 푸시 요청. 실패는 모두 ErrUnavailable로 감싼다
func (m *MpesaClient) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	// 제공자는 정수 금액만 받는다
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, fmt.Errorf("amount %s must be a positive whole number", req.Amount.String())
	}

	var result *PushResult
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		token, err := m.token(ctx)
		if err != nil {
			return err
		}
		result, err = m.stkPush(ctx, token, phone, req)
		return err
	})
	if err != nil {
		m.logger.Warn("stk push failed",
			zap.String("breaker", m.breaker.State().String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.logger.Info("stk push accepted",
		zap.String("checkoutId", result.CheckoutRequestID),
		zap.String("merchantRequestId", result.MerchantRequestID))
	return result, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// token 캐시된 토큰이 만료 1분 전까지는 재사용
func (m *MpesaClient) token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && m.now().Before(m.expiresAt.Add(-time.Minute)) {
		return m.accessToken, nil
	}

	resp, err := retry.DoWithResult(ctx, m.retryCfg, m.logger, func() (*tokenResponse, error) {
		return m.fetchToken(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}

	ttl, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	m.accessToken = resp.AccessToken
	m.expiresAt = m.now().Add(time.Duration(ttl) * time.Second)
	return m.accessToken, nil
}

func (m *MpesaClient) fetchToken(ctx context.Context) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(m.cfg.ConsumerKey, m.cfg.ConsumerSecret)

	var out tokenResponse
	if err := m.do(req, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, stderrors.New("empty access token")
	}
	return &out, nil
}

type stkPushRequest struct {
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

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (m *MpesaClient) stkPush(ctx context.Context, token, phone string, req PushRequest) (*PushResult, error) {
	timestamp := m.now().In(eat).Format(timestampLayout)
	body, err := json.Marshal(stkPushRequest{
		BusinessShortCode: m.cfg.ShortCode,
		Password:          Password(m.cfg.ShortCode, m.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            m.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       m.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	var out stkPushResponse
	if err := m.do(httpReq, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return nil, &rejectedError{code: out.ResponseCode, desc: out.ResponseDescription}
	}

	return &PushResult{
		CheckoutRequestID:   out.CheckoutRequestID,
		MerchantRequestID:   out.MerchantRequestID,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.code, e.body)
}

// rejectedError 제공자가 응답했지만 요청을 받아들이지 않음
type rejectedError struct {
	code string
	desc string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("stk push rejected: code=%s desc=%s", e.code, e.desc)
}

func (m *MpesaClient) do(req *http.Request, out any) error {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// isRetryable 4xx(인증 실패 등)는 재시도해도 결과가 같다
func isRetryable(err error) bool {
	var se *statusError
	if stderrors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

// isBreakerFailure 전송 오류와 5xx만 장애로 센다. 4xx와 거절 응답은 제공자가 응답한 것이다
func isBreakerFailure(err error) bool {
	var se *statusError
	if stderrors.As(err, &se) {
		return se.code >= 500
	}
	var re *rejectedError
	if stderrors.As(err, &re) {
		return false
	}
	return !stderrors.Is(err, context.Canceled)
}

// Password base64(shortcode + passkey + timestamp)
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

// NormalizePhone 07xx/01xx/+254/7xx 형식을 2547xx 형식으로 정규화
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(raw))
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}

	switch {
	case len(phone) == 12 && strings.HasPrefix(phone, "254"):
	case len(phone) == 10 && strings.HasPrefix(phone, "0"):
		phone = "254" + phone[1:]
	case len(phone) == 9:
		phone = "254" + phone
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}

	if phone[3] != '7' && phone[3] != '1' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phone, nil
}
