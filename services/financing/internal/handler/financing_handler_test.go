package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kyungseok/laptop-financing/common/errors"
	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
	"github.com/kyungseok/laptop-financing/services/financing/internal/repository"
	"github.com/kyungseok/laptop-financing/services/financing/internal/service"
)

const testSecret = "test-secret"

type fakeApplications struct {
	service.ApplicationService
	apply  func(p domain.Principal, laptopID string) (*domain.Application, error)
	decide func(p domain.Principal, id, decision string) (*domain.ApplicationView, error)
	list   func(p domain.Principal, status string) ([]*domain.ApplicationView, error)
}

func (f *fakeApplications) Apply(_ context.Context, p domain.Principal, laptopID string) (*domain.Application, error) {
	return f.apply(p, laptopID)
}

func (f *fakeApplications) Decide(_ context.Context, p domain.Principal, id, decision string) (*domain.ApplicationView, error) {
	return f.decide(p, id, decision)
}

func (f *fakeApplications) List(_ context.Context, p domain.Principal, status string) ([]*domain.ApplicationView, error) {
	return f.list(p, status)
}

type fakePayments struct {
	service.PaymentService
	initiate   func(p domain.Principal, cmd service.InitiatePaymentCommand) (*service.InitiatePaymentResult, error)
	reconcile  func(cb service.CallbackResult) (*domain.Payment, error)
	reconciled []service.CallbackResult
}

func (f *fakePayments) Initiate(_ context.Context, p domain.Principal, cmd service.InitiatePaymentCommand) (*service.InitiatePaymentResult, error) {
	return f.initiate(p, cmd)
}

func (f *fakePayments) Reconcile(_ context.Context, cb service.CallbackResult) (*domain.Payment, error) {
	f.reconciled = append(f.reconciled, cb)
	if f.reconcile == nil {
		return nil, nil
	}
	return f.reconcile(cb)
}

type fakeInventory struct {
	service.InventoryService
}

type fixture struct {
	router   *gin.Engine
	apps     *fakeApplications
	payments *fakePayments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t)
	apps := &fakeApplications{}
	payments := &fakePayments{}
	h := NewHandler(apps, payments, &fakeInventory{}, logger)

	return &fixture{
		router:   NewRouter(h, NewAuthenticator(testSecret), logger),
		apps:     apps,
		payments: payments,
	}
}

func token(t *testing.T, id uuid.UUID, role string, year *int) string {
	t.Helper()
	claims := Claims{
		Role: role,
		Year: year,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestAuth_MissingToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/applications", "", `{"laptopId":"x"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
}

func TestAuth_RejectsWrongSecretAndUnknownRole(t *testing.T) {
	f := newFixture(t)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/applications", forged, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodGet, "/api/applications", token(t, uuid.New(), "parent", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApply_PassesPrincipalAndReturnsCreated(t *testing.T) {
	f := newFixture(t)
	studentID := uuid.New()
	laptopID := uuid.New()
	year := 2

	f.apps.apply = func(p domain.Principal, id string) (*domain.Application, error) {
		assert.Equal(t, studentID, p.ID)
		assert.Equal(t, domain.RoleStudent, p.Role)
		require.NotNil(t, p.Year)
		assert.Equal(t, 2, *p.Year)
		assert.Equal(t, laptopID.String(), id)
		return &domain.Application{
			ID:         uuid.New(),
			StudentID:  studentID,
			LaptopID:   laptopID,
			Year:       2,
			Status:     domain.ApplicationStatusPending,
			AmountPaid: decimal.Zero,
		}, nil
	}

	w := f.do(http.MethodPost, "/api/applications", token(t, studentID, "student", &year),
		`{"laptopId":"`+laptopID.String()+`"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp applicationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ApplicationStatusPending, resp.Status)
	assert.Equal(t, laptopID, resp.LaptopID)
}

func TestApply_ValidationAndErrorMapping(t *testing.T) {
	f := newFixture(t)
	year := 4
	bearer := token(t, uuid.New(), "student", &year)

	w := f.do(http.MethodPost, "/api/applications", bearer, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(errors.ErrCodeInvalidInput), decodeError(t, w).Code)

	w = f.do(http.MethodPost, "/api/applications", bearer, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.apps.apply = func(domain.Principal, string) (*domain.Application, error) {
		return nil, errors.New(errors.ErrCodeIneligible, "final year students cannot apply")
	}
	w = f.do(http.MethodPost, "/api/applications", bearer, `{"laptopId":"abc"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, string(errors.ErrCodeIneligible), body.Code)
	assert.Equal(t, "final year students cannot apply", body.Message)
}

func TestDecide_InternalErrorsAreNotLeaked(t *testing.T) {
	f := newFixture(t)
	f.apps.decide = func(domain.Principal, string, string) (*domain.ApplicationView, error) {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to update application", assert.AnError)
	}

	w := f.do(http.MethodPatch, "/api/applications/"+uuid.NewString()+"/status",
		token(t, uuid.New(), "admin", nil), `{"status":"Approved"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, string(errors.ErrCodeDatabaseError), body.Code)
	assert.Equal(t, "internal error", body.Message)
}

func TestListApplications_ForwardsStatusFilter(t *testing.T) {
	f := newFixture(t)
	f.apps.list = func(_ domain.Principal, status string) ([]*domain.ApplicationView, error) {
		assert.Equal(t, "Pending", status)
		return []*domain.ApplicationView{{
			Application: domain.Application{ID: uuid.New(), Status: domain.ApplicationStatusPending},
			Student:     domain.StudentSummary{Name: "Amina"},
		}}, nil
	}

	w := f.do(http.MethodGet, "/api/applications?status=Pending", token(t, uuid.New(), "admin", nil), "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp []applicationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Student)
	assert.Equal(t, "Amina", resp[0].Student.Name)
}

func TestInitiatePayment_ReturnsCheckoutAndSuggestion(t *testing.T) {
	f := newFixture(t)
	f.payments.initiate = func(_ domain.Principal, cmd service.InitiatePaymentCommand) (*service.InitiatePaymentResult, error) {
		assert.True(t, decimal.NewFromInt(5000).Equal(cmd.Amount))
		assert.Equal(t, "0712345678", cmd.PhoneNumber)
		return &service.InitiatePaymentResult{
			Payment: &domain.Payment{
				CheckoutID:     "ws_CO_001",
				RemainingAfter: decimal.NewFromInt(45000),
			},
			CustomerMessage:      "Success. Request accepted for processing",
			SuggestedInstallment: decimal.NewFromInt(4500),
		}, nil
	}

	w := f.do(http.MethodPost, "/api/payments", token(t, uuid.New(), "student", nil),
		`{"laptopId":"`+uuid.NewString()+`","phoneNumber":"0712345678","amount":5000}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp InitiatePaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ws_CO_001", resp.CheckoutRequestID)
	assert.True(t, decimal.NewFromInt(4500).Equal(resp.SuggestedInstallment))
	assert.True(t, decimal.NewFromInt(45000).Equal(resp.RemainingBalance))
}

func TestInitiatePayment_ProviderUnavailable(t *testing.T) {
	f := newFixture(t)
	f.payments.initiate = func(domain.Principal, service.InitiatePaymentCommand) (*service.InitiatePaymentResult, error) {
		return nil, errors.Wrap(errors.ErrCodeProviderUnavailable, "payment could not be started", assert.AnError)
	}

	w := f.do(http.MethodPost, "/api/payments", token(t, uuid.New(), "student", nil),
		`{"laptopId":"x","phoneNumber":"0712345678","amount":"100"}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "payment could not be started", decodeError(t, w).Message)
}

func TestCallback_ReconcilesWithoutAuth(t *testing.T) {
	f := newFixture(t)
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_001",
		"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":5000},{"Name":"MpesaReceiptNumber","Value":"QK12ABC"}]}}}}`

	w := f.do(http.MethodPost, "/api/payments/callback", "", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	require.Len(t, f.payments.reconciled, 1)
	got := f.payments.reconciled[0]
	assert.Equal(t, "ws_CO_001", got.CheckoutID)
	assert.Equal(t, 0, got.ResultCode)
	assert.Equal(t, "QK12ABC", got.ReceiptNumber)
}

func TestCallback_MalformedIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`garbage`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		w := f.do(http.MethodPost, "/api/payments/callback", "", body)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Empty(t, f.payments.reconciled)
}

func TestCallback_WithoutResultCodeLeavesPaymentPending(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/payments/callback", "", `{"Body":{"stkCallback":{"CheckoutRequestID":"x"}}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, w.Body.String())
	assert.Empty(t, f.payments.reconciled)
}

func TestCallback_StoreFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.payments.reconcile = func(service.CallbackResult) (*domain.Payment, error) {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to settle payment", repository.ErrNotFound)
	}

	w := f.do(http.MethodPost, "/api/payments/callback", "",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_9","ResultCode":"1032","ResultDesc":"Request cancelled by user"}}}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, f.payments.reconciled, 1)
	assert.Equal(t, 1032, f.payments.reconciled[0].ResultCode)
}

func TestStatusFor(t *testing.T) {
	cases := map[errors.ErrorCode]int{
		errors.ErrCodeInvalidReference:    http.StatusBadRequest,
		errors.ErrCodeInvalidStatus:       http.StatusBadRequest,
		errors.ErrCodeNotFound:            http.StatusNotFound,
		errors.ErrCodeForbidden:           http.StatusForbidden,
		errors.ErrCodeExceedsBalance:      http.StatusUnprocessableEntity,
		errors.ErrCodeUnavailable:         http.StatusConflict,
		errors.ErrCodeDuplicatePending:    http.StatusConflict,
		errors.ErrCodeConflict:            http.StatusConflict,
		errors.ErrCodeProviderUnavailable: http.StatusBadGateway,
		errors.ErrCodeNetworkError:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFor(code), code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "financing_http_requests_total")
}
