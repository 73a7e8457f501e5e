package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bankcards/internal/auth"
	apperrors "bankcards/internal/errors"
	"bankcards/internal/model"
	"bankcards/internal/service"
)

// MockTransferService is a mock implementation of TransferService.
type MockTransferService struct {
	mock.Mock
}

func (m *MockTransferService) CreateTransfer(ctx context.Context, username string, in service.CreateTransferInput) (*service.TransferView, error) {
	args := m.Called(ctx, username, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TransferView), args.Error(1)
}

func (m *MockTransferService) ListUserTransfers(ctx context.Context, username string) ([]service.TransferView, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.TransferView), args.Error(1)
}

func (m *MockTransferService) ListCardTransfers(ctx context.Context, cardID uuid.UUID, username string) ([]service.TransferView, error) {
	args := m.Called(ctx, cardID, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.TransferView), args.Error(1)
}

func (m *MockTransferService) GetTransfer(ctx context.Context, transferID uuid.UUID, username string) (*service.TransferView, error) {
	args := m.Called(ctx, transferID, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.TransferView), args.Error(1)
}

// MockCardService is a mock implementation of CardService.
type MockCardService struct {
	mock.Mock
}

func (m *MockCardService) ListUserCards(ctx context.Context, username string) ([]service.CardView, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.CardView), args.Error(1)
}

func (m *MockCardService) GetBalance(ctx context.Context, cardID uuid.UUID, username string) (decimal.Decimal, error) {
	args := m.Called(ctx, cardID, username)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

func newContext(t *testing.T, method, target, body, username string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if username != "" {
		c.Set("user", &auth.Claims{Username: username})
	}
	return c, rec
}

func assertHTTPError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, status, he.Code)
	resp, ok := he.Message.(apperrors.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, code, resp.Code)
}

func sampleView() *service.TransferView {
	dst := uuid.New()
	return &service.TransferView{
		ID:                    uuid.New(),
		SourceCardID:          uuid.New(),
		SourceCardNumber:      "4111 **** **** 1111",
		DestinationCardID:     &dst,
		DestinationCardNumber: "5500 **** **** 5559",
		Amount:                decimal.RequireFromString("100"),
		Status:                model.TransferOutcomeSuccess,
		CreatedAt:             time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCreateTransfer_Success(t *testing.T) {
	svc := new(MockTransferService)
	h := NewTransferHandler(svc)
	source := uuid.New()
	view := sampleView()

	svc.On("CreateTransfer", mock.Anything, "u1", service.CreateTransferInput{
		SourceCardID:          source,
		DestinationCardNumber: "5500005555555559",
		Amount:                decimal.RequireFromString("100.00"),
		Description:           "rent",
	}).Return(view, nil)

	body := `{"source_card_id":"` + source.String() + `","destination_card_number":"5500005555555559","amount":"100.00","description":"rent"}`
	c, rec := newContext(t, http.MethodPost, "/api/transfers", body, "u1")

	require.NoError(t, h.CreateTransfer(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp TransferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, view.ID.String(), resp.ID)
	assert.Equal(t, "100.00", resp.Amount)
	assert.Equal(t, "SUCCESS", resp.Status)
	assert.Equal(t, "5500 **** **** 5559", resp.DestinationCardNumber)
	assert.Equal(t, "2024-01-02T03:04:05Z", resp.CreatedAt)
	assert.NotContains(t, rec.Body.String(), "5500005555555559")
	svc.AssertExpectations(t)
}

func TestCreateTransfer_BadRequests(t *testing.T) {
	source := uuid.New().String()
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "malformed json", body: `{`, wantCode: "INVALID_REQUEST"},
		{name: "missing source", body: `{"destination_card_number":"5500005555555559","amount":"1"}`, wantCode: "VALIDATION_ERROR"},
		{name: "source not uuid", body: `{"source_card_id":"abc","destination_card_number":"5500005555555559","amount":"1"}`, wantCode: "VALIDATION_ERROR"},
		{name: "missing amount", body: `{"source_card_id":"` + source + `","destination_card_number":"5500005555555559"}`, wantCode: "VALIDATION_ERROR"},
		{name: "amount not a number", body: `{"source_card_id":"` + source + `","destination_card_number":"5500005555555559","amount":"ten"}`, wantCode: "INVALID_AMOUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockTransferService)
			h := NewTransferHandler(svc)
			c, _ := newContext(t, http.MethodPost, "/api/transfers", tt.body, "u1")

			assertHTTPError(t, h.CreateTransfer(c), http.StatusBadRequest, tt.wantCode)
			svc.AssertNotCalled(t, "CreateTransfer", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateTransfer_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "insufficient funds", err: apperrors.InsufficientFunds("c", decimal.NewFromInt(1), decimal.NewFromInt(2)), wantStatus: http.StatusBadRequest, wantCode: "INSUFFICIENT_FUNDS"},
		{name: "ownership", err: apperrors.OwnershipDenied("c"), wantStatus: http.StatusForbidden, wantCode: "CARD_OWNERSHIP"},
		{name: "not active", err: apperrors.CardNotActive("c", "BLOCKED"), wantStatus: http.StatusConflict, wantCode: "CARD_NOT_ACTIVE"},
		{name: "not found", err: apperrors.CardNotFound(""), wantStatus: http.StatusNotFound, wantCode: "CARD_NOT_FOUND"},
		{name: "self transfer", err: apperrors.InvalidTransfer("same"), wantStatus: http.StatusBadRequest, wantCode: "INVALID_TRANSFER"},
		{name: "failed", err: apperrors.TransferFailed(nil), wantStatus: http.StatusInternalServerError, wantCode: "TRANSFER_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockTransferService)
			h := NewTransferHandler(svc)
			svc.On("CreateTransfer", mock.Anything, "u1", mock.Anything).Return(nil, tt.err)

			body := `{"source_card_id":"` + uuid.New().String() + `","destination_card_number":"5500005555555559","amount":"1"}`
			c, _ := newContext(t, http.MethodPost, "/api/transfers", body, "u1")

			assertHTTPError(t, h.CreateTransfer(c), tt.wantStatus, tt.wantCode)
		})
	}
}

func TestCreateTransfer_Unauthenticated(t *testing.T) {
	h := NewTransferHandler(new(MockTransferService))
	c, _ := newContext(t, http.MethodPost, "/api/transfers", `{}`, "")

	assertHTTPError(t, h.CreateTransfer(c), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestListTransfers(t *testing.T) {
	svc := new(MockTransferService)
	h := NewTransferHandler(svc)
	svc.On("ListUserTransfers", mock.Anything, "u1").Return([]service.TransferView{*sampleView(), *sampleView()}, nil)

	c, rec := newContext(t, http.MethodGet, "/api/transfers", "", "u1")
	require.NoError(t, h.ListTransfers(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp TransferListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Transfers, 2)
}

func TestListTransfers_EmptyIsArray(t *testing.T) {
	svc := new(MockTransferService)
	h := NewTransferHandler(svc)
	svc.On("ListUserTransfers", mock.Anything, "u1").Return(nil, nil)

	c, rec := newContext(t, http.MethodGet, "/api/transfers", "", "u1")
	require.NoError(t, h.ListTransfers(c))
	assert.JSONEq(t, `{"transfers":[]}`, rec.Body.String())
}

func TestGetTransfer(t *testing.T) {
	svc := new(MockTransferService)
	h := NewTransferHandler(svc)
	view := sampleView()
	svc.On("GetTransfer", mock.Anything, view.ID, "u2").Return(nil, apperrors.Forbidden("transfer", view.ID.String()))
	svc.On("GetTransfer", mock.Anything, view.ID, "u1").Return(view, nil)

	c, rec := newContext(t, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(view.ID.String())
	require.NoError(t, h.GetTransfer(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, _ = newContext(t, http.MethodGet, "/", "", "u2")
	c.SetParamNames("id")
	c.SetParamValues(view.ID.String())
	assertHTTPError(t, h.GetTransfer(c), http.StatusForbidden, "FORBIDDEN")

	c, _ = newContext(t, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	assertHTTPError(t, h.GetTransfer(c), http.StatusBadRequest, "INVALID_UUID")
}

func TestListCardTransfers(t *testing.T) {
	svc := new(MockTransferService)
	h := NewTransferHandler(svc)
	cardID := uuid.New()
	svc.On("ListCardTransfers", mock.Anything, cardID, "u1").Return([]service.TransferView{*sampleView()}, nil)
	svc.On("ListCardTransfers", mock.Anything, cardID, "u2").Return(nil, apperrors.OwnershipDenied(cardID.String()))

	c, rec := newContext(t, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(cardID.String())
	require.NoError(t, h.ListCardTransfers(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, _ = newContext(t, http.MethodGet, "/", "", "u2")
	c.SetParamNames("id")
	c.SetParamValues(cardID.String())
	assertHTTPError(t, h.ListCardTransfers(c), http.StatusForbidden, "CARD_OWNERSHIP")
}

func TestListCards(t *testing.T) {
	svc := new(MockCardService)
	h := NewCardHandler(svc)
	svc.On("ListUserCards", mock.Anything, "u1").Return([]service.CardView{{
		ID:         uuid.New(),
		Number:     "4111 **** **** 1111",
		HolderName: "U One",
		ExpiryDate: time.Date(2027, 9, 1, 0, 0, 0, 0, time.UTC),
		Status:     model.CardStatusActive,
		Balance:    decimal.RequireFromString("12.5"),
	}}, nil)

	c, rec := newContext(t, http.MethodGet, "/api/cards", "", "u1")
	require.NoError(t, h.ListCards(c))

	var resp []CardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "12.50", resp[0].Balance)
	assert.Equal(t, "09/27", resp[0].ExpiryDate)
	assert.Equal(t, "ACTIVE", resp[0].Status)
}

func TestGetBalance(t *testing.T) {
	svc := new(MockCardService)
	h := NewCardHandler(svc)
	cardID := uuid.New()
	svc.On("GetBalance", mock.Anything, cardID, "u1").Return(decimal.RequireFromString("900"), nil)

	c, rec := newContext(t, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(cardID.String())
	require.NoError(t, h.GetBalance(c))

	var resp BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "900.00", resp.Balance)
	assert.Equal(t, cardID, resp.CardID)
}
