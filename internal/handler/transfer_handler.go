package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"bankcards/internal/auth"
	"bankcards/internal/errors"
	"bankcards/internal/service"
)

// TransferHandler handles transfer endpoints.
type TransferHandler struct {
	transferService service.TransferService
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(transferService service.TransferService) *TransferHandler {
	return &TransferHandler{transferService: transferService}
}

// TransferRequest represents a transfer request.
type TransferRequest struct {
	SourceCardID          string `json:"source_card_id" validate:"required,uuid"`
	DestinationCardNumber string `json:"destination_card_number" validate:"required,max=32"`
	Amount                string `json:"amount" validate:"required"`
	Description           string `json:"description" validate:"max=255"`
}

// TransferResponse represents a transfer with masked card numbers.
type TransferResponse struct {
	ID                    string `json:"id"`
	SourceCardID          string `json:"source_card_id"`
	SourceCardNumber      string `json:"source_card_number"`
	DestinationCardID     string `json:"destination_card_id,omitempty"`
	DestinationCardNumber string `json:"destination_card_number,omitempty"`
	Amount                string `json:"amount"`
	Description           string `json:"description,omitempty"`
	Status                string `json:"status"`
	CreatedAt             string `json:"created_at"`
}

// TransferListResponse wraps a transfer history.
type TransferListResponse struct {
	Transfers []TransferResponse `json:"transfers"`
}

// CreateTransfer godoc
// @Summary Transfer money between two of the caller's cards
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer data"
// @Success 201 {object} TransferResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /transfers [post]
func (h *TransferHandler) CreateTransfer(c echo.Context) error {
	username, err := auth.UsernameFromContext(c)
	if err != nil {
		return unauthorized()
	}

	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		})
	}

	sourceCardID, err := uuid.Parse(req.SourceCardID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid source_card_id",
			Code:  "INVALID_UUID",
		})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid amount",
			Code:  "INVALID_AMOUNT",
		})
	}

	view, err := h.transferService.CreateTransfer(c.Request().Context(), username, service.CreateTransferInput{
		SourceCardID:          sourceCardID,
		DestinationCardNumber: req.DestinationCardNumber,
		Amount:                amount,
		Description:           req.Description,
	})
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusCreated, toTransferResponse(*view))
}

// ListTransfers godoc
// @Summary List transfers touching any of the caller's cards
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Success 200 {object} TransferListResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /transfers [get]
func (h *TransferHandler) ListTransfers(c echo.Context) error {
	username, err := auth.UsernameFromContext(c)
	if err != nil {
		return unauthorized()
	}

	views, err := h.transferService.ListUserTransfers(c.Request().Context(), username)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toTransferList(views))
}

// GetTransfer godoc
// @Summary Get a transfer the caller took part in
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Transfer ID"
// @Success 200 {object} TransferResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /transfers/{id} [get]
func (h *TransferHandler) GetTransfer(c echo.Context) error {
	username, err := auth.UsernameFromContext(c)
	if err != nil {
		return unauthorized()
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid transfer id",
			Code:  "INVALID_UUID",
		})
	}

	view, err := h.transferService.GetTransfer(c.Request().Context(), id, username)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toTransferResponse(*view))
}

// ListCardTransfers godoc
// @Summary List the transfer history of one of the caller's cards
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} TransferListResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /cards/{id}/transfers [get]
func (h *TransferHandler) ListCardTransfers(c echo.Context) error {
	username, err := auth.UsernameFromContext(c)
	if err != nil {
		return unauthorized()
	}

	cardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid card id",
			Code:  "INVALID_UUID",
		})
	}

	views, err := h.transferService.ListCardTransfers(c.Request().Context(), cardID, username)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toTransferList(views))
}

func mapError(err error) error {
	httpErr := errors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

func unauthorized() error {
	return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
		Error: "missing or invalid token",
		Code:  "UNAUTHORIZED",
	})
}

func toTransferResponse(v service.TransferView) TransferResponse {
	resp := TransferResponse{
		ID:                    v.ID.String(),
		SourceCardID:          v.SourceCardID.String(),
		SourceCardNumber:      v.SourceCardNumber,
		DestinationCardNumber: v.DestinationCardNumber,
		Amount:                v.Amount.StringFixed(2),
		Description:           v.Description,
		Status:                string(v.Status),
		CreatedAt:             v.CreatedAt.UTC().Format(time.RFC3339),
	}
	if v.DestinationCardID != nil {
		resp.DestinationCardID = v.DestinationCardID.String()
	}
	return resp
}

func toTransferList(views []service.TransferView) TransferListResponse {
	out := TransferListResponse{Transfers: make([]TransferResponse, 0, len(views))}
	for _, v := range views {
		out.Transfers = append(out.Transfers, toTransferResponse(v))
	}
	return out
}
