package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"bankcards/internal/auth"
	"bankcards/internal/errors"
	"bankcards/internal/service"
)

// CardHandler handles card endpoints.
type CardHandler struct {
	cardService service.CardService
}

// NewCardHandler creates a new card handler.
func NewCardHandler(cardService service.CardService) *CardHandler {
	return &CardHandler{cardService: cardService}
}

// CardResponse represents a card with its number masked.
type CardResponse struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	HolderName string `json:"holder_name"`
	ExpiryDate string `json:"expiry_date"`
	Status     string `json:"status"`
	Balance    string `json:"balance"`
}

// BalanceResponse represents a card balance response.
type BalanceResponse struct {
	CardID  uuid.UUID `json:"card_id"`
	Balance string    `json:"balance"`
}

// ListCards godoc
// @Summary List the caller's cards
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Success 200 {array} CardResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /cards [get]
func (h *CardHandler) ListCards(c echo.Context) error {
	username, err := auth.UsernameFromContext(c)
	if err != nil {
		return unauthorized()
	}

	views, err := h.cardService.ListUserCards(c.Request().Context(), username)
	if err != nil {
		return mapError(err)
	}

	out := make([]CardResponse, 0, len(views))
	for _, v := range views {
		out = append(out, CardResponse{
			ID:         v.ID.String(),
			Number:     v.Number,
			HolderName: v.HolderName,
			ExpiryDate: v.ExpiryDate.Format("01/06"),
			Status:     string(v.Status),
			Balance:    v.Balance.StringFixed(2),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GetBalance godoc
// @Summary Get card balance
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} BalanceResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /cards/{id}/balance [get]
func (h *CardHandler) GetBalance(c echo.Context) error {
	username, err := auth.UsernameFromContext(c)
	if err != nil {
		return unauthorized()
	}

	cardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid card ID",
			Code:  "INVALID_UUID",
		})
	}

	balance, err := h.cardService.GetBalance(c.Request().Context(), cardID, username)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, BalanceResponse{
		CardID:  cardID,
		Balance: balance.StringFixed(2),
	})
}
