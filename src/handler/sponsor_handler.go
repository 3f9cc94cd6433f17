package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
	"github.com/StartaleGroup/scs-aa-paymasters/src/service"
)

type SponsorHandler struct {
	depositService  *service.DepositService
	withdrawalDelay time.Duration
}

func NewSponsorHandler(depositService *service.DepositService, withdrawalDelay time.Duration) *SponsorHandler {
	return &SponsorHandler{
		depositService:  depositService,
		withdrawalDelay: withdrawalDelay,
	}
}

func (h *SponsorHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "sponsor").Logger()
	return &l
}

func parseSponsorAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid sponsor address: "+raw),
			domain.WithMsg("Invalid sponsor address"),
		)
	}
	return common.HexToAddress(raw), nil
}

// DepositRequest represents the request payload for funding a sponsor
type DepositRequest struct {
	AmountWei decimal.Decimal `json:"amountWei" binding:"required"`
}

// DepositResponse represents the response for a deposit
type DepositResponse struct {
	Sponsor    string `json:"sponsor"`
	AmountWei  string `json:"amountWei"`
	BalanceWei string `json:"balanceWei"`
	BalanceEth string `json:"balanceEth"`
}

// Deposit godoc
// @Summary Fund a sponsor's deposit
// @Description Credit the sponsor's gas deposit; anyone may fund any sponsor
// @Tags sponsors
// @Accept json
// @Produce json
// @Param address path string true "Sponsor address"
// @Param request body DepositRequest true "Deposit amount in wei"
// @Success 201 {object} StandardResponse{data=DepositResponse}
// @Router /sponsors/{address}/deposits [post]
func (h *SponsorHandler) Deposit(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "Deposit").Logger()

	sponsor, err := parseSponsorAddress(c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	amount := req.AmountWei.Truncate(0).BigInt()
	balance, err := h.depositService.Deposit(c.Request.Context(), sponsor, amount)
	if err != nil {
		logger.Error().Err(err).Msg("deposit failed")
		respondWithError(c, err)
		return
	}

	logger.Info().
		Str("sponsor", sponsor.Hex()).
		Str("amount_wei", amount.String()).
		Msg("sponsor deposit credited")

	respondWithSuccessAndStatus(c, http.StatusCreated, DepositResponse{
		Sponsor:    sponsor.Hex(),
		AmountWei:  amount.String(),
		BalanceWei: balance.String(),
		BalanceEth: domain.WeiToEth(balance).String(),
	})
}

// BalanceResponse represents a sponsor's current standing
type BalanceResponse struct {
	Sponsor            string  `json:"sponsor"`
	BalanceWei         string  `json:"balanceWei"`
	BalanceEth         string  `json:"balanceEth"`
	PendingAmountWei   *string `json:"pendingWithdrawalWei,omitempty"`
	PendingReadyAt     *string `json:"pendingWithdrawalReadyAt,omitempty"`
	WithdrawalDelaySec int64   `json:"withdrawalDelaySeconds"`
}

// Balance godoc
// @Summary Get a sponsor's balance
// @Description Current deposit balance and any pending withdrawal
// @Tags sponsors
// @Produce json
// @Param address path string true "Sponsor address"
// @Success 200 {object} StandardResponse{data=BalanceResponse}
// @Router /sponsors/{address} [get]
func (h *SponsorHandler) Balance(c *gin.Context) {
	sponsor, err := parseSponsorAddress(c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	balance, pending := h.depositService.Balance(sponsor)

	resp := BalanceResponse{
		Sponsor:            sponsor.Hex(),
		BalanceWei:         balance.String(),
		BalanceEth:         domain.WeiToEth(balance).String(),
		WithdrawalDelaySec: int64(h.withdrawalDelay / time.Second),
	}
	if pending != nil {
		amount := pending.Amount.String()
		readyAt := pending.ReadyAt(h.withdrawalDelay).UTC().Format(time.RFC3339)
		resp.PendingAmountWei = &amount
		resp.PendingReadyAt = &readyAt
	}

	respondWithSuccess(c, resp)
}

// LedgerEntryResponse is one journal row in API form
type LedgerEntryResponse struct {
	ID         string  `json:"id"`
	EntryType  string  `json:"entryType"`
	AmountWei  string  `json:"amountWei"`
	UserOpHash *string `json:"userOpHash,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

// History godoc
// @Summary Get a sponsor's ledger history
// @Description Journal of deposits, settlements and withdrawals, newest first
// @Tags sponsors
// @Produce json
// @Param address path string true "Sponsor address"
// @Success 200 {object} StandardResponse{data=[]LedgerEntryResponse}
// @Router /sponsors/{address}/ledger [get]
func (h *SponsorHandler) History(c *gin.Context) {
	sponsor, err := parseSponsorAddress(c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	entries, err := h.depositService.History(sponsor)
	if err != nil {
		respondWithError(c, err)
		return
	}

	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, LedgerEntryResponse{
			ID:         entry.ID.String(),
			EntryType:  string(entry.EntryType),
			AmountWei:  entry.AmountWei.String(),
			UserOpHash: entry.UserOpHash,
			CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	respondWithSuccess(c, out)
}

// WithdrawalRequestPayload represents the request payload for opening a withdrawal
type WithdrawalRequestPayload struct {
	AmountWei decimal.Decimal `json:"amountWei" binding:"required"`
}

// WithdrawalRequestResponse represents an opened withdrawal request
type WithdrawalRequestResponse struct {
	Sponsor   string `json:"sponsor"`
	AmountWei string `json:"amountWei"`
	ReadyAt   string `json:"readyAt"`
}

// RequestWithdrawal godoc
// @Summary Request a withdrawal
// @Description Open the sponsor's two-step withdrawal; funds stay locked until the delay elapses
// @Tags sponsors
// @Accept json
// @Produce json
// @Param address path string true "Sponsor address"
// @Param request body WithdrawalRequestPayload true "Withdrawal amount in wei"
// @Success 201 {object} StandardResponse{data=WithdrawalRequestResponse}
// @Router /sponsors/{address}/withdrawals [post]
func (h *SponsorHandler) RequestWithdrawal(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "RequestWithdrawal").Logger()

	sponsor, err := parseSponsorAddress(c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req WithdrawalRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	amount := req.AmountWei.Truncate(0).BigInt()
	readyAt, err := h.depositService.RequestWithdrawal(c.Request.Context(), sponsor, amount, h.withdrawalDelay)
	if err != nil {
		logger.Error().Err(err).Msg("withdrawal request failed")
		respondWithError(c, err)
		return
	}

	logger.Info().
		Str("sponsor", sponsor.Hex()).
		Str("amount_wei", amount.String()).
		Time("ready_at", readyAt).
		Msg("withdrawal requested")

	respondWithSuccessAndStatus(c, http.StatusCreated, WithdrawalRequestResponse{
		Sponsor:   sponsor.Hex(),
		AmountWei: amount.String(),
		ReadyAt:   readyAt.UTC().Format(time.RFC3339),
	})
}

// ExecuteWithdrawalPayload represents the request payload for executing a withdrawal
type ExecuteWithdrawalPayload struct {
	Recipient string `json:"recipient" binding:"required"`
}

// ExecuteWithdrawalResponse represents a completed withdrawal
type ExecuteWithdrawalResponse struct {
	Sponsor   string `json:"sponsor"`
	Recipient string `json:"recipient"`
	PaidWei   string `json:"paidWei"`
}

// ExecuteWithdrawal godoc
// @Summary Execute a matured withdrawal
// @Description Pay out a withdrawal whose delay window has elapsed
// @Tags sponsors
// @Accept json
// @Produce json
// @Param address path string true "Sponsor address"
// @Param request body ExecuteWithdrawalPayload true "Recipient address"
// @Success 200 {object} StandardResponse{data=ExecuteWithdrawalResponse}
// @Router /sponsors/{address}/withdrawals/execute [post]
func (h *SponsorHandler) ExecuteWithdrawal(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "ExecuteWithdrawal").Logger()

	sponsor, err := parseSponsorAddress(c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	var req ExecuteWithdrawalPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid recipient address: "+req.Recipient),
			domain.WithMsg("Invalid recipient address"),
		))
		return
	}
	recipient := common.HexToAddress(req.Recipient)

	paid, err := h.depositService.ExecuteWithdrawal(c.Request.Context(), sponsor, recipient)
	if err != nil {
		logger.Error().Err(err).Msg("withdrawal execution failed")
		respondWithError(c, err)
		return
	}

	logger.Info().
		Str("sponsor", sponsor.Hex()).
		Str("recipient", recipient.Hex()).
		Str("paid_wei", paid.String()).
		Msg("withdrawal executed")

	respondWithSuccess(c, ExecuteWithdrawalResponse{
		Sponsor:   sponsor.Hex(),
		Recipient: recipient.Hex(),
		PaidWei:   paid.String(),
	})
}
