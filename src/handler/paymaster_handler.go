package handler

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
	"github.com/StartaleGroup/scs-aa-paymasters/src/service"
)

type PaymasterHandler struct {
	sponsorshipService *service.SponsorshipService
}

func NewPaymasterHandler(sponsorshipService *service.SponsorshipService) *PaymasterHandler {
	return &PaymasterHandler{
		sponsorshipService: sponsorshipService,
	}
}

func (h *PaymasterHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "paymaster").Logger()
	return &l
}

// SponsorRequest represents the request payload for sponsoring a user operation
type SponsorRequest struct {
	Sponsor       string                 `json:"sponsor" binding:"required"`
	UserOperation *erc4337.UserOperation `json:"userOperation" binding:"required"`
	PriceMarkup   uint32                 `json:"priceMarkup,omitempty"`
}

// SponsorResponse represents the signed sponsorship terms
type SponsorResponse struct {
	UserOpHash    string `json:"userOpHash"`
	Sponsor       string `json:"sponsor"`
	PaymasterData string `json:"paymasterData"`
	ValidUntil    uint64 `json:"validUntil"`
	ValidAfter    uint64 `json:"validAfter"`
	PriceMarkup   uint32 `json:"priceMarkup"`
	MaxCostWei    string `json:"maxCostWei"`
}

// SponsorUserOperation godoc
// @Summary Sign sponsorship for a user operation
// @Description Returns the paymaster data segment authorizing the operation against the sponsor's deposit
// @Tags paymaster
// @Accept json
// @Produce json
// @Param request body SponsorRequest true "User operation and sponsor"
// @Success 200 {object} StandardResponse{data=SponsorResponse}
// @Router /paymaster/sponsor [post]
func (h *PaymasterHandler) SponsorUserOperation(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "SponsorUserOperation").Logger()

	var req SponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	if !common.IsHexAddress(req.Sponsor) {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid sponsor address: "+req.Sponsor),
			domain.WithMsg("Invalid sponsor address"),
		))
		return
	}

	result, err := h.sponsorshipService.SponsorUserOperation(
		c.Request.Context(),
		req.UserOperation,
		common.HexToAddress(req.Sponsor),
		req.PriceMarkup,
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sponsor user operation")
		respondWithError(c, err)
		return
	}

	respondWithSuccess(c, SponsorResponse{
		UserOpHash:    result.UserOpHash.Hex(),
		Sponsor:       result.Sponsor.Hex(),
		PaymasterData: result.PaymasterData.String(),
		ValidUntil:    result.ValidUntil,
		ValidAfter:    result.ValidAfter,
		PriceMarkup:   result.PriceMarkup,
		MaxCostWei:    result.MaxCostWei.String(),
	})
}

// InflightResponse is one outstanding sponsorship in API form
type InflightResponse struct {
	UserOpHash string `json:"userOpHash"`
	Sponsor    string `json:"sponsor"`
	MaxCostWei string `json:"maxCostWei"`
	ValidUntil uint64 `json:"validUntil"`
	CreatedAt  string `json:"createdAt"`
}

// ListInflight godoc
// @Summary List outstanding sponsorships
// @Description Signed authorizations that have not settled yet; bounds the exposure of every sponsor deposit
// @Tags paymaster
// @Produce json
// @Success 200 {object} StandardResponse{data=[]InflightResponse}
// @Router /paymaster/inflight [get]
func (h *PaymasterHandler) ListInflight(c *gin.Context) {
	inflight, err := h.sponsorshipService.InflightSponsorships(c.Request.Context())
	if err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeInternalProcess, err))
		return
	}

	out := make([]InflightResponse, 0, len(inflight))
	for _, s := range inflight {
		out = append(out, InflightResponse{
			UserOpHash: s.UserOpHash.Hex(),
			Sponsor:    s.Sponsor.Hex(),
			MaxCostWei: s.MaxCostWei,
			ValidUntil: s.ValidUntil,
			CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	respondWithSuccess(c, out)
}
