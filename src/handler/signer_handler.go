package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
	"github.com/StartaleGroup/scs-aa-paymasters/src/paymaster"
)

type SignerHandler struct {
	registry *paymaster.SignerRegistry
	admin    paymaster.AdminCapability
}

func NewSignerHandler(registry *paymaster.SignerRegistry, admin paymaster.AdminCapability) *SignerHandler {
	return &SignerHandler{
		registry: registry,
		admin:    admin,
	}
}

func (h *SignerHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "signer").Logger()
	return &l
}

func mapRegistryError(err error) error {
	switch {
	case errors.Is(err, paymaster.ErrInvalidAdminCapability):
		return domain.NewError(domain.ErrorCodeAuthPermissionDenied, err,
			domain.WithMsg("Invalid admin capability"))
	case errors.Is(err, paymaster.ErrZeroAddressSigner),
		errors.Is(err, paymaster.ErrSignerAlreadyRegistered),
		errors.Is(err, paymaster.ErrContractSignerNotAllowed):
		return domain.NewError(domain.ErrorCodeParameterInvalid, err,
			domain.WithMsg(err.Error()))
	case errors.Is(err, paymaster.ErrSignerNotRegistered):
		return domain.NewError(domain.ErrorCodeResourceNotFound, err,
			domain.WithMsg(err.Error()))
	default:
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
}

// SignerRequest represents the request payload for signer registration
type SignerRequest struct {
	Address string `json:"address" binding:"required"`
}

// SignerListResponse represents the registered signer set
type SignerListResponse struct {
	Signers []string `json:"signers"`
}

// ListSigners godoc
// @Summary List registered signers
// @Tags signers
// @Produce json
// @Success 200 {object} StandardResponse{data=SignerListResponse}
// @Security ApiKeyAuth
// @Router /signers [get]
func (h *SignerHandler) ListSigners(c *gin.Context) {
	signers := h.registry.Signers()
	out := make([]string, 0, len(signers))
	for _, addr := range signers {
		out = append(out, addr.Hex())
	}
	respondWithSuccess(c, SignerListResponse{Signers: out})
}

// AddSigner godoc
// @Summary Register a sponsorship signer
// @Description Authorize an address to sign sponsorships; contract addresses are rejected
// @Tags signers
// @Accept json
// @Produce json
// @Param request body SignerRequest true "Signer address"
// @Success 201 {object} StandardResponse{data=SignerRequest}
// @Security ApiKeyAuth
// @Router /signers [post]
func (h *SignerHandler) AddSigner(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "AddSigner").Logger()

	var req SignerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid signer address: "+req.Address),
			domain.WithMsg("Invalid signer address"),
		))
		return
	}
	addr := common.HexToAddress(req.Address)

	if err := h.registry.AddSigner(c.Request.Context(), h.admin, addr); err != nil {
		logger.Error().Err(err).Str("address", addr.Hex()).Msg("failed to add signer")
		respondWithError(c, mapRegistryError(err))
		return
	}

	logger.Info().Str("address", addr.Hex()).Msg("signer registered")
	respondWithSuccessAndStatus(c, http.StatusCreated, SignerRequest{Address: addr.Hex()})
}

// RemoveSigner godoc
// @Summary Revoke a sponsorship signer
// @Tags signers
// @Produce json
// @Param address path string true "Signer address"
// @Success 200 {object} StandardResponse{data=SignerRequest}
// @Security ApiKeyAuth
// @Router /signers/{address} [delete]
func (h *SignerHandler) RemoveSigner(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "RemoveSigner").Logger()

	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			errors.New("invalid signer address: "+raw),
			domain.WithMsg("Invalid signer address"),
		))
		return
	}
	addr := common.HexToAddress(raw)

	if err := h.registry.RemoveSigner(c.Request.Context(), h.admin, addr); err != nil {
		logger.Error().Err(err).Str("address", addr.Hex()).Msg("failed to remove signer")
		respondWithError(c, mapRegistryError(err))
		return
	}

	logger.Info().Str("address", addr.Hex()).Msg("signer revoked")
	respondWithSuccess(c, SignerRequest{Address: addr.Hex()})
}
