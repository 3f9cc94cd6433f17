package paymaster

import "errors"

// Structural errors. These abort the in-flight call and are never used for
// sponsorship-validity outcomes, which travel in the packed validation
// data instead.
var (
	ErrMalformedPaymasterData = errors.New("malformed paymaster data")
	ErrCallerNotEntryPoint    = errors.New("caller is not the entry point")
	ErrInvalidAdminCapability = errors.New("invalid administrative capability")

	ErrZeroAddressSigner        = errors.New("signer is the zero address")
	ErrSignerAlreadyRegistered  = errors.New("signer already registered")
	ErrSignerNotRegistered      = errors.New("signer not registered")
	ErrContractSignerNotAllowed = errors.New("contract accounts cannot be signers")
	ErrNoInitialSigners         = errors.New("at least one initial signer is required")

	ErrInvalidDepositAmount      = errors.New("deposit amount must be positive")
	ErrInsufficientBalance       = errors.New("insufficient sponsor balance")
	ErrWithdrawalAlreadyPending  = errors.New("a withdrawal request is already pending")
	ErrNoPendingWithdrawal       = errors.New("no pending withdrawal request")
	ErrWithdrawalDelayNotElapsed = errors.New("withdrawal delay has not elapsed")

	ErrSponsorUnderfunded = errors.New("sponsor balance below required prefund")
	ErrInvalidPriceMarkup = errors.New("price markup out of bounds")
)
