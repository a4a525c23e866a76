package program

import (
	"errors"
	"fmt"

	"YokoFund/internal/address"
	"YokoFund/internal/instruction"
	fpmath "YokoFund/internal/math"
	"YokoFund/internal/runtime"
	"YokoFund/internal/state"
	"YokoFund/internal/token"
)

// Error is a program-defined failure with a stable numeric code.
type Error struct {
	Code    uint32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("program error %d: %s", e.Code, e.Message)
}

// Domain errors. Codes are part of the wire contract.
var (
	ErrInvalidAccount         = &Error{Code: 0, Message: "invalid account"}
	ErrInvalidAmount          = &Error{Code: 1, Message: "invalid amount"}
	ErrInsertingOtherMint     = &Error{Code: 2, Message: "error inserting other mint"}
	ErrRemovingOtherMint      = &Error{Code: 3, Message: "error removing other mint"}
	ErrNoUnclaimedPayout      = &Error{Code: 4, Message: "no unclaimed payout"}
	ErrUnclaimedPayoutPending = &Error{Code: 5, Message: "unclaimed payout pending"}
)

// Structural and arithmetic errors.
var (
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidSeeds             = errors.New("invalid seeds")
	ErrInvalidAccountData       = errors.New("invalid account data")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrIncorrectProgramID       = errors.New("incorrect program id")
	ErrMissingRequiredSignature = runtime.ErrMissingRequiredSignature
	ErrInvalidInstructionData   = instruction.ErrInvalidInstructionData
	ErrArithmeticOverflow       = fpmath.ErrOverflow
)

// Code returns the wire code of a domain error.
func Code(err error) (uint32, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// Category groups failures for reporting.
type Category string

const (
	CategoryStructural  Category = "structural"
	CategoryDomain      Category = "domain"
	CategoryArithmetic  Category = "arithmetic"
	CategoryEnvironment Category = "environment"
)

// Classify returns the category of err and a short stable reason label.
func Classify(err error) (Category, string) {
	var pe *Error
	if errors.As(err, &pe) {
		return CategoryDomain, fmt.Sprintf("custom_%d", pe.Code)
	}

	switch {
	case errors.Is(err, ErrArithmeticOverflow):
		return CategoryArithmetic, "arithmetic_overflow"
	case errors.Is(err, ErrNotEnoughAccountKeys):
		return CategoryStructural, "not_enough_account_keys"
	case errors.Is(err, ErrInvalidSeeds):
		return CategoryStructural, "invalid_seeds"
	case errors.Is(err, ErrInvalidAccountData),
		errors.Is(err, state.ErrRecordSize),
		errors.Is(err, state.ErrRecordDiscriminator):
		return CategoryStructural, "invalid_account_data"
	case errors.Is(err, ErrAccountNotWritable):
		return CategoryStructural, "account_not_writable"
	case errors.Is(err, ErrIncorrectProgramID):
		return CategoryStructural, "incorrect_program_id"
	case errors.Is(err, ErrMissingRequiredSignature):
		return CategoryStructural, "missing_required_signature"
	case errors.Is(err, ErrInvalidInstructionData):
		return CategoryStructural, "invalid_instruction_data"
	case errors.Is(err, address.ErrInvalidSeeds),
		errors.Is(err, runtime.ErrInvalidProgramCapability):
		return CategoryStructural, "invalid_capability"
	case errors.Is(err, runtime.ErrAccountAlreadyInUse):
		return CategoryEnvironment, "account_already_in_use"
	case errors.Is(err, runtime.ErrInsufficientLamports):
		return CategoryEnvironment, "insufficient_lamports"
	case errors.Is(err, token.ErrInsufficientFunds):
		return CategoryEnvironment, "insufficient_funds"
	case errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrOwnerMismatch),
		errors.Is(err, token.ErrNotTokenAccount),
		errors.Is(err, token.ErrUninitialized):
		return CategoryEnvironment, "token_account_rejected"
	}
	return CategoryEnvironment, "other"
}
