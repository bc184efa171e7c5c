package onering

import "fmt"

// Error is a program error with a stable numeric code.
//
// Handlers return these (optionally wrapped with detail via fmt.Errorf and
// %w). errors.Is matches on the code, so a wrapped error still compares equal
// to its sentinel.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error Code: %s. Error Number: %d. Error Message: %s.", e.Name, e.Code, e.Msg)
}

// ErrorCode returns the numeric code.
func (e *Error) ErrorCode() uint32 {
	return e.Code
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code uint32, name, msg string) *Error {
	return &Error{Code: code, Name: name, Msg: msg}
}

// Program errors.
var (
	ErrAuthorityMismatch          = newError(2006, "AuthorityMismatch", "A seeds constraint was violated")
	ErrUnauthorized               = newError(6000, "Unauthorized", "Access denied")
	ErrEmergencyHalted            = newError(6001, "EmergencyHalted", "Service disabled by emergency flag")
	ErrMarketLocked               = newError(6002, "MarketLocked", "Market is locked")
	ErrReserveFrozen              = newError(6003, "ReserveFrozen", "Reserve is frozen")
	ErrInvalidCollateralMint      = newError(6004, "InvalidCollateralMint", "Invalid collateral mint")
	ErrInvalidSyntheticMint       = newError(6005, "InvalidSyntheticMint", "Invalid synthetic mint")
	ErrInvalidAccountOwner        = newError(6006, "InvalidAccountOwner", "Invalid account owner")
	ErrInsufficientBalance        = newError(6007, "InsufficientBalance", "Insufficient token balance")
	ErrInsufficientReserveBalance = newError(6008, "InsufficientReserveBalance", "Withdrawal amount exceeds reserve balance")
	ErrInsufficientLiquidity      = newError(6009, "InsufficientLiquidity", "Insufficient withdrawal liquidity")
	ErrArithmeticOverflow         = newError(6010, "ArithmeticOverflow", "Arithmetic overflow")
	ErrArithmeticUnderflow        = newError(6011, "ArithmeticUnderflow", "Arithmetic underflow")
	ErrInvalidAmount              = newError(6012, "InvalidAmount", "Invalid amount")
	ErrAlreadyInitialized         = newError(6013, "AlreadyInitialized", "Account already initialized")
	ErrAccountNotInitialized      = newError(6014, "AccountNotInitialized", "Account not initialized")
	ErrMissingSignature           = newError(6015, "MissingSignature", "Missing required signature")
	ErrInvalidInstruction         = newError(6016, "InvalidInstruction", "Invalid instruction data")
	ErrInvalidGlobalState         = newError(6017, "InvalidGlobalState", "Record belongs to another global state")
)
