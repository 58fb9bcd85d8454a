package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no record exists at the given key.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the caller is not the party the
	// operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrIncorrectPayment is matched by *IncorrectPaymentError.
	ErrIncorrectPayment = errors.New("incorrect payment")

	// ErrNonTradeable is returned when a trade targets a listing that does
	// not accept trades.
	ErrNonTradeable = errors.New("item is not tradeable")

	// ErrUnrecognizedConfirmation is returned for a confirmation whose tag
	// the marketplace never issued.
	ErrUnrecognizedConfirmation = errors.New("unrecognized confirmation")

	// ErrTypeNotSupported is returned for funds in an unsupported
	// denomination.
	ErrTypeNotSupported = errors.New("payment type not supported")

	// ErrInvalidPayload is returned when a deposit instruction cannot be
	// decoded.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidAmount is returned for amounts that are not unsigned
	// integers.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOverflow and ErrUnderflow are defects: the operation that hits
	// them is aborted as a whole.
	ErrOverflow  = errors.New("overflow")
	ErrUnderflow = errors.New("underflow")

	// ErrConfigExists is returned by a second instantiation.
	ErrConfigExists = errors.New("config already exists")

	// ErrDispatch is returned when a registry rejects an effect batch.
	ErrDispatch = errors.New("dispatch failed")
)

// IncorrectPaymentError carries the amount the caller should have paid.
type IncorrectPaymentError struct {
	Price decimal.Decimal
}

func (e *IncorrectPaymentError) Error() string {
	return fmt.Sprintf("payment is not the same as the price %s", e.Price)
}

func (e *IncorrectPaymentError) Is(target error) bool {
	return target == ErrIncorrectPayment
}
