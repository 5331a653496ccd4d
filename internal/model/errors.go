package model

import "errors"

var (
	ErrInvalidStrikes        = errors.New("invalid strikes: strike low must be below strike high")
	ErrInvalidExpiry         = errors.New("invalid expiry: must be in the future")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrUnknownPosition       = errors.New("unknown position")
	ErrNotExpired            = errors.New("position not expired")
	ErrAlreadyExercised      = errors.New("position already exercised")
	ErrUnauthorized          = errors.New("caller not authorized")
	ErrInsufficientAllowance = errors.New("insufficient collateral allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientEscrow    = errors.New("insufficient escrowed collateral")
	ErrUndercollateralized   = errors.New("collateral does not cover maximum payoff")
	ErrOracleUnavailable     = errors.New("oracle unavailable")
	ErrBatchSize             = errors.New("invalid batch size")
	ErrZeroAddress           = errors.New("zero address")
	ErrLockHeld              = errors.New("lock already held")
)
