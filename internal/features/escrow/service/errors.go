package service

import "errors"

var (
	ErrRevealTimeout      = errors.New("reveal not observed before timeout")
	ErrVerificationFailed = errors.New("revealed cid does not match commitment")
	ErrNoContributors     = errors.New("no contributors to distribute to")
	ErrNotVerified        = errors.New("purchase not verified")
	ErrCommitmentMismatch = errors.New("escrow commitment differs from local cid")
	ErrMagnitudeOverflow  = errors.New("contribution magnitudes overflow")
)
