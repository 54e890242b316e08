package service

import "errors"

var (
	ErrMalformedProof          = errors.New("malformed access proof")
	ErrInvalidSignature        = errors.New("invalid proof signature")
	ErrStaleProof              = errors.New("stale access proof")
	ErrCollectionMismatch      = errors.New("collection mismatch")
	ErrCredentialNotOwned      = errors.New("access credential not owned")
	ErrInvalidCredentialAmount = errors.New("invalid access credential amount")
)
