// Package httpledger carries the ledger program over HTTP: a gin gateway in
// front of a ledger implementation and a client that implements
// escrow.Ledger against it.
//
// Writes are authenticated per request. The signer's base58 public key goes
// in X-Signer, a unix timestamp in X-Timestamp and the base58 ed25519
// signature of SigningPayload in X-Signature.
package httpledger

import (
	stderrors "errors"
	"fmt"
	"strconv"

	"cid-escrow-backend/internal/common/errors"
	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
)

const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// ErrUnavailable is returned when the gateway cannot be reached or fails
// without a typed error.
var ErrUnavailable = stderrors.New("ledger gateway unavailable")

// SigningPayload binds a signature to one request.
func SigningPayload(method, path string, timestamp int64, body []byte) []byte {
	head := method + " " + path + "\n" + strconv.FormatInt(timestamp, 10) + "\n"
	return append([]byte(head), body...)
}

type AddressResponse struct {
	Address string `json:"address"`
}

type RevealRequest struct {
	EncryptedCID []byte `json:"encrypted_cid"`
}

type ReleaseRequest struct {
	Recipients []wallet.PublicKey `json:"recipients" binding:"required"`
	Amounts    []uint64           `json:"amounts" binding:"required"`
}

// CredentialResponse describes a credential account. Collection is the one
// collection the credential grants access to.
type CredentialResponse struct {
	Collection wallet.PublicKey `json:"collection"`
	Balance    uint64           `json:"balance"`
}

type FundRequest struct {
	Owner  wallet.PublicKey `json:"owner" binding:"required"`
	Amount uint64           `json:"amount" binding:"required"`
}

type ErrorBody struct {
	Error *errors.AppError `json:"error"`
}

var sentinels = []struct {
	err  error
	code errors.ErrorCode
}{
	{escrow.ErrAccountNotFound, errors.ErrCodeAccountNotFound},
	{escrow.ErrInsufficientFunds, errors.ErrCodeInsufficientFunds},
	{escrow.ErrUnauthorized, errors.ErrCodeUnauthorized},
	{escrow.ErrAlreadyRevealed, errors.ErrCodeAlreadyRevealed},
	{escrow.ErrInvalidAmount, errors.ErrCodeInvalidAmount},
	{escrow.ErrInvalidCiphertext, errors.ErrCodeInvalidCiphertext},
	{escrow.ErrInvalidDistribution, errors.ErrCodeInvalidDistribution},
	{escrow.ErrEscrowExpired, errors.ErrCodeEscrowExpired},
	{escrow.ErrEscrowNotExpired, errors.ErrCodeEscrowNotExpired},
}

// toAppError maps a ledger error to its transport form.
func toAppError(err error) *errors.AppError {
	for _, s := range sentinels {
		if stderrors.Is(err, s.err) {
			return errors.Wrap(err, s.code, err.Error())
		}
	}
	return errors.NewLedgerError("ledger program", err)
}

// fromAppError maps a transport error back to the ledger sentinel.
func fromAppError(status int, appErr *errors.AppError) error {
	if appErr == nil {
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	for _, s := range sentinels {
		if appErr.Code == s.code {
			return &remoteError{sentinel: s.err, msg: appErr.Message}
		}
	}
	return fmt.Errorf("%w: [%s] %s", ErrUnavailable, appErr.Code, appErr.Message)
}

// remoteError keeps the gateway's message and unwraps to the sentinel.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }
