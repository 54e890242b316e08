package httpledger

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/errors"
	"cid-escrow-backend/internal/common/middleware"
	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
)

const (
	// MaxClockSkew bounds how old or how far ahead a signed request may be.
	MaxClockSkew = 2 * time.Minute
	maxBodySize  = 64 << 10
	signerKey    = "ledger_signer"
)

// Funder and TrustReader are optional capabilities of the ledger behind the
// gateway; their routes are only mounted when it has them.
type Funder interface {
	Fund(owner wallet.PublicKey, amount uint64)
}

type TrustReader interface {
	GetPeerTrust(ctx context.Context, peer wallet.PublicKey) (*escrow.PeerTrust, error)
}

type Server struct {
	program escrow.Ledger
	now     func() time.Time
	log     zerolog.Logger

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]
}

func NewServer(program escrow.Ledger, log zerolog.Logger) *Server {
	return &Server{
		program: program,
		seen:    expirable.NewLRU[string, struct{}](100_000, nil, 2*MaxClockSkew),
		now:     time.Now,
		log:     log.With().Str("component", "ledger_gateway").Logger(),
	}
}

// attested is a signer whose key was proven by a request signature. The
// ledger program only reads its public key.
type attested wallet.PublicKey

func (a attested) PublicKey() wallet.PublicKey { return wallet.PublicKey(a) }

func (a attested) Sign([]byte) []byte { return nil }

func (s *Server) RegisterRoutes(router *gin.RouterGroup, admin gin.HandlerFunc) {
	ledger := router.Group("/ledger")
	{
		ledger.GET("/escrows", s.ListEscrows)
		ledger.GET("/escrows/:address", s.GetEscrow)
		ledger.GET("/escrows/:address/reveals", s.GetReveals)
		ledger.GET("/credentials/:owner/:credential", s.GetCredential)

		signed := ledger.Group("", s.requireSignature())
		signed.POST("/escrows", s.CreateEscrow)
		signed.POST("/escrows/:address/reveals", s.RevealCID)
		signed.POST("/escrows/:address/release", s.ReleaseEscrow)
		signed.POST("/escrows/:address/burn", s.BurnExpiredEscrow)

		if _, ok := s.program.(TrustReader); ok {
			ledger.GET("/peers/:wallet/trust", s.GetPeerTrust)
		}
		if _, ok := s.program.(Funder); ok {
			ledger.POST("/faucet", admin, s.Fund)
		}
	}
}

// requireSignature authenticates the body and stores the signer.
func (s *Server) requireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		signer, err := wallet.ParsePublicKey(c.GetHeader(HeaderSigner))
		if err != nil {
			middleware.Abort(c, errors.NewUnauthorizedError("missing or invalid "+HeaderSigner), s.log)
			return
		}
		ts, err := strconv.ParseInt(c.GetHeader(HeaderTimestamp), 10, 64)
		if err != nil {
			middleware.Abort(c, errors.NewUnauthorizedError("missing or invalid "+HeaderTimestamp), s.log)
			return
		}
		if skew := s.now().Sub(time.Unix(ts, 0)); skew > MaxClockSkew || skew < -MaxClockSkew {
			middleware.Abort(c, errors.NewUnauthorizedError("request timestamp outside allowed skew"), s.log)
			return
		}
		sig, err := base58.Decode(c.GetHeader(HeaderSignature))
		if err != nil {
			middleware.Abort(c, errors.NewUnauthorizedError("invalid "+HeaderSignature), s.log)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			middleware.Abort(c, errors.Wrap(err, errors.ErrCodeBadRequest, "Failed to read body"), s.log)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !wallet.Verify(signer, SigningPayload(c.Request.Method, c.Request.URL.Path, ts, body), sig) {
			middleware.Abort(c, errors.NewUnauthorizedError("signature does not match request"), s.log)
			return
		}
		if !s.markSeen(sig) {
			middleware.Abort(c, errors.NewUnauthorizedError("request replayed"), s.log)
			return
		}

		c.Set(signerKey, attested(signer))
		c.Next()
	}
}

// markSeen records sig and reports whether it was new. Keys are the raw
// signature bytes so two encodings of one signature count as the same request.
func (s *Server) markSeen(sig []byte) bool {
	key := string(sig)
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if s.seen.Contains(key) {
		return false
	}
	s.seen.Add(key, struct{}{})
	return true
}

func signerFrom(c *gin.Context) attested {
	v, _ := c.Get(signerKey)
	a, _ := v.(attested)
	return a
}

func (s *Server) fail(c *gin.Context, err error) {
	middleware.Abort(c, toAppError(err), s.log)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	middleware.Abort(c, errors.Wrap(err, errors.ErrCodeBadRequest, "Invalid request body"), s.log)
}

// @Summary Create access escrow
// @Tags ledger
// @Accept json
// @Produce json
// @Param X-Signer header string true "Purchaser public key"
// @Param X-Timestamp header int true "Unix timestamp"
// @Param X-Signature header string true "Request signature"
// @Param request body escrow.CreateEscrowRequest true "Escrow parameters"
// @Success 201 {object} AddressResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 402 {object} middleware.ErrorResponse "Insufficient funds"
// @Router /ledger/escrows [post]
func (s *Server) CreateEscrow(c *gin.Context) {
	var req escrow.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	addr, err := s.program.CreateAccessEscrow(c.Request.Context(), signerFrom(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, AddressResponse{Address: addr})
}

// @Summary Reveal encrypted CID
// @Tags ledger
// @Accept json
// @Produce json
// @Param address path string true "Escrow address"
// @Param request body RevealRequest true "Ciphertext"
// @Success 201 {object} AddressResponse
// @Failure 409 {object} middleware.ErrorResponse "Already revealed"
// @Router /ledger/escrows/{address}/reveals [post]
func (s *Server) RevealCID(c *gin.Context) {
	var req RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	addr, err := s.program.RevealCID(c.Request.Context(), signerFrom(c), c.Param("address"), req.EncryptedCID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, AddressResponse{Address: addr})
}

// @Summary Release escrow
// @Tags ledger
// @Accept json
// @Produce json
// @Param address path string true "Escrow address"
// @Param request body ReleaseRequest true "Recipients and amounts"
// @Success 200 {object} escrow.ReleaseReceipt
// @Failure 401 {object} middleware.ErrorResponse "Not the purchaser"
// @Failure 410 {object} middleware.ErrorResponse "Escrow expired"
// @Router /ledger/escrows/{address}/release [post]
func (s *Server) ReleaseEscrow(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	receipt, err := s.program.ReleaseEscrow(c.Request.Context(), signerFrom(c), c.Param("address"), req.Recipients, req.Amounts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// @Summary Burn expired escrow
// @Description Clears the funds still locked in an escrow past its release window. Any wallet may sign.
// @Tags ledger
// @Produce json
// @Param address path string true "Escrow address"
// @Success 200 {object} escrow.BurnReceipt
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse "Escrow not expired"
// @Router /ledger/escrows/{address}/burn [post]
func (s *Server) BurnExpiredEscrow(c *gin.Context) {
	receipt, err := s.program.BurnExpiredEscrow(c.Request.Context(), signerFrom(c), c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info().Str("escrow", receipt.Escrow).Uint64("amount", receipt.AmountBurned).Msg("Expired escrow burned")
	c.JSON(http.StatusOK, receipt)
}

// @Summary Get escrow
// @Tags ledger
// @Produce json
// @Param address path string true "Escrow address"
// @Success 200 {object} escrow.AccessEscrow
// @Failure 404 {object} middleware.ErrorResponse
// @Router /ledger/escrows/{address} [get]
func (s *Server) GetEscrow(c *gin.Context) {
	e, err := s.program.GetEscrow(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// @Summary List reveals of an escrow
// @Tags ledger
// @Produce json
// @Param address path string true "Escrow address"
// @Success 200 {array} escrow.CIDReveal
// @Router /ledger/escrows/{address}/reveals [get]
func (s *Server) GetReveals(c *gin.Context) {
	reveals, err := s.program.GetReveals(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if reveals == nil {
		reveals = []escrow.CIDReveal{}
	}
	c.JSON(http.StatusOK, reveals)
}

// @Summary List escrows
// @Tags ledger
// @Produce json
// @Param collection query string false "Collection address"
// @Param revealed query bool false "Reveal state"
// @Success 200 {array} escrow.AccessEscrow
// @Router /ledger/escrows [get]
func (s *Server) ListEscrows(c *gin.Context) {
	var filter escrow.EscrowFilter
	if v := c.Query("collection"); v != "" {
		pk, err := wallet.ParsePublicKey(v)
		if err != nil {
			middleware.Abort(c, errors.NewValidationError("collection", "not a base58 public key"), s.log)
			return
		}
		filter.Collection = &pk
	}
	if v := c.Query("revealed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			middleware.Abort(c, errors.NewValidationError("revealed", "not a boolean"), s.log)
			return
		}
		filter.Revealed = &b
	}
	escrows, err := s.program.ListEscrows(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if escrows == nil {
		escrows = []escrow.AccessEscrow{}
	}
	c.JSON(http.StatusOK, escrows)
}

// @Summary Get credential account
// @Tags ledger
// @Produce json
// @Param owner path string true "Owner public key"
// @Param credential path string true "Credential ID"
// @Success 200 {object} CredentialResponse
// @Failure 404 {object} middleware.ErrorResponse "No such credential account"
// @Router /ledger/credentials/{owner}/{credential} [get]
func (s *Server) GetCredential(c *gin.Context) {
	owner, err := wallet.ParsePublicKey(c.Param("owner"))
	if err != nil {
		middleware.Abort(c, errors.NewValidationError("owner", "not a base58 public key"), s.log)
		return
	}
	cred, err := s.program.GetCredential(c.Request.Context(), owner, c.Param("credential"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CredentialResponse{Collection: cred.Collection, Balance: cred.Amount})
}

// @Summary Get peer trust
// @Tags ledger
// @Produce json
// @Param wallet path string true "Pinner public key"
// @Success 200 {object} escrow.PeerTrust
// @Failure 404 {object} middleware.ErrorResponse
// @Router /ledger/peers/{wallet}/trust [get]
func (s *Server) GetPeerTrust(c *gin.Context) {
	peer, err := wallet.ParsePublicKey(c.Param("wallet"))
	if err != nil {
		middleware.Abort(c, errors.NewValidationError("wallet", "not a base58 public key"), s.log)
		return
	}
	t, err := s.program.(TrustReader).GetPeerTrust(c.Request.Context(), peer)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// @Summary Fund a wallet (development faucet)
// @Tags ledger
// @Accept json
// @Security AdminToken
// @Param request body FundRequest true "Owner and amount"
// @Success 204
// @Router /ledger/faucet [post]
func (s *Server) Fund(c *gin.Context) {
	var req FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	s.program.(Funder).Fund(req.Owner, req.Amount)
	s.log.Info().Str("owner", req.Owner.String()).Uint64("amount", req.Amount).Msg("Wallet funded")
	c.Status(http.StatusNoContent)
}
