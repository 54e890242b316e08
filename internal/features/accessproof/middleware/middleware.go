package middleware

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/errors"
	commonmw "cid-escrow-backend/internal/common/middleware"
	"cid-escrow-backend/internal/features/accessproof/models"
	"cid-escrow-backend/internal/features/accessproof/service"
)

const (
	// ProofHeader carries a base64 encoded JSON AccessProofMessage.
	ProofHeader = "X-Access-Proof"
	// WalletKey is the context key of the verified wallet address.
	WalletKey = "access_wallet"
)

type CachedVerifier interface {
	VerifyCached(ctx context.Context, msg *models.AccessProofMessage, expectedCollectionID string) models.VerificationResult
}

// RequireAccessProof admits a request only when it carries a valid proof for
// the collection named by the route parameter. Clients get a generic
// ACCESS_DENIED; the concrete reason is logged.
func RequireAccessProof(v CachedVerifier, collectionParam string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		collection := c.Param(collectionParam)

		raw, err := decodeHeader(c.GetHeader(ProofHeader))
		if err != nil {
			log.Warn().Str("collection", collection).Err(err).Msg("Access proof header unreadable")
			commonmw.Abort(c, errors.NewAccessDeniedError(), log)
			return
		}
		msg, err := service.Decode(raw)
		if err != nil {
			log.Warn().Str("collection", collection).Err(err).Msg("Access proof malformed")
			commonmw.Abort(c, errors.NewAccessDeniedError(), log)
			return
		}

		res := v.VerifyCached(c.Request.Context(), msg, collection)
		if !res.Valid {
			log.Warn().
				Str("collection", collection).
				Str("wallet", msg.WalletAddress).
				Str("reason", string(res.Reason)).
				Msg("Access proof rejected")
			commonmw.Abort(c, errors.NewAccessDeniedError(), log)
			return
		}

		c.Set(WalletKey, msg.WalletAddress)
		c.Next()
	}
}

func decodeHeader(h string) ([]byte, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "missing "+ProofHeader+" header")
	}
	if raw, err := base64.StdEncoding.DecodeString(h); err == nil {
		return raw, nil
	}
	return base64.RawURLEncoding.DecodeString(h)
}
