package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
	"cid-escrow-backend/internal/domain/wallet"
)

const apiPrefix = "/api/v1/ledger"

// Client talks to a ledger gateway. Reads are retried by callers that poll;
// writes are never retried here.
type Client struct {
	httpClient *http.Client
	baseURL    string
	adminToken string
	now        func() time.Time
	log        zerolog.Logger
}

type Option func(*Client)

// WithAdminToken enables Fund against gateways that expose a faucet.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
		log:        log.With().Str("component", "ledger_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ escrow.Ledger = (*Client)(nil)
	_ TrustReader   = (*Client)(nil)
)

func (c *Client) CreateAccessEscrow(ctx context.Context, purchaser wallet.Signer, req escrow.CreateEscrowRequest) (string, error) {
	var resp AddressResponse
	if err := c.do(ctx, http.MethodPost, "/escrows", purchaser, req, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (c *Client) RevealCID(ctx context.Context, pinner wallet.Signer, escrowAddr string, ciphertext []byte) (string, error) {
	var resp AddressResponse
	path := "/escrows/" + url.PathEscape(escrowAddr) + "/reveals"
	if err := c.do(ctx, http.MethodPost, path, pinner, RevealRequest{EncryptedCID: ciphertext}, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

func (c *Client) ReleaseEscrow(ctx context.Context, purchaser wallet.Signer, escrowAddr string, recipients []wallet.PublicKey, amounts []uint64) (*escrow.ReleaseReceipt, error) {
	var receipt escrow.ReleaseReceipt
	path := "/escrows/" + url.PathEscape(escrowAddr) + "/release"
	if err := c.do(ctx, http.MethodPost, path, purchaser, ReleaseRequest{Recipients: recipients, Amounts: amounts}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) BurnExpiredEscrow(ctx context.Context, caller wallet.Signer, escrowAddr string) (*escrow.BurnReceipt, error) {
	var receipt escrow.BurnReceipt
	path := "/escrows/" + url.PathEscape(escrowAddr) + "/burn"
	if err := c.do(ctx, http.MethodPost, path, caller, struct{}{}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) GetEscrow(ctx context.Context, address string) (*escrow.AccessEscrow, error) {
	var e escrow.AccessEscrow
	if err := c.do(ctx, http.MethodGet, "/escrows/"+url.PathEscape(address), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) GetReveals(ctx context.Context, escrowAddr string) ([]escrow.CIDReveal, error) {
	var reveals []escrow.CIDReveal
	if err := c.do(ctx, http.MethodGet, "/escrows/"+url.PathEscape(escrowAddr)+"/reveals", nil, nil, &reveals); err != nil {
		return nil, err
	}
	return reveals, nil
}

func (c *Client) ListEscrows(ctx context.Context, filter escrow.EscrowFilter) ([]escrow.AccessEscrow, error) {
	q := url.Values{}
	if filter.Collection != nil {
		q.Set("collection", filter.Collection.String())
	}
	if filter.Revealed != nil {
		q.Set("revealed", strconv.FormatBool(*filter.Revealed))
	}
	path := "/escrows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var escrows []escrow.AccessEscrow
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &escrows); err != nil {
		return nil, err
	}
	return escrows, nil
}

func (c *Client) GetCredential(ctx context.Context, owner wallet.PublicKey, credentialID string) (*escrow.AccessCredential, error) {
	var resp CredentialResponse
	path := "/credentials/" + url.PathEscape(owner.String()) + "/" + url.PathEscape(credentialID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &escrow.AccessCredential{
		ID:         credentialID,
		Owner:      owner,
		Collection: resp.Collection,
		Amount:     resp.Balance,
	}, nil
}

func (c *Client) GetCredentialBalance(ctx context.Context, owner wallet.PublicKey, credentialID string) (uint64, error) {
	cred, err := c.GetCredential(ctx, owner, credentialID)
	if err != nil {
		return 0, err
	}
	return cred.Amount, nil
}

func (c *Client) GetPeerTrust(ctx context.Context, peer wallet.PublicKey) (*escrow.PeerTrust, error) {
	var t escrow.PeerTrust
	if err := c.do(ctx, http.MethodGet, "/peers/"+url.PathEscape(peer.String())+"/trust", nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Fund credits owner through the gateway faucet.
func (c *Client) Fund(ctx context.Context, owner wallet.PublicKey, amount uint64) error {
	return c.do(ctx, http.MethodPost, "/faucet", nil, FundRequest{Owner: owner, Amount: amount}, nil)
}

// do sends one request. A non-nil signer signs it.
func (c *Client) do(ctx context.Context, method, path string, signer wallet.Signer, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signer != nil {
		ts := c.now().Unix()
		sig := signer.Sign(SigningPayload(method, req.URL.Path, ts, body))
		req.Header.Set(HeaderSigner, signer.PublicKey().String())
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, base58.Encode(sig))
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize*16))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		var eb ErrorBody
		_ = json.Unmarshal(data, &eb)
		err := fromAppError(resp.StatusCode, eb.Error)
		c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Err(err).Msg("Ledger request failed")
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
