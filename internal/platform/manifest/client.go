package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrFetchFailed is returned for transport errors and non-200 responses.
var ErrFetchFailed = errors.New("manifest fetch failed")

const maxManifestSize = 1 << 20

type Video struct {
	Title    string `json:"title" example:"Episode 1"`
	CID      string `json:"cid" example:"QmVideo1"`
	Duration int    `json:"duration" example:"1800"`
}

// Manifest describes the content of a collection.
// @Description Collection content manifest
type Manifest struct {
	CollectionID string  `json:"collection_id" example:"7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"`
	Version      string  `json:"version" example:"1"`
	Videos       []Video `json:"videos"`
}

// Client reads manifests from a content-addressed HTTP gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log.With().Str("component", "manifest_client").Logger(),
	}
}

// URL is the gateway location of cid.
func (c *Client) URL(cid string) string {
	return c.baseURL + "/ipfs/" + url.PathEscape(cid)
}

// Fetch downloads and parses the manifest stored under cid.
func (c *Client) Fetch(ctx context.Context, cid string) (*Manifest, error) {
	if cid == "" {
		return nil, fmt.Errorf("%w: empty cid", ErrFetchFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("cid", cid).Int("status", resp.StatusCode).Msg("Gateway returned non-200")
		return nil, fmt.Errorf("%w: gateway status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrFetchFailed, err)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrFetchFailed, err)
	}
	c.log.Debug().Str("cid", cid).Str("collection", m.CollectionID).Int("videos", len(m.Videos)).Msg("Manifest fetched")
	return &m, nil
}
