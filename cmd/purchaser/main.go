package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"cid-escrow-backend/internal/common/logger"
	"cid-escrow-backend/internal/domain/wallet"
	"cid-escrow-backend/internal/features/escrow/models"
	escrowService "cid-escrow-backend/internal/features/escrow/service"
	"cid-escrow-backend/internal/features/watch"
	"cid-escrow-backend/internal/platform/ledger/httpledger"
	"cid-escrow-backend/internal/platform/manifest"
)

func main() {
	app := &cli.App{
		Name:  "purchaser",
		Usage: "buy access to a collection through a CID commit-reveal escrow",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ledger", Value: "http://localhost:8899", EnvVars: []string{"LEDGER_URL"}, Usage: "ledger gateway base URL"},
			&cli.DurationFlag{Name: "ledger-timeout", Value: 10 * time.Second, EnvVars: []string{"LEDGER_TIMEOUT"}},
			&cli.DurationFlag{Name: "poll-interval", Value: 2 * time.Second, EnvVars: []string{"LEDGER_POLL_INTERVAL"}},
			&cli.StringFlag{Name: "secret", EnvVars: []string{"WALLET_SECRET_KEY"}, Usage: "base58 ed25519 secret key of the purchaser"},
			&cli.BoolFlag{Name: "debug", EnvVars: []string{"DEBUG"}},
		},
		Before: func(c *cli.Context) error {
			// .env is optional
			_ = godotenv.Load()
			logger.Init("cid-escrow-purchaser", c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			keygenCmd,
			fundCmd,
			purchaseCmd,
			awaitCmd,
			proofCmd,
			releaseCmd,
			burnCmd,
			trustCmd,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %v\n", err)
		os.Exit(1)
	}
}

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "generate a new wallet",
	Action: func(c *cli.Context) error {
		w, err := wallet.Generate()
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"public_key": w.PublicKey().String(),
			"secret_key": w.SecretBase58(),
		})
	},
}

var fundCmd = &cli.Command{
	Name:  "fund",
	Usage: "credit a wallet from the gateway faucet",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "wallet", Usage: "wallet to credit, defaults to the purchaser"},
		&cli.Uint64Flag{Name: "amount", Required: true},
		&cli.StringFlag{Name: "admin-token", EnvVars: []string{"ADMIN_TOKEN"}, Required: true},
	},
	Action: func(c *cli.Context) error {
		ledger := newLedger(c, httpledger.WithAdminToken(c.String("admin-token")))
		var owner wallet.PublicKey
		if s := c.String("wallet"); s != "" {
			pk, err := wallet.ParsePublicKey(s)
			if err != nil {
				return fmt.Errorf("--wallet: %w", err)
			}
			owner = pk
		} else {
			w, err := loadWallet(c)
			if err != nil {
				return err
			}
			owner = w.PublicKey()
		}
		if err := ledger.Fund(c.Context, owner, c.Uint64("amount")); err != nil {
			return err
		}
		logger.Info().Str("wallet", owner.String()).Uint64("amount", c.Uint64("amount")).Msg("Wallet funded")
		return nil
	},
}

var purchaseCmd = &cli.Command{
	Name:  "purchase",
	Usage: "create an escrow, wait for a reveal and verify it",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "collection", Required: true},
		&cli.Uint64Flag{Name: "amount", Required: true},
		&cli.StringFlag{Name: "cid", Required: true, Usage: "expected manifest CID"},
		&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, EnvVars: []string{"REVEAL_TIMEOUT"}},
		&cli.StringFlag{Name: "gateway", EnvVars: []string{"GATEWAY_URL"}, Usage: "fetch the manifest from this gateway once verified"},
	},
	Action: func(c *cli.Context) error {
		collection, err := wallet.ParsePublicKey(c.String("collection"))
		if err != nil {
			return fmt.Errorf("--collection: %w", err)
		}
		lc, err := newLifecycle(c)
		if err != nil {
			return err
		}

		p, err := lc.Purchase(c.Context, collection, c.Uint64("amount"), c.String("cid"), c.Duration("timeout"))
		if err != nil {
			if p != nil {
				logger.Warn().Str("escrow", p.EscrowAddress).Str("state", string(p.State)).Msg("Purchase incomplete, resume with await")
			}
			return err
		}
		return finish(c, lc, p)
	},
}

var awaitCmd = &cli.Command{
	Name:  "await",
	Usage: "resume an existing escrow and wait for its reveal",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "escrow", Required: true},
		&cli.StringFlag{Name: "cid", Required: true},
		&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, EnvVars: []string{"REVEAL_TIMEOUT"}},
		&cli.StringFlag{Name: "gateway", EnvVars: []string{"GATEWAY_URL"}},
	},
	Action: func(c *cli.Context) error {
		lc, err := newLifecycle(c)
		if err != nil {
			return err
		}
		p, err := resume(c, lc)
		if err != nil {
			return err
		}
		return finish(c, lc, p)
	},
}

var proofCmd = &cli.Command{
	Name:  "proof",
	Usage: "issue an access proof for a verified escrow",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "escrow", Required: true},
		&cli.StringFlag{Name: "cid", Required: true},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
	},
	Action: func(c *cli.Context) error {
		lc, err := newLifecycle(c)
		if err != nil {
			return err
		}
		p, err := resume(c, lc)
		if err != nil {
			return err
		}
		proof, err := lc.IssueAccessProof(p)
		if err != nil {
			return err
		}
		header, err := encodeProof(proof)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"proof":  proof,
			"header": header,
		})
	},
}

var releaseCmd = &cli.Command{
	Name:  "release",
	Usage: "release escrowed funds to the pinners that served the content",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "escrow", Required: true},
		&cli.StringFlag{Name: "cid", Required: true},
		&cli.StringSliceFlag{Name: "report", Usage: "pinner weight as wallet=magnitude, repeatable; defaults to one unit per revealing pinner"},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
	},
	Action: func(c *cli.Context) error {
		reports, err := parseReports(c.StringSlice("report"))
		if err != nil {
			return err
		}
		lc, err := newLifecycle(c)
		if err != nil {
			return err
		}
		p, err := resume(c, lc)
		if err != nil {
			return err
		}
		receipt, err := lc.RequestRelease(c.Context, p, reports)
		if err != nil {
			return err
		}
		return printJSON(receipt)
	},
}

var burnCmd = &cli.Command{
	Name:  "burn",
	Usage: "clear an escrow whose release window has closed; any wallet may sign",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "escrow", Required: true},
	},
	Action: func(c *cli.Context) error {
		w, err := loadWallet(c)
		if err != nil {
			return err
		}
		receipt, err := newLedger(c).BurnExpiredEscrow(c.Context, w, c.String("escrow"))
		if err != nil {
			return err
		}
		return printJSON(receipt)
	},
}

var trustCmd = &cli.Command{
	Name:  "trust",
	Usage: "show the trust record of a pinner",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "wallet", Required: true},
	},
	Action: func(c *cli.Context) error {
		pk, err := wallet.ParsePublicKey(c.String("wallet"))
		if err != nil {
			return fmt.Errorf("--wallet: %w", err)
		}
		trust, err := newLedger(c).GetPeerTrust(c.Context, pk)
		if err != nil {
			return err
		}
		return printJSON(trust)
	},
}

func loadWallet(c *cli.Context) (*wallet.Wallet, error) {
	secret := c.String("secret")
	if secret == "" {
		return nil, errors.New("--secret or WALLET_SECRET_KEY is required")
	}
	return wallet.FromBase58(secret)
}

func newLedger(c *cli.Context, opts ...httpledger.Option) *httpledger.Client {
	return httpledger.NewClient(c.String("ledger"), c.Duration("ledger-timeout"), logger.Component("ledger_client"), opts...)
}

func newLifecycle(c *cli.Context) (*escrowService.Lifecycle, error) {
	w, err := loadWallet(c)
	if err != nil {
		return nil, err
	}
	clk := clock.New()
	watcher := watch.NewPollWatcher(c.Duration("poll-interval"), clk)
	return escrowService.NewLifecycle(newLedger(c), watcher, w, clk, logger.Component("purchaser")), nil
}

// resume rebuilds the purchase and brings it to the verified state.
func resume(c *cli.Context, lc *escrowService.Lifecycle) (*models.Purchase, error) {
	p, err := lc.ResumePurchase(c.Context, c.String("escrow"), c.String("cid"))
	if err != nil {
		return nil, err
	}
	reveal, err := lc.AwaitReveal(c.Context, p, c.Duration("timeout"))
	if err != nil {
		return nil, err
	}
	res, err := lc.Verify(c.Context, p, reveal)
	if err != nil {
		return nil, err
	}
	if !res.Verified {
		return nil, fmt.Errorf("%w: escrow %s, pinner %s", escrowService.ErrVerificationFailed, p.EscrowAddress, res.Pinner)
	}
	return p, nil
}

// finish prints the verified purchase with a fresh proof and, when a gateway
// is configured, the collection manifest.
func finish(c *cli.Context, lc *escrowService.Lifecycle, p *models.Purchase) error {
	proof, err := lc.IssueAccessProof(p)
	if err != nil {
		return err
	}
	header, err := encodeProof(proof)
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"purchase":     p,
		"proof_header": header,
	}
	if gw := c.String("gateway"); gw != "" {
		m, err := manifest.NewClient(gw, 0, logger.Component("gateway")).Fetch(c.Context, p.Result.CID)
		if err != nil {
			logger.Warn().Err(err).Str("cid", p.Result.CID).Msg("Manifest fetch failed")
		} else {
			out["manifest"] = m
		}
	}
	return printJSON(out)
}

func encodeProof(proof interface{}) (string, error) {
	raw, err := json.Marshal(proof)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func parseReports(values []string) ([]models.PeerPerformanceReport, error) {
	reports := make([]models.PeerPerformanceReport, 0, len(values))
	for _, v := range values {
		w, m, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("--report %q: want wallet=magnitude", v)
		}
		pk, err := wallet.ParsePublicKey(w)
		if err != nil {
			return nil, fmt.Errorf("--report %q: %w", v, err)
		}
		magnitude, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--report %q: %w", v, err)
		}
		reports = append(reports, models.PeerPerformanceReport{PinnerWallet: pk, Magnitude: magnitude})
	}
	return reports, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
