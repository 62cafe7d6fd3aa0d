// Package probe dials RPC endpoints with fallback and checks a
// configuration against the live chain.
package probe

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"plstrdash/pkg/config"
	"plstrdash/pkg/models"
)

// EndpointTimeout bounds a single dial plus chain id probe.
var EndpointTimeout = 10 * time.Second

// Endpoint is a node that answered eth_chainId.
type Endpoint struct {
	URL     string
	Client  *rpc.Client
	ChainID uint64
	Latency time.Duration
}

// Eth wraps the endpoint client for typed calls.
func (e *Endpoint) Eth() *ethclient.Client {
	return ethclient.NewClient(e.Client)
}

func (e *Endpoint) Close() {
	e.Client.Close()
}

// Dial connects to url and reads its chain id, bounded by timeout and ctx.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	id, err := ethclient.NewClient(client).ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get ChainID: %w", err)
	}
	return &Endpoint{URL: url, Client: client, ChainID: id.Uint64(), Latency: time.Since(start)}, nil
}

// FirstAvailable tries urls in order and returns the first endpoint that
// answers, with the URLs that failed before it.
func FirstAvailable(ctx context.Context, urls []string, perAttempt time.Duration) (*Endpoint, []string, error) {
	var failed []string
	var lastErr error
	for _, url := range urls {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			failed = append(failed, url)
			continue
		}
		ep, err := Dial(ctx, url, perAttempt)
		if err != nil {
			failed = append(failed, url)
			lastErr = err
			continue
		}
		return ep, failed, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC URLs configured")
	}
	return nil, failed, lastErr
}

// HasCode reports whether addr holds contract code.
func HasCode(ctx context.Context, client *ethclient.Client, addr common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// TestConfig probes every configured RPC, checks chain id consistency and
// that both contracts have code. A zero chain id in cfg is filled from the
// first answering endpoint and reported as ConfigUpdated; the caller decides
// whether to save. Progress is written to out.
func TestConfig(ctx context.Context, cfg *config.Config, out io.Writer) models.TestReport {
	report := models.TestReport{
		ValidStructure: true,
		ConfigChainID:  cfg.Chain.ChainID,
	}
	if err := cfg.Validate(); err != nil {
		report.ValidStructure = false
		report.StructureErrors = append(report.StructureErrors, err.Error())
		fmt.Fprintf(out, "Error: %v\n", err)
		return report
	}

	fmt.Fprintf(out, "Testing Chain: %s (%s)\n", cfg.Chain.Name, cfg.Chain.Symbol)
	var observed *Endpoint
	for _, url := range cfg.Chain.RPCURLs {
		res := models.RPCResult{URL: url}
		fmt.Fprintf(out, "  RPC: %s ... ", url)

		ep, err := Dial(ctx, url, EndpointTimeout)
		if err != nil {
			res.Status = "error"
			res.Error = err.Error()
			fmt.Fprintf(out, "Failed: %v\n", err)
			report.RPCs = append(report.RPCs, res)
			continue
		}

		res.Status = "ok"
		res.ChainID = int64(ep.ChainID)
		fmt.Fprintf(out, "OK (ChainID: %d, %s)", ep.ChainID, ep.Latency.Round(time.Millisecond))

		switch {
		case observed == nil:
			observed = ep
			report.ObservedChainID = int64(ep.ChainID)
		case observed.ChainID != ep.ChainID:
			fmt.Fprintf(out, " - WARNING: ChainID mismatch with previous RPC (%d)", observed.ChainID)
			report.Inconsistent = true
		}

		if cfg.Chain.ChainID != 0 {
			if int64(ep.ChainID) != cfg.Chain.ChainID {
				res.Error = fmt.Sprintf("Mismatch! Expected %d", cfg.Chain.ChainID)
				fmt.Fprintf(out, " - MISMATCH! Expected %d", cfg.Chain.ChainID)
			} else {
				fmt.Fprint(out, " - Verified")
			}
		} else {
			cfg.Chain.ChainID = int64(ep.ChainID)
			report.ConfigUpdated = true
			fmt.Fprint(out, " - UPDATED CONFIG")
		}
		fmt.Fprintln(out)

		if ep != observed {
			ep.Close()
		}
		report.RPCs = append(report.RPCs, res)
	}

	if observed == nil {
		return report
	}
	defer observed.Close()

	eth := observed.Eth()
	for _, c := range []struct{ name, addr string }{
		{"PLSTR", cfg.Contracts.PLSTR},
		{"vPLS", cfg.Contracts.VPLS},
	} {
		res := models.ContractResult{Name: c.name, Address: c.addr}
		cctx, cancel := context.WithTimeout(ctx, EndpointTimeout)
		ok, err := HasCode(cctx, eth, common.HexToAddress(c.addr))
		cancel()
		switch {
		case err != nil:
			res.Error = err.Error()
			fmt.Fprintf(out, "  Contract %s %s: Failed: %v\n", c.name, c.addr, err)
		case !ok:
			res.Error = "no contract code at address"
			fmt.Fprintf(out, "  Contract %s %s: NO CODE\n", c.name, c.addr)
		default:
			res.HasCode = true
			fmt.Fprintf(out, "  Contract %s %s: OK\n", c.name, c.addr)
		}
		report.Contracts = append(report.Contracts, res)
	}
	return report
}
