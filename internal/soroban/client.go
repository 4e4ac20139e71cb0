// Package soroban is a minimal JSON-RPC client for a Soroban RPC node.
package soroban

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/stellar/go/xdr"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	defaultLimit   = 100

	// Node-side caps on getEvents filters.
	maxContractsPerFilter = 5
	maxFiltersPerRequest  = 5
)

// Options tunes the client. Zero values select defaults.
type Options struct {
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited
	HTTPClient *http.Client
}

// Client talks to one RPC endpoint.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	nextID  atomic.Uint64
}

// New builds a client for url.
func New(url string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
		burst = max(1, int(opts.RateLimit))
	}
	return &Client{url: url, http: hc, limiter: rate.NewLimiter(limit, burst)}
}

// URL returns the endpoint the client is bound to.
func (c *Client) URL() string { return c.url }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", method, err)
	}
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: rpc status %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// GetHealth returns the node health report.
func (c *Client) GetHealth(ctx context.Context) (Health, error) {
	var h Health
	err := c.call(ctx, "getHealth", nil, &h)
	return h, err
}

// GetLatestLedger returns the node's latest ledger.
func (c *Client) GetLatestLedger(ctx context.Context) (LatestLedger, error) {
	var l LatestLedger
	err := c.call(ctx, "getLatestLedger", nil, &l)
	return l, err
}

type eventFilter struct {
	Type        string   `json:"type"`
	ContractIDs []string `json:"contractIds"`
}

type pagination struct {
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

type getEventsParams struct {
	StartLedger uint32        `json:"startLedger,omitempty"`
	EndLedger   uint32        `json:"endLedger,omitempty"`
	Filters     []eventFilter `json:"filters"`
	Pagination  pagination    `json:"pagination"`
}

type getEventsResult struct {
	Events       []Event `json:"events"`
	LatestLedger uint32  `json:"latestLedger"`
	Cursor       string  `json:"cursor"`
}

// GetEvents returns every contract event matching q, following pagination
// and splitting the contract list to respect the node's filter caps. Events
// are unique by id and ordered by ledger then id.
func (c *Client) GetEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	if len(q.ContractIDs) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	seen := make(map[string]struct{})
	var out []Event
	for _, filters := range chunkFilters(q.ContractIDs) {
		evs, err := c.fetchEvents(ctx, q.StartLedger, q.EndLedger, filters, limit)
		if err != nil {
			return nil, err
		}
		for _, ev := range evs {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ledger != out[j].Ledger {
			return out[i].Ledger < out[j].Ledger
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c *Client) fetchEvents(ctx context.Context, start, end uint32, filters []eventFilter, limit int) ([]Event, error) {
	params := getEventsParams{
		StartLedger: start,
		EndLedger:   end,
		Filters:     filters,
		Pagination:  pagination{Limit: limit},
	}
	var out []Event
	for {
		var page getEventsResult
		if err := c.call(ctx, "getEvents", params, &page); err != nil {
			return nil, err
		}
		// Follow-up pages run to the node's latest ledger, so the end bound
		// is enforced here.
		pastEnd := false
		for _, ev := range page.Events {
			if end > 0 && ev.Ledger >= end {
				pastEnd = true
				continue
			}
			out = append(out, ev)
		}
		if pastEnd || len(page.Events) < limit || page.Cursor == "" || page.Cursor == params.Pagination.Cursor {
			return out, nil
		}
		// A cursor replaces the ledger range on follow-up pages.
		params.StartLedger = 0
		params.EndLedger = 0
		params.Pagination.Cursor = page.Cursor
	}
}

func chunkFilters(ids []string) [][]eventFilter {
	var filters []eventFilter
	for i := 0; i < len(ids); i += maxContractsPerFilter {
		end := min(i+maxContractsPerFilter, len(ids))
		filters = append(filters, eventFilter{Type: "contract", ContractIDs: ids[i:end]})
	}
	var groups [][]eventFilter
	for i := 0; i < len(filters); i += maxFiltersPerRequest {
		end := min(i+maxFiltersPerRequest, len(filters))
		groups = append(groups, filters[i:end])
	}
	return groups
}

type getLedgerEntriesResult struct {
	Entries      []LedgerEntry `json:"entries"`
	LatestLedger uint32        `json:"latestLedger"`
}

// GetLedgerEntries fetches raw entries for base64 LedgerKeys.
func (c *Client) GetLedgerEntries(ctx context.Context, keys []string) ([]LedgerEntry, error) {
	var res getLedgerEntriesResult
	if err := c.call(ctx, "getLedgerEntries", map[string]any{"keys": keys}, &res); err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// ErrAccountNotFound is returned when the node has no entry for an account.
var ErrAccountNotFound = errors.New("account not found")

// GetAccountSequence returns the current sequence number of a G... account.
func (c *Client) GetAccountSequence(ctx context.Context, address string) (int64, error) {
	aid, err := xdr.AddressToAccountId(address)
	if err != nil {
		return 0, fmt.Errorf("parse account %q: %w", address, err)
	}
	key, err := xdr.MarshalBase64(xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: aid},
	})
	if err != nil {
		return 0, fmt.Errorf("encode ledger key: %w", err)
	}
	entries, err := c.GetLedgerEntries(ctx, []string{key})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(entries[0].XDR, &data); err != nil {
		return 0, fmt.Errorf("decode account entry: %w", err)
	}
	acct, ok := data.GetAccount()
	if !ok {
		return 0, fmt.Errorf("entry for %s is %s, not an account", address, data.Type)
	}
	return int64(acct.SeqNum), nil
}

// SimulateTransaction dry-runs a base64 envelope.
func (c *Client) SimulateTransaction(ctx context.Context, envelope string) (SimulateResult, error) {
	var res SimulateResult
	err := c.call(ctx, "simulateTransaction", map[string]any{"transaction": envelope}, &res)
	return res, err
}

// SendTransaction submits a signed base64 envelope.
func (c *Client) SendTransaction(ctx context.Context, envelope string) (SendResult, error) {
	var res SendResult
	err := c.call(ctx, "sendTransaction", map[string]any{"transaction": envelope}, &res)
	return res, err
}

// GetTransaction looks up a submitted transaction by hex hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (TransactionResult, error) {
	var res TransactionResult
	err := c.call(ctx, "getTransaction", map[string]any{"hash": hash}, &res)
	return res, err
}
