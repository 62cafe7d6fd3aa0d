package watcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"plstrdash/pkg/contracts"
	"plstrdash/pkg/errs"
	"plstrdash/pkg/log"
	"plstrdash/pkg/metrics"
	"plstrdash/pkg/models"
	"plstrdash/pkg/refresh"
	"plstrdash/pkg/utils"
)

// MaxRatioPoints bounds the backing ratio history kept for the graph.
const MaxRatioPoints = 120

// Fetch sources, used in ReadError and logs.
const (
	SourceContract = "contract"
	SourceAccount  = "account"
	SourceHistory  = "history"
)

// DataSource defines the interface for fetching data. *contracts.Reader
// implements it.
type DataSource interface {
	GetContractSnapshot(ctx context.Context) (models.ContractSnapshot, error)
	GetAccountSnapshot(ctx context.Context, address string) (models.AccountSnapshot, error)
	GetTransactionHistory(ctx context.Context, address string, limit int) ([]models.TransactionRecord, error)
}

// ConnectionSource reports the active connection. *connection.Manager
// implements it.
type ConnectionSource interface {
	State() models.ConnectionState
	OnAccountOrChainChange(cb func(models.ConnectionState)) func()
}

// scope is the account and chain the held data was fetched for.
type scope struct {
	account string
	chainID uint64
	known   bool
}

type optimistic struct {
	rec   models.TransactionRecord
	token uint64
}

// Watcher refetches everything the dashboard shows whenever the refresh
// token moves, and keeps only results that belong to the newest token.
type Watcher struct {
	dataSource   DataSource
	conn         ConnectionSource
	token        *refresh.Token
	interval     time.Duration
	historyLimit int
	logger       *zap.Logger
	metrics      *metrics.Metrics

	contract refresh.Latest[models.ContractSnapshot]
	account  refresh.Latest[models.AccountSnapshot]
	history  refresh.Latest[[]models.TransactionRecord]

	scopeMu sync.Mutex
	scope   scope

	mu            sync.RWMutex
	expectedChain uint64
	pending       []optimistic
	ratios      []models.RatioPoint
	subscribers []Subscriber
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewWatcher creates a watcher. interval is the poll period; zero disables
// polling.
func NewWatcher(ds DataSource, conn ConnectionSource, token *refresh.Token, interval time.Duration, historyLimit int, logger *zap.Logger, m *metrics.Metrics) *Watcher {
	if historyLimit <= 0 {
		historyLimit = contracts.DefaultHistoryLimit
	}
	return &Watcher{
		dataSource:   ds,
		conn:         conn,
		token:        token,
		interval:     interval,
		historyLimit: historyLimit,
		logger:       log.OrNop(logger),
		metrics:      m,
		stopChan:     make(chan struct{}),
	}
}

// SetDataSource allows overriding the data source (useful for testing).
func (w *Watcher) SetDataSource(ds DataSource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dataSource = ds
}

// SetExpectedChain records the chain the dashboard is configured for, so
// status can flag a connection on any other chain. Zero disables the check.
func (w *Watcher) SetExpectedChain(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expectedChain = id
}

func (w *Watcher) source() DataSource {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dataSource
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			w.logger.Debug("subscriber full, dropping event", zap.String("type", string(event.Type)))
		}
	}
}

// Start begins the refresh and polling loops. Data is fetched once right
// away for the current token.
func (w *Watcher) Start(ctx context.Context) {
	ch, cancel := w.token.Subscribe()
	unsubscribe := func() {}
	if w.conn != nil {
		unsubscribe = w.conn.OnAccountOrChainChange(w.connectionChanged)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		defer unsubscribe()
		w.refreshLoop(ctx, ch)
	}()

	if w.interval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.pollingLoop(ctx)
		}()
	}
}

// Stop stops the loops and waits for them to exit. In-flight fetches finish
// on their own and are discarded if stale.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// Refresh invalidates everything and triggers a refetch.
func (w *Watcher) Refresh() uint64 {
	return w.token.Bump()
}

func (w *Watcher) refreshLoop(ctx context.Context, ch <-chan uint64) {
	go w.FetchAll(ctx, w.token.Value())
	for {
		select {
		case tok, ok := <-ch:
			if !ok {
				return
			}
			w.metrics.SetRefreshToken(tok)
			go w.FetchAll(ctx, tok)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) pollingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.connected() {
				w.token.Bump()
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) connected() bool {
	return w.conn == nil || w.conn.State().Status == models.StatusConnected
}

func (w *Watcher) connectionChanged(st models.ConnectionState) {
	if st.Status != models.StatusConnected {
		// fetches still in flight for the old connection must not land
		floor := w.token.Value() + 1
		w.contract.Clear(floor)
		w.account.Clear(floor)
		w.history.Clear(floor)
	} else {
		w.rescope(st, w.token.Value())
	}
	w.notify(Event{Type: EventConnectionChanged, Token: w.token.Value(), Data: st})
}

// FetchAll dispatches the contract, account and history reads for tok and
// waits for them. The reads are independent; each result is kept only if no
// newer token has landed for the same kind of data.
func (w *Watcher) FetchAll(ctx context.Context, tok uint64) {
	if !w.connected() {
		return
	}
	account := ""
	if w.conn != nil {
		st := w.conn.State()
		w.rescope(st, tok)
		account = st.Account
	}
	ds := w.source()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		snap, err := ds.GetContractSnapshot(ctx)
		if w.contract.Store(tok, snap, err) {
			w.settle(SourceContract, tok, err, func() {
				w.recordRatio(snap)
				w.notify(Event{Type: EventContractUpdated, Token: tok, Data: snap})
			})
		}
	}()

	if account == "" {
		w.account.Clear(tok)
		w.history.Clear(tok)
	} else {
		wg.Add(2)
		go func() {
			defer wg.Done()
			snap, err := ds.GetAccountSnapshot(ctx, account)
			if w.account.Store(tok, snap, err) {
				w.settle(SourceAccount, tok, err, func() {
					w.notify(Event{Type: EventAccountUpdated, Token: tok, Data: snap})
				})
			}
		}()
		go func() {
			defer wg.Done()
			records, err := ds.GetTransactionHistory(ctx, account, w.historyLimit)
			if w.history.Store(tok, records, err) {
				w.settle(SourceHistory, tok, err, func() {
					w.dropSettled(tok, records)
					w.notify(Event{Type: EventHistoryUpdated, Token: tok, Data: w.History()})
				})
			}
		}()
	}
	wg.Wait()
}

// rescope drops data fetched for a different account or chain than st, so
// nothing from the previous wallet is shown while the refetch for tok is in
// flight. Whichever of the change callback and the fetch sees the new scope
// first does the clearing.
func (w *Watcher) rescope(st models.ConnectionState, tok uint64) bool {
	if st.Status != models.StatusConnected {
		return false
	}
	w.scopeMu.Lock()
	defer w.scopeMu.Unlock()
	prev := w.scope
	w.scope = scope{account: st.Account, chainID: st.ChainID, known: true}
	if !prev.known {
		return false
	}
	chainChanged := prev.chainID != st.ChainID
	if !chainChanged && strings.EqualFold(prev.account, st.Account) {
		return false
	}

	if chainChanged {
		w.contract.Clear(tok)
	}
	w.account.Clear(tok)
	w.history.Clear(tok)
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
	w.logger.Info("account or chain changed, dropped previous data",
		zap.String("account", st.Account),
		zap.Uint64("chain_id", st.ChainID),
		zap.Uint64("token", tok))
	return true
}

func (w *Watcher) settle(source string, tok uint64, err error, ok func()) {
	if err == nil {
		ok()
		return
	}
	w.logger.Warn("read failed", zap.String("source", source), zap.Uint64("token", tok), zap.Error(err))
	w.notify(Event{Type: EventReadFailed, Token: tok, Data: ReadError{
		Source: source,
		Kind:   errs.KindOf(err).String(),
		Error:  err.Error(),
	}})
}

func (w *Watcher) recordRatio(snap models.ContractSnapshot) {
	if snap.BackingRatio == nil {
		return
	}
	at := snap.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ratios = append(w.ratios, models.RatioPoint{Timestamp: at, Value: utils.RatioFloat(snap.BackingRatio)})
	if len(w.ratios) > MaxRatioPoints {
		w.ratios = w.ratios[len(w.ratios)-MaxRatioPoints:]
	}
}

// AddRecord tracks an optimistic record from the transaction submitter until
// a history fetch supersedes it.
func (w *Watcher) AddRecord(rec models.TransactionRecord) {
	tok := w.token.Value()
	w.mu.Lock()
	replaced := false
	for i := range w.pending {
		if rec.TxHash != "" && strings.EqualFold(w.pending[i].rec.TxHash, rec.TxHash) {
			w.pending[i] = optimistic{rec: rec, token: tok}
			replaced = true
			break
		}
	}
	if !replaced {
		w.pending = append(w.pending, optimistic{rec: rec, token: tok})
	}
	w.mu.Unlock()
	w.notify(Event{Type: EventTransactionUpdated, Token: tok, Data: rec})
}

// dropSettled removes optimistic records that the history fetched for tok
// already covers: those present in it, and those that settled before tok was
// issued.
func (w *Watcher) dropSettled(tok uint64, fetched []models.TransactionRecord) {
	seen := make(map[string]bool, len(fetched))
	for _, r := range fetched {
		seen[strings.ToLower(r.TxHash)] = true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.pending[:0]
	for _, p := range w.pending {
		if seen[strings.ToLower(p.rec.TxHash)] {
			continue
		}
		if p.rec.Status != models.TxPending && p.token < tok {
			continue
		}
		kept = append(kept, p)
	}
	w.pending = kept
}

// History returns optimistic records followed by the last accepted history,
// newest first.
func (w *Watcher) History() []models.TransactionRecord {
	fetched, _, _ := w.history.Get()
	w.mu.RLock()
	out := make([]models.TransactionRecord, 0, len(w.pending)+len(fetched))
	seen := make(map[string]bool, len(w.pending))
	for _, p := range w.pending {
		out = append(out, p.rec)
		seen[strings.ToLower(p.rec.TxHash)] = true
	}
	w.mu.RUnlock()
	for _, r := range fetched {
		if !seen[strings.ToLower(r.TxHash)] {
			out = append(out, r)
		}
	}
	contracts.SortRecords(out)
	return out
}

// Ratios returns the backing ratio history, oldest first.
func (w *Watcher) Ratios() []models.RatioPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]models.RatioPoint(nil), w.ratios...)
}

// Status is everything the dashboard shows, as of one moment.
type Status struct {
	Connection      models.ConnectionState     `json:"connection"`
	ConnectionError string                     `json:"connection_error,omitempty"`
	Token           uint64                     `json:"refresh_token"`
	Contract        *models.ContractSnapshot   `json:"contract,omitempty"`
	ContractError   string                     `json:"contract_error,omitempty"`
	ContractStale   bool                       `json:"contract_stale"`
	Account         *models.AccountSnapshot    `json:"account,omitempty"`
	AccountError    string                     `json:"account_error,omitempty"`
	AccountStale    bool                       `json:"account_stale"`
	History         []models.TransactionRecord `json:"history"`
	HistoryError    string                     `json:"history_error,omitempty"`
	HistoryStale    bool                       `json:"history_stale"`
	Ratios          []models.RatioPoint        `json:"ratios,omitempty"`
	ExpectedChainID uint64                     `json:"expected_chain_id,omitempty"`
	WrongNetwork    bool                       `json:"wrong_network"`
}

// GetStatus assembles the current view. Snapshots that never loaded are nil.
func (w *Watcher) GetStatus() Status {
	tok := w.token.Value()
	st := Status{Token: tok, History: w.History(), Ratios: w.Ratios()}
	if w.conn != nil {
		st.Connection = w.conn.State()
		if st.Connection.Err != nil {
			st.ConnectionError = st.Connection.Err.Error()
		}
	}

	contract, _, cerr := w.contract.Get()
	if contract.TotalSupply != nil {
		st.Contract = &contract
	}
	st.ContractError = errString(cerr)
	st.ContractStale = w.contract.Stale(tok)

	account, _, aerr := w.account.Get()
	if account.Address != "" {
		st.Account = &account
	}
	st.AccountError = errString(aerr)
	st.AccountStale = w.account.Stale(tok)

	_, _, herr := w.history.Get()
	st.HistoryError = errString(herr)
	st.HistoryStale = w.history.Stale(tok)

	w.mu.RLock()
	st.ExpectedChainID = w.expectedChain
	w.mu.RUnlock()
	st.WrongNetwork = st.ExpectedChainID != 0 &&
		st.Connection.Status == models.StatusConnected &&
		st.Connection.ChainID != st.ExpectedChainID
	return st
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
