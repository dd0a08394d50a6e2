package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/yourorg/finance/internal/domain"
	"github.com/yourorg/finance/internal/repository/sqlstore"
)

type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (s *stubQuotes) Lookup(ctx context.Context, symbol string) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.prices[symbol]
	if !ok {
		return nil, nil
	}
	return &domain.Quote{Symbol: symbol, Name: symbol + " Inc.", Price: p}, nil
}

func (s *stubQuotes) set(symbol, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = decimal.RequireFromString(price)
}

type fixture struct {
	db      *sqlx.DB
	svc     *Service
	quotes  *stubQuotes
	users   *sqlstore.UserRepo
	history *sqlstore.HistoryRepo
	user    *domain.User
}

func newFixture(t *testing.T, cash string) *fixture {
	t.Helper()
	return newFixtureAt(t, "sqlite://:memory:", cash)
}

func newFixtureAt(t *testing.T, url, cash string) *fixture {
	t.Helper()
	db, err := sqlstore.Connect(url)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlstore.RunMigrations(db, url); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	users := sqlstore.NewUserRepo(db)
	history := sqlstore.NewHistoryRepo(db)
	user := &domain.User{Username: "trader", Hash: "x", Cash: decimal.RequireFromString(cash)}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	q := &stubQuotes{prices: map[string]decimal.Decimal{}}
	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	svc := NewService(db, users, sqlstore.NewPositionRepo(db), history, q,
		slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock))
	return &fixture{db: db, svc: svc, quotes: q, users: users, history: history, user: user}
}

func (f *fixture) cash(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	return u.Cash
}

func (f *fixture) position(t *testing.T, symbol string) *domain.Position {
	t.Helper()
	p, err := sqlstore.NewPositionRepo(f.db).GetBySymbol(context.Background(), f.user.ID, symbol)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) historyLen(t *testing.T) int {
	t.Helper()
	entries, err := f.svc.History(context.Background(), f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func assertCash(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("cash = %s, want %s", got, want)
	}
}

func TestBuyThenSellAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	f.quotes.set("AAPL", "100")

	trade, err := f.svc.Buy(ctx, f.user.ID, "aapl", 10)
	if err != nil {
		t.Fatalf("Buy() error = %v", err)
	}
	if trade.Side != domain.SideBuy || trade.Symbol != "AAPL" || !trade.Total.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Buy() = %+v", trade)
	}
	assertCash(t, f.cash(t), "9000")
	pos := f.position(t, "AAPL")
	if pos == nil || pos.Shares != 10 || !pos.Total.Equal(decimal.NewFromInt(1000)) || pos.Name != "AAPL Inc." {
		t.Fatalf("position after buy = %+v", pos)
	}

	f.quotes.set("AAPL", "110")
	trade, err = f.svc.Sell(ctx, f.user.ID, "AAPL", 10)
	if err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	if !trade.Total.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("Sell() total = %s, want 1100", trade.Total)
	}
	assertCash(t, f.cash(t), "10100")
	if pos := f.position(t, "AAPL"); pos != nil {
		t.Errorf("position after selling all = %+v, want deleted", pos)
	}

	entries, err := f.svc.History(ctx, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Shares != 10 || entries[1].Shares != -10 {
		t.Fatalf("history = %+v, want +10 then -10", entries)
	}
	if !entries[1].Price.Equal(decimal.NewFromInt(110)) {
		t.Errorf("sell price = %s, want 110", entries[1].Price)
	}
}

func TestBuyInsufficientFunds(t *testing.T) {
	f := newFixture(t, "50")
	f.quotes.set("AAPL", "100")

	_, err := f.svc.Buy(context.Background(), f.user.ID, "AAPL", 1)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Buy() error = %v, want ErrInsufficientFunds", err)
	}
	assertCash(t, f.cash(t), "50")
	if n := f.historyLen(t); n != 0 {
		t.Errorf("history entries = %d, want 0", n)
	}
	if pos := f.position(t, "AAPL"); pos != nil {
		t.Errorf("position = %+v, want none", pos)
	}
}

func TestBuyExactCash(t *testing.T) {
	f := newFixture(t, "100")
	f.quotes.set("AAPL", "100")
	if _, err := f.svc.Buy(context.Background(), f.user.ID, "AAPL", 1); err != nil {
		t.Fatalf("Buy() error = %v", err)
	}
	assertCash(t, f.cash(t), "0")
}

func TestBuyAccumulatesPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	f.quotes.set("MSFT", "100")
	if _, err := f.svc.Buy(ctx, f.user.ID, "MSFT", 2); err != nil {
		t.Fatal(err)
	}
	f.quotes.set("MSFT", "150")
	if _, err := f.svc.Buy(ctx, f.user.ID, "MSFT", 3); err != nil {
		t.Fatal(err)
	}
	pos := f.position(t, "MSFT")
	if pos.Shares != 5 {
		t.Errorf("shares = %d, want 5", pos.Shares)
	}
	if !pos.Price.Equal(decimal.NewFromInt(150)) || !pos.Total.Equal(decimal.NewFromInt(750)) {
		t.Errorf("price/total = %s/%s, want 150/750", pos.Price, pos.Total)
	}
	assertCash(t, f.cash(t), "9350")
}

func TestBuyRejections(t *testing.T) {
	f := newFixture(t, "10000")
	f.quotes.set("AAPL", "100")

	var verr *ValidationError
	if _, err := f.svc.Buy(context.Background(), f.user.ID, "  ", 1); !errors.As(err, &verr) {
		t.Errorf("Buy(empty symbol) error = %v, want ValidationError", err)
	}
	if _, err := f.svc.Buy(context.Background(), f.user.ID, "AAPL", 0); !errors.As(err, &verr) {
		t.Errorf("Buy(0 shares) error = %v, want ValidationError", err)
	}
	if f.quotes.calls != 0 {
		t.Errorf("quote calls = %d, want 0 for invalid input", f.quotes.calls)
	}

	if _, err := f.svc.Buy(context.Background(), f.user.ID, "ZZZZ", 1); !errors.Is(err, ErrQuoteUnavailable) {
		t.Errorf("Buy(unknown) error = %v, want ErrQuoteUnavailable", err)
	}

	f.quotes.err = errors.New("upstream down")
	if _, err := f.svc.Buy(context.Background(), f.user.ID, "AAPL", 1); err == nil {
		t.Error("Buy() with failing provider error = nil")
	}
	assertCash(t, f.cash(t), "10000")
	if n := f.historyLen(t); n != 0 {
		t.Errorf("history entries = %d, want 0", n)
	}
}

func TestSellPartialRoundsProceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	f.quotes.set("AAPL", "100")
	if _, err := f.svc.Buy(ctx, f.user.ID, "AAPL", 10); err != nil {
		t.Fatal(err)
	}

	f.quotes.set("AAPL", "33.3333")
	trade, err := f.svc.Sell(ctx, f.user.ID, "AAPL", 3)
	if err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	if !trade.Total.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("proceeds = %s, want 100.00", trade.Total)
	}
	assertCash(t, f.cash(t), "9100")

	pos := f.position(t, "AAPL")
	if pos == nil || pos.Shares != 7 {
		t.Fatalf("position = %+v, want 7 shares", pos)
	}
	if want := decimal.RequireFromString("233.3331"); !pos.Total.Equal(want) {
		t.Errorf("total = %s, want %s", pos.Total, want)
	}
}

func TestSellRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	f.quotes.set("AAPL", "100")
	if _, err := f.svc.Buy(ctx, f.user.ID, "AAPL", 5); err != nil {
		t.Fatal(err)
	}
	calls := f.quotes.calls

	tests := []struct {
		name   string
		symbol string
		shares Shares
		want   error
	}{
		{"not held", "MSFT", 1, ErrNoSuchSymbol},
		{"too many", "AAPL", 6, ErrInsufficientShares},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Sell(ctx, f.user.ID, tt.symbol, tt.shares); !errors.Is(err, tt.want) {
				t.Errorf("Sell() error = %v, want %v", err, tt.want)
			}
		})
	}
	if f.quotes.calls != calls {
		t.Errorf("rejected sells looked up quotes")
	}

	var verr *ValidationError
	if _, err := f.svc.Sell(ctx, f.user.ID, "AAPL", -1); !errors.As(err, &verr) {
		t.Errorf("Sell(-1) error = %v, want ValidationError", err)
	}

	assertCash(t, f.cash(t), "9500")
	if pos := f.position(t, "AAPL"); pos == nil || pos.Shares != 5 {
		t.Errorf("position = %+v, want 5 shares", pos)
	}
	if n := f.historyLen(t); n != 1 {
		t.Errorf("history entries = %d, want 1", n)
	}
}

func TestFailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "10000")
	f.quotes.set("AAPL", "100")

	// Removing the history table makes the history insert fail after the
	// position insert has already run inside the transaction.
	if _, err := f.db.Exec(`DROP TABLE history`); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Buy(ctx, f.user.ID, "AAPL", 1); err == nil {
		t.Fatal("Buy() error = nil, want history insert failure")
	}
	assertCash(t, f.cash(t), "10000")
	if pos := f.position(t, "AAPL"); pos != nil {
		t.Errorf("position = %+v, want rolled back", pos)
	}
}

func TestPositionMatchesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100000")
	f.quotes.set("AAPL", "10")
	f.quotes.set("MSFT", "20")

	steps := []struct {
		buy    bool
		symbol string
		shares Shares
	}{
		{true, "AAPL", 10}, {true, "MSFT", 4}, {false, "AAPL", 3}, {true, "AAPL", 7},
		{false, "MSFT", 4}, {false, "AAPL", 14}, {true, "MSFT", 1}, {false, "AAPL", 1},
	}
	for i, st := range steps {
		var err error
		if st.buy {
			_, err = f.svc.Buy(ctx, f.user.ID, st.symbol, st.shares)
		} else {
			_, err = f.svc.Sell(ctx, f.user.ID, st.symbol, st.shares)
		}
		if i == len(steps)-1 {
			if !errors.Is(err, ErrNoSuchSymbol) {
				t.Errorf("step %d error = %v, want ErrNoSuchSymbol", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	mismatches, err := f.svc.Audit(ctx, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 0 {
		t.Errorf("Audit() = %+v, want none", mismatches)
	}
	for _, sym := range []string{"AAPL", "MSFT"} {
		n, err := f.history.NetShares(ctx, f.user.ID, sym)
		if err != nil {
			t.Fatal(err)
		}
		var held int64
		if p := f.position(t, sym); p != nil {
			held = p.Shares
		}
		if n != held {
			t.Errorf("%s: position %d, history sum %d", sym, held, n)
		}
	}

	h, err := f.svc.Holdings(ctx, f.user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Positions) != 1 || h.Positions[0].Symbol != "MSFT" {
		t.Errorf("Holdings().Positions = %+v, want only MSFT", h.Positions)
	}
	// 100000 - 100 - 80 + 30 - 70 + 80 + 140 - 20
	assertCash(t, h.Cash, "99980")
	assertCash(t, h.GrandTotal, "100000")

	symbols, err := f.svc.HeldSymbols(ctx, f.user.ID)
	if err != nil || len(symbols) != 1 || symbols[0] != "MSFT" {
		t.Errorf("HeldSymbols() = %v, %v", symbols, err)
	}
}

func TestConcurrentTradesStayConsistent(t *testing.T) {
	f := newFixtureAt(t, "sqlite://"+filepath.Join(t.TempDir(), "ledger.db"), "1000.00")
	f.quotes.set("AAPL", "100")
	ctx := context.Background()
	const workers = 20

	run := func(trade func() error) (ok int, errs []error) {
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := trade()
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else {
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()
		return ok, errs
	}

	ok, errs := run(func() error {
		_, err := f.svc.Buy(ctx, f.user.ID, "AAPL", 1)
		return err
	})
	if ok != 10 || len(errs) != 10 {
		t.Fatalf("buys: %d ok, %d failed, want 10 and 10", ok, len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Errorf("buy error = %v, want ErrInsufficientFunds", err)
		}
	}
	assertCash(t, f.cash(t), "0")
	if p := f.position(t, "AAPL"); p == nil || p.Shares != 10 {
		t.Fatalf("position after buys = %+v, want 10 shares", p)
	}
	if n, err := f.history.NetShares(ctx, f.user.ID, "AAPL"); err != nil || n != 10 {
		t.Errorf("history net shares = %d, %v, want 10", n, err)
	}

	ok, errs = run(func() error {
		_, err := f.svc.Sell(ctx, f.user.ID, "AAPL", 1)
		return err
	})
	if ok != 10 || len(errs) != 10 {
		t.Fatalf("sells: %d ok, %d failed, want 10 and 10", ok, len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrNoSuchSymbol) && !errors.Is(err, ErrInsufficientShares) {
			t.Errorf("sell error = %v, want ErrNoSuchSymbol or ErrInsufficientShares", err)
		}
	}
	assertCash(t, f.cash(t), "1000")
	if p := f.position(t, "AAPL"); p != nil {
		t.Errorf("position after sells = %+v, want deleted", p)
	}
	if n, err := f.history.NetShares(ctx, f.user.ID, "AAPL"); err != nil || n != 0 {
		t.Errorf("history net shares = %d, %v, want 0", n, err)
	}
	if got := f.historyLen(t); got != 20 {
		t.Errorf("history entries = %d, want 20", got)
	}
}
