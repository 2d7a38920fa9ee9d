package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-hunter/internal/config"
	"fare-hunter/internal/fetcher"
	"fare-hunter/internal/storage"
)

// fakeSearcher returns a canned price per route, or an error.
type fakeSearcher struct {
	prices map[string]string
	errFor map[string]error
	calls  int
}

func (f *fakeSearcher) SearchRoundtripBusiness(_ context.Context, origin, dest, _, _ string, _ int) (*fetcher.SearchResponse, error) {
	f.calls++
	route := origin + "-" + dest
	if err, ok := f.errFor[route]; ok {
		return nil, err
	}
	price, ok := f.prices[route]
	if !ok {
		return &fetcher.SearchResponse{}, nil
	}
	raw, _ := json.Marshal(map[string]any{
		"price": map[string]string{"grandTotal": price},
		"itineraries": []any{
			map[string]any{"segments": []any{map[string]string{"carrierCode": "BA"}}},
		},
	})
	return &fetcher.SearchResponse{Data: []json.RawMessage{raw}}, nil
}

// memStore is an in-memory QuoteStore + AlertLedger with a fake clock.
type memStore struct {
	quotes  []storage.Quote
	alerts  map[string]time.Time
	clock   *time.Time
	failNow bool
}

func newMemStore(clock *time.Time) *memStore {
	return &memStore{alerts: make(map[string]time.Time), clock: clock}
}

func (m *memStore) InsertQuote(_ context.Context, quote storage.Quote) error {
	if m.failNow {
		return errors.New("disk full")
	}
	m.quotes = append(m.quotes, quote)
	return nil
}

func (m *memStore) RecentPrices(_ context.Context, origin, dest, monthISO string) ([]decimal.Decimal, error) {
	month := monthISO
	if len(month) > 7 {
		month = month[:7]
	}
	var prices []decimal.Decimal
	for i := len(m.quotes) - 1; i >= 0; i-- {
		q := m.quotes[i]
		if q.Origin == origin && q.Destination == dest && strings.HasPrefix(q.DepartDate, month) {
			prices = append(prices, q.PriceUSD)
		}
	}
	return prices, nil
}

func (m *memStore) ListRecentQuotes(context.Context, int) ([]storage.Quote, error) { return nil, nil }
func (m *memStore) ListRoutePrices(context.Context, string, string, time.Time, time.Time) ([]storage.Quote, error) {
	return nil, nil
}
func (m *memStore) CountQuotes(context.Context) (int64, error) { return int64(len(m.quotes)), nil }

func (m *memStore) WasAlertedRecently(_ context.Context, key string, within time.Duration) (bool, error) {
	sentAt, ok := m.alerts[key]
	if !ok {
		return false, nil
	}
	return m.clock.Sub(sentAt) < within, nil
}

func (m *memStore) MarkAlerted(_ context.Context, key string, at time.Time) error {
	m.alerts[key] = at
	return nil
}

func (m *memStore) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

// memNotifier records sent messages.
type memNotifier struct {
	sent []string
	err  error
}

func (m *memNotifier) Send(_ context.Context, text string) error {
	m.sent = append(m.sent, text)
	return m.err
}

func testConfig() *config.Config {
	target := 2000.0
	return &config.Config{
		Search: config.SearchConfig{
			Origins:      []string{"JFK"},
			Destinations: []string{"LHR"},
			Months:       []string{"2026-03-01"},
			StaysNights:  []int{7},
			DowBias:      []string{"Wed"},
			MaxStops:     1,
		},
		Rules: config.RulesConfig{
			AlertMode:    "hard_only",
			PriceTargets: map[string]float64{"JFK-LHR": target},
		},
		Alerting: config.AlertingConfig{
			Enabled:     true,
			DedupWindow: 72 * time.Hour,
			USDEURRate:  0.92,
		},
		Debug: config.DebugConfig{TopN: 3},
	}
}

func newTestService(cfg *config.Config, searcher fetcher.FlightSearcher, store *memStore, notifier *memNotifier, clock *time.Time) *Service {
	svc := New(cfg, nil, searcher, store, store, notifier, zerolog.Nop())
	svc.now = func() time.Time { return *clock }
	return svc
}

func TestSweepDetectsDealAndMarksAlerted(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}
	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "1800.00"}}

	svc := newTestService(testConfig(), searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep 不应失败: %v", err)
	}

	// March 2026 has 4 Wednesdays.
	if len(store.quotes) != 4 {
		t.Fatalf("每个可用搜索应写入一条 quote: %d", len(store.quotes))
	}
	if store.quotes[0].Cabin != "J" {
		t.Fatalf("舱位应记录为 J: %s", store.quotes[0].Cabin)
	}
	if len(notifier.sent) != 4 {
		t.Fatalf("4 个不同日期组合应各发一条告警: %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "threshold ≤ $2000") {
		t.Fatalf("告警应包含 hard 理由:\n%s", notifier.sent[0])
	}
	if len(store.alerts) != 4 {
		t.Fatalf("每条告警都应登记 dedup key: %d", len(store.alerts))
	}
}

func TestSweepDedupSuppressesRepeat(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}
	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "1800.00"}}

	svc := newTestService(testConfig(), searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("首次 Sweep 不应失败: %v", err)
	}
	first := len(notifier.sent)

	// Same prices an hour later: every key is inside the window.
	clock = clock.Add(time.Hour)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("二次 Sweep 不应失败: %v", err)
	}
	if len(notifier.sent) != first {
		t.Fatalf("窗口内的重复 deal 不应再次告警: %d vs %d", len(notifier.sent), first)
	}

	// Past the 72h window the same deal alerts again.
	clock = clock.Add(73 * time.Hour)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("三次 Sweep 不应失败: %v", err)
	}
	if len(notifier.sent) != first*2 {
		t.Fatalf("窗口过期后应重新告警: %d", len(notifier.sent))
	}
}

func TestSweepSearchErrorContinues(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}

	cfg := testConfig()
	cfg.Search.Destinations = []string{"LHR", "CDG"}
	searcher := &fakeSearcher{
		prices: map[string]string{"JFK-CDG": "1500.00"},
		errFor: map[string]error{"JFK-LHR": fmt.Errorf("amadeus api error (500)")},
	}
	cfg.Rules.PriceTargets["JFK-CDG"] = 2000

	svc := newTestService(cfg, searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("单个搜索失败不应中止: %v", err)
	}
	if len(store.quotes) != 4 {
		t.Fatalf("失败路线不写历史, 成功路线应写入: %d", len(store.quotes))
	}
}

func TestSweepStorageFailureAborts(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	store.failNow = true
	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "1800.00"}}

	svc := newTestService(testConfig(), searcher, store, &memNotifier{}, &clock)
	if err := svc.Sweep(context.Background()); err == nil {
		t.Fatal("持久层故障应中止整次扫描")
	}
	if searcher.calls != 1 {
		t.Fatalf("中止后不应继续后续搜索: %d", searcher.calls)
	}
}

func TestSweepWhitelistFiltersOffers(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}

	cfg := testConfig()
	cfg.Search.AirlinesWhitelist = []string{"IB"}
	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "1800.00"}} // carrier BA

	svc := newTestService(cfg, searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep 不应失败: %v", err)
	}
	if len(store.quotes) != 0 {
		t.Fatalf("白名单过滤后为空时应整体跳过: %d", len(store.quotes))
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("跳过的搜索不应告警: %d", len(notifier.sent))
	}
}

func TestSweepNoDealNoAlert(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}
	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "2500.00"}}

	svc := newTestService(testConfig(), searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep 不应失败: %v", err)
	}
	if len(store.quotes) != 4 {
		t.Fatalf("历史仍应写入: %d", len(store.quotes))
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("高于阈值不应告警: %d", len(notifier.sent))
	}
}

func TestSweepRunSummary(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}

	cfg := testConfig()
	cfg.Debug.SendRunSummary = true
	cfg.Debug.TopN = 2
	cfg.Rules.PriceTargets = map[string]float64{} // no deals, summary only
	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "2500.00"}}

	svc := newTestService(cfg, searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep 不应失败: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("应只发送一条小结: %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "JFK → LHR:") {
		t.Fatalf("小结应按路线分组:\n%s", notifier.sent[0])
	}
}

func TestSmartModeUsesRecordedHistory(t *testing.T) {
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := newMemStore(&clock)
	notifier := &memNotifier{}

	cfg := testConfig()
	cfg.Rules.AlertMode = "smart"
	cfg.Rules.PriceTargets = map[string]float64{}

	// Pre-seed history well above the observed price so p25 fires.
	for day := 1; day <= 5; day++ {
		store.quotes = append(store.quotes, storage.Quote{
			Origin: "JFK", Destination: "LHR",
			DepartDate: fmt.Sprintf("2026-03-%02d", day),
			PriceUSD:   decimal.NewFromInt(3000),
		})
	}

	searcher := &fakeSearcher{prices: map[string]string{"JFK-LHR": "2000.00"}}
	svc := newTestService(cfg, searcher, store, notifier, &clock)
	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep 不应失败: %v", err)
	}
	if len(notifier.sent) == 0 {
		t.Fatal("统计信号应触发告警")
	}
	if !strings.Contains(notifier.sent[0], "≤ p25 $3000") {
		t.Fatalf("告警应包含 p25 理由:\n%s", notifier.sent[0])
	}
}
