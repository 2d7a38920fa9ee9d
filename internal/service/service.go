package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-hunter/internal/alerting"
	"fare-hunter/internal/config"
	"fare-hunter/internal/fetcher"
	"fare-hunter/internal/grid"
	"fare-hunter/internal/links"
	"fare-hunter/internal/rules"
	"fare-hunter/internal/scheduler"
	"fare-hunter/internal/storage"
)

// businessCabin is the cabin code recorded on every quote.
const businessCabin = "J"

// storageFailure marks persistence errors, which abort a sweep instead of
// being swallowed by the per-search catch-all.
type storageFailure struct {
	err error
}

func (e storageFailure) Error() string { return e.err.Error() }
func (e storageFailure) Unwrap() error { return e.err }

// Service orchestrates the fare sweep: grid expansion, searching,
// persistence, deal evaluation, deduplication, and alert dispatch.
type Service struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	searcher  fetcher.FlightSearcher
	quotes    storage.QuoteStore
	alerts    storage.AlertLedger
	notifier  alerting.Notifier
	engine    *rules.Engine
	logger    zerolog.Logger

	locker      storage.AdvisoryLocker
	lockKey     int64
	dedupWindow time.Duration
	whitelist   map[string]bool
	eurRate     decimal.Decimal

	// now is swapped out in tests to simulate the suppression window.
	now func() time.Time
}

// New constructs the sweep service. quotes, alerts, and notifier may be
// nil for dry runs and simulations.
func New(cfg *config.Config, sched *scheduler.Scheduler, searcher fetcher.FlightSearcher, quotes storage.QuoteStore, alerts storage.AlertLedger, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var whitelist map[string]bool
	if len(cfg.Search.AirlinesWhitelist) > 0 {
		whitelist = make(map[string]bool, len(cfg.Search.AirlinesWhitelist))
		for _, carrier := range cfg.Search.AirlinesWhitelist {
			whitelist[carrier] = true
		}
	}

	var locker storage.AdvisoryLocker
	if l, ok := quotes.(storage.AdvisoryLocker); ok {
		locker = l
	}

	dedupWindow := cfg.Alerting.DedupWindow
	if dedupWindow <= 0 {
		dedupWindow = 72 * time.Hour
	}

	return &Service{
		cfg:       cfg,
		scheduler: sched,
		searcher:  searcher,
		quotes:    quotes,
		alerts:    alerts,
		notifier:  notifier,
		engine: rules.New(rules.Config{
			PriceTargets:       cfg.Rules.PriceTargets,
			AlertMode:          cfg.Rules.AlertMode,
			DefaultPriceTarget: cfg.Rules.DefaultPriceTarget,
			SoftMarginPct:      cfg.Rules.SoftMarginPct,
		}),
		logger:      logger.With().Str("component", "service").Logger(),
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
		dedupWindow: dedupWindow,
		whitelist:   whitelist,
		eurRate:     decimal.NewFromFloat(cfg.Alerting.USDEURRate),
		now:         time.Now,
	}
}

// Run begins the recurring sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return s.Sweep(ctx)
	})
}

// Sweep 执行一次完整的搜索网格扫描。单个搜索的失败只记录日志并
// 继续；持久层故障则中止整次扫描。
func (s *Service) Sweep(ctx context.Context) error {
	searches, err := grid.Plan(grid.Options{
		Origins:      s.cfg.Search.Origins,
		Destinations: s.cfg.Search.Destinations,
		Months:       s.cfg.Search.Months,
		StaysNights:  s.cfg.Search.StaysNights,
		DowBias:      s.cfg.Search.DowBias,
	})
	if err != nil {
		return fmt.Errorf("expand search grid: %w", err)
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Warn().Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("searches", len(searches)).Msg("sweep started")

	summary := newRunSummary(s.cfg.Debug.TopN)
	processed := 0
	failed := 0

	for _, search := range searches {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.processSearch(ctx, search, summary); err != nil {
			var sf storageFailure
			if errors.As(err, &sf) {
				return fmt.Errorf("storage failure, aborting sweep: %w", err)
			}
			failed++
			logger.Error().Err(err).
				Str("origin", search.Origin).Str("dest", search.Destination).
				Str("dep", search.DepartISO()).Str("ret", search.ReturnISO()).
				Msg("search failed")
			continue
		}
		processed++
	}

	if s.cfg.Debug.SendRunSummary && s.notifier != nil {
		if routes := summary.routes(); len(routes) > 0 {
			if err := s.notifier.Send(ctx, alerting.RenderRunSummary(routes)); err != nil {
				logger.Error().Err(err).Msg("failed to send run summary")
			}
		}
	}

	logger.Info().Int("processed", processed).Int("failed", failed).Msg("sweep finished")
	return nil
}

// ProcessSearch 处理单个搜索元组；供 simulate-alert 直接复用。
func (s *Service) ProcessSearch(ctx context.Context, search grid.Search) error {
	return s.processSearch(ctx, search, newRunSummary(0))
}

func (s *Service) processSearch(ctx context.Context, search grid.Search, summary *runSummary) error {
	resp, err := s.searcher.SearchRoundtripBusiness(ctx, search.Origin, search.Destination, search.DepartISO(), search.ReturnISO(), s.cfg.Search.MaxStops)
	if err != nil {
		return err
	}

	offers := fetcher.ExtractOffers(resp, fetcher.DefaultTopK)
	if len(offers) == 0 {
		return nil
	}

	if s.whitelist != nil {
		kept := offers[:0]
		for _, offer := range offers {
			if s.whitelist[offer.Carrier] {
				kept = append(kept, offer)
			}
		}
		offers = kept
		if len(offers) == 0 {
			return nil
		}
	}

	best := offers[0]

	if s.quotes != nil {
		quote := storage.Quote{
			Origin:      search.Origin,
			Destination: search.Destination,
			DepartDate:  search.DepartISO(),
			ReturnDate:  search.ReturnISO(),
			Carrier:     best.Carrier,
			Stops:       best.Stops,
			PriceUSD:    best.PriceUSD,
			Cabin:       businessCabin,
			FoundAt:     s.now().UTC(),
		}
		if err := s.quotes.InsertQuote(ctx, quote); err != nil {
			return storageFailure{err}
		}
	}

	summary.record(search, best)

	var recent []decimal.Decimal
	if s.quotes != nil {
		recent, err = s.quotes.RecentPrices(ctx, search.Origin, search.Destination, search.Month)
		if err != nil {
			return storageFailure{err}
		}
	}

	reasons := s.engine.IsDeal(search.Origin, search.Destination, best.PriceUSD, recent)
	if len(reasons) == 0 {
		return nil
	}

	key := storage.DedupKey(search.Origin, search.Destination, search.DepartISO(), search.ReturnISO(), best.Carrier, best.PriceUSD)
	if s.alerts != nil {
		alerted, err := s.alerts.WasAlertedRecently(ctx, key, s.dedupWindow)
		if err != nil {
			return storageFailure{err}
		}
		if alerted {
			s.logger.Debug().Str("key", key).Msg("deal suppressed by dedup window")
			return nil
		}
	}

	s.dispatchAlert(ctx, search, best, reasons)

	if s.alerts != nil {
		if err := s.alerts.MarkAlerted(ctx, key, s.now().UTC()); err != nil {
			return storageFailure{err}
		}
	}
	return nil
}

// dispatchAlert 渲染并发送告警。发送是尽力而为：失败只记录日志，
// 随后的 MarkAlerted 仍然执行（以发送尝试为准，而非送达确认）。
func (s *Service) dispatchAlert(ctx context.Context, search grid.Search, best fetcher.Offer, reasons map[string]decimal.Decimal) {
	note := alerting.DealNotification{
		Origin:      search.Origin,
		Destination: search.Destination,
		DepartDate:  search.DepartISO(),
		ReturnDate:  search.ReturnISO(),
		Carrier:     best.Carrier,
		Stops:       best.Stops,
		PriceUSD:    best.PriceUSD,
		PriceEUR:    best.PriceUSD.Mul(s.eurRate).Round(2),
		Reasons:     reasons,
		SearchLink:  links.GoogleFlights(search.Origin, search.Destination, search.DepartISO(), search.ReturnISO(), "business"),
		AirlineLink: links.AirlineSite(best.Carrier),
	}

	s.logger.Info().
		Str("origin", search.Origin).Str("dest", search.Destination).
		Str("dep", search.DepartISO()).Str("ret", search.ReturnISO()).
		Str("price_usd", best.PriceUSD.String()).
		Int("reasons", len(reasons)).
		Msg("deal detected")

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, alerting.RenderDeal(note)); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// runSummary keeps the cheapest offers seen per route during one sweep.
type runSummary struct {
	topN    int
	byRoute map[string]*alerting.RouteBest
	order   []string
}

func newRunSummary(topN int) *runSummary {
	if topN <= 0 {
		topN = 3
	}
	return &runSummary{topN: topN, byRoute: make(map[string]*alerting.RouteBest)}
}

func (r *runSummary) record(search grid.Search, best fetcher.Offer) {
	key := rules.RouteKey(search.Origin, search.Destination)
	route, ok := r.byRoute[key]
	if !ok {
		route = &alerting.RouteBest{Origin: search.Origin, Destination: search.Destination}
		r.byRoute[key] = route
		r.order = append(r.order, key)
	}

	route.Offers = append(route.Offers, alerting.SummaryOffer{
		PriceUSD:   best.PriceUSD,
		DepartDate: search.DepartISO(),
		ReturnDate: search.ReturnISO(),
		Carrier:    best.Carrier,
		Stops:      best.Stops,
	})
	sort.SliceStable(route.Offers, func(i, j int) bool {
		return route.Offers[i].PriceUSD.LessThan(route.Offers[j].PriceUSD)
	})
	if len(route.Offers) > r.topN {
		route.Offers = route.Offers[:r.topN]
	}
}

func (r *runSummary) routes() []alerting.RouteBest {
	sorted := make([]string, len(r.order))
	copy(sorted, r.order)
	sort.Strings(sorted)

	routes := make([]alerting.RouteBest, 0, len(sorted))
	for _, key := range sorted {
		routes = append(routes, *r.byRoute[key])
	}
	return routes
}
