package rules

import (
	"strings"

	"github.com/shopspring/decimal"

	"fare-hunter/internal/stats"
)

// Alert modes supported by the engine.
const (
	ModeSmart    = "smart"
	ModeHardOnly = "hard_only"
)

// Reason codes attached to a deal verdict.
const (
	ReasonHard     = "hard"
	ReasonNearHard = "near_hard"
	ReasonP25      = "p25_baseline"
	ReasonDelta14  = "delta14"
)

// deltaFactor is the -15% vs recent minimum signal.
var deltaFactor = decimal.NewFromFloat(0.85)

// deltaWindow caps how many of the most recent observations feed delta14.
const deltaWindow = 50

// Config parameterises the deal-rule engine. Nil pointers mean "not
// configured"; a configured value of zero is still a real threshold.
type Config struct {
	PriceTargets       map[string]float64
	AlertMode          string
	DefaultPriceTarget *float64
	SoftMarginPct      *float64
}

// Engine evaluates observed prices against per-route targets and
// statistical signals derived from recent price history.
type Engine struct {
	targets       map[string]decimal.Decimal
	mode          string
	defaultTarget *decimal.Decimal
	softMargin    *decimal.Decimal
}

// New constructs an Engine. Unknown or empty alert modes fall back to smart.
func New(cfg Config) *Engine {
	targets := make(map[string]decimal.Decimal, len(cfg.PriceTargets))
	for route, target := range cfg.PriceTargets {
		targets[route] = decimal.NewFromFloat(target)
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.AlertMode))
	if mode != ModeHardOnly {
		mode = ModeSmart
	}

	engine := &Engine{targets: targets, mode: mode}
	if cfg.DefaultPriceTarget != nil {
		d := decimal.NewFromFloat(*cfg.DefaultPriceTarget)
		engine.defaultTarget = &d
	}
	if cfg.SoftMarginPct != nil {
		m := decimal.NewFromFloat(*cfg.SoftMarginPct)
		engine.softMargin = &m
	}
	return engine
}

// RouteKey derives the ordered route identifier used for target lookup.
func RouteKey(origin, dest string) string {
	return origin + "-" + dest
}

func (e *Engine) hardThreshold(origin, dest string) (decimal.Decimal, bool) {
	if target, ok := e.targets[RouteKey(origin, dest)]; ok {
		return target, true
	}
	if e.defaultTarget != nil {
		return *e.defaultTarget, true
	}
	return decimal.Decimal{}, false
}

// IsDeal reports whether the observed price qualifies as a deal. A nil
// result means no deal; otherwise the map carries every matched reason
// code with the threshold value that fired.
//
// hard_only mode returns at most one reason (hard before near_hard);
// smart mode accumulates all matching signals.
func (e *Engine) IsDeal(origin, dest string, price decimal.Decimal, recent []decimal.Decimal) map[string]decimal.Decimal {
	if e.mode == ModeHardOnly {
		return e.evalHardOnly(origin, dest, price)
	}
	return e.evalSmart(origin, dest, price, recent)
}

func (e *Engine) evalHardOnly(origin, dest string, price decimal.Decimal) map[string]decimal.Decimal {
	hard, ok := e.hardThreshold(origin, dest)
	if !ok {
		return nil
	}
	if price.LessThanOrEqual(hard) {
		return map[string]decimal.Decimal{ReasonHard: hard}
	}
	if e.softMargin != nil {
		near := hard.Mul(decimal.NewFromInt(1).Add(*e.softMargin))
		if price.LessThanOrEqual(near) {
			return map[string]decimal.Decimal{ReasonNearHard: near.Round(2)}
		}
	}
	return nil
}

func (e *Engine) evalSmart(origin, dest string, price decimal.Decimal, recent []decimal.Decimal) map[string]decimal.Decimal {
	reasons := make(map[string]decimal.Decimal)

	if hard, ok := e.hardThreshold(origin, dest); ok && price.LessThanOrEqual(hard) {
		reasons[ReasonHard] = hard
	}

	if len(recent) > 0 {
		if p25, ok := stats.Percentile(recent, 25); ok && price.LessThanOrEqual(p25) {
			reasons[ReasonP25] = p25
		}

		window := recent
		if len(window) > deltaWindow {
			window = window[:deltaWindow]
		}
		best := window[0]
		for _, v := range window[1:] {
			if v.LessThan(best) {
				best = v
			}
		}
		limit := best.Mul(deltaFactor)
		if price.LessThanOrEqual(limit) {
			reasons[ReasonDelta14] = limit.Round(2)
		}
	}

	if len(reasons) == 0 {
		return nil
	}
	return reasons
}
