package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: farehunter\n"))
	if err != nil {
		t.Fatalf("默认配置应可加载: %v", err)
	}

	if cfg.Alerting.DedupWindow != 72*time.Hour {
		t.Fatalf("默认抑制窗口应为 72h: %v", cfg.Alerting.DedupWindow)
	}
	if cfg.Alerting.USDEURRate != 0.92 {
		t.Fatalf("默认汇率应为 0.92: %v", cfg.Alerting.USDEURRate)
	}
	if cfg.Rules.AlertMode != "smart" {
		t.Fatalf("默认模式应为 smart: %s", cfg.Rules.AlertMode)
	}
	if cfg.Search.MaxStops != 1 {
		t.Fatalf("默认 max_stops 应为 1: %d", cfg.Search.MaxStops)
	}
	if cfg.Debug.TopN != 3 {
		t.Fatalf("默认 top_n 应为 3: %d", cfg.Debug.TopN)
	}
}

func TestLoadFullSurface(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
search:
  origins: [JFK, EWR]
  destinations: [LHR]
  months: ["2026-03-01", "2026-04-01"]
  stays_nights: [7, 10]
  dow_bias: [Thu, Fri]
  max_stops: 1
  airlines_whitelist: [BA, IB]
rules:
  price_targets:
    JFK-LHR: 2000
    EWR-LHR: 2100.5
  default_price_target: 2500
  alert_mode: hard_only
  soft_margin_pct: 0.05
alerting:
  dedup_window: 48h
`))
	if err != nil {
		t.Fatalf("配置应可加载: %v", err)
	}

	// viper lower-cases map keys; Load must restore IATA-style keys.
	if got := cfg.Rules.PriceTargets["JFK-LHR"]; got != 2000 {
		t.Fatalf("price_targets 键应归一化为大写: %#v", cfg.Rules.PriceTargets)
	}
	if cfg.Rules.DefaultPriceTarget == nil || *cfg.Rules.DefaultPriceTarget != 2500 {
		t.Fatalf("default_price_target 解析不正确: %v", cfg.Rules.DefaultPriceTarget)
	}
	if cfg.Rules.SoftMarginPct == nil || *cfg.Rules.SoftMarginPct != 0.05 {
		t.Fatalf("soft_margin_pct 解析不正确: %v", cfg.Rules.SoftMarginPct)
	}
	if cfg.Alerting.DedupWindow != 48*time.Hour {
		t.Fatalf("dedup_window 解析不正确: %v", cfg.Alerting.DedupWindow)
	}
	if len(cfg.Search.DowBias) != 2 {
		t.Fatalf("dow_bias 解析不正确: %v", cfg.Search.DowBias)
	}
}

func TestLoadOmittedOptionalTargets(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rules:\n  alert_mode: smart\n"))
	if err != nil {
		t.Fatalf("配置应可加载: %v", err)
	}
	if cfg.Rules.DefaultPriceTarget != nil {
		t.Fatal("未配置的 default_price_target 应为 nil 而非 0")
	}
	if cfg.Rules.SoftMarginPct != nil {
		t.Fatal("未配置的 soft_margin_pct 应为 nil 而非 0")
	}
}

func TestValidateRejectsBadMonth(t *testing.T) {
	if _, err := Load(writeConfig(t, "search:\n  months: [\"2026-03\"]\n")); err == nil {
		t.Fatal("非法月份标记应被拒绝")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	if _, err := Load(writeConfig(t, "rules:\n  alert_mode: loud\n")); err == nil {
		t.Fatal("非法 alert_mode 应被拒绝")
	}
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	if _, err := Load(writeConfig(t, "alerting:\n  telegram:\n    enabled: true\n")); err == nil {
		t.Fatal("启用 telegram 时缺 token 应被拒绝")
	}
}

func TestValidateForSweep(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
amadeus:
  api_key: key
  api_secret: secret
search:
  origins: [JFK]
  destinations: [LHR]
  months: ["2026-03-01"]
  stays_nights: [7]
`))
	if err != nil {
		t.Fatalf("配置应可加载: %v", err)
	}
	if err := cfg.ValidateForSweep(); err != nil {
		t.Fatalf("完整 sweep 配置应通过校验: %v", err)
	}

	cfg.Amadeus.APIKey = ""
	if err := cfg.ValidateForSweep(); err == nil {
		t.Fatal("缺少 API key 应被拒绝")
	}

	cfg.Amadeus.APIKey = "key"
	cfg.Search.StaysNights = []int{0}
	if err := cfg.ValidateForSweep(); err == nil {
		t.Fatal("非正的 stays_nights 应被拒绝")
	}
}
