package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-hunter/internal/rules"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTelegramSendsToAllChats(t *testing.T) {
	var chats []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		if payload["disable_web_page_preview"] != true {
			t.Fatal("应禁用链接预览")
		}
		chats = append(chats, payload["chat_id"].(string))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", []string{"111", " -100222 ", ""}, srv.URL, time.Second, testLogger())
	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send 不应报错: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("应向 2 个 chat 发送, 实际 %d: %v", len(chats), chats)
	}
	if chats[0] != "111" || chats[1] != "-100222" {
		t.Fatalf("chat_id 不正确: %v", chats)
	}
}

func TestTelegramPerChatFailureSwallowed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", []string{"1", "2"}, srv.URL, time.Second, testLogger())
	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("单个 chat 失败不应返回错误: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("失败后仍应继续其余 chat: %d", calls)
	}
}

func TestTelegramNoConfigDegradesToLog(t *testing.T) {
	n := NewTelegramNotifier("", nil, "", time.Second, testLogger())
	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("无配置时应降级为日志: %v", err)
	}
}

func TestRenderDeal(t *testing.T) {
	note := DealNotification{
		Origin:      "JFK",
		Destination: "LHR",
		DepartDate:  "2026-03-04",
		ReturnDate:  "2026-03-11",
		Carrier:     "BA",
		Stops:       1,
		PriceUSD:    decimal.NewFromInt(1800),
		PriceEUR:    decimal.NewFromInt(1656),
		SearchLink:  "https://example.test/search",
		AirlineLink: "https://www.ba.com/",
		Reasons: map[string]decimal.Decimal{
			rules.ReasonHard: decimal.NewFromInt(2000),
		},
	}

	msg := RenderDeal(note)
	for _, want := range []string{
		"JFK → LHR",
		"2026-03-04 ➜ 2026-03-11",
		"$1800",
		"€1656",
		"Airline: BA",
		"Stops: 1",
		"threshold ≤ $2000",
		"https://example.test/search",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("消息应包含 %q:\n%s", want, msg)
		}
	}
}

func TestRenderDealReasonOrder(t *testing.T) {
	note := DealNotification{
		Origin: "JFK", Destination: "LHR",
		PriceUSD: decimal.NewFromInt(2000),
		PriceEUR: decimal.NewFromInt(1840),
		Reasons: map[string]decimal.Decimal{
			rules.ReasonDelta14: decimal.NewFromInt(2465),
			rules.ReasonP25:     decimal.NewFromInt(2950),
			rules.ReasonHard:    decimal.NewFromInt(2100),
		},
	}

	msg := RenderDeal(note)
	hard := strings.Index(msg, "threshold")
	p25 := strings.Index(msg, "p25")
	delta := strings.Index(msg, "-15%")
	if hard < 0 || p25 < 0 || delta < 0 {
		t.Fatalf("三个 reason 都应渲染:\n%s", msg)
	}
	if !(hard < p25 && p25 < delta) {
		t.Fatalf("reason 顺序应为 hard, p25, delta14:\n%s", msg)
	}
}

func TestRenderRunSummary(t *testing.T) {
	summary := RenderRunSummary([]RouteBest{
		{
			Origin: "JFK", Destination: "LHR",
			Offers: []SummaryOffer{
				{PriceUSD: decimal.NewFromInt(1800), DepartDate: "2026-03-04", ReturnDate: "2026-03-11", Carrier: "BA", Stops: 0},
				{PriceUSD: decimal.NewFromInt(2100), DepartDate: "2026-03-07", ReturnDate: "2026-03-14", Carrier: "AF", Stops: 1},
			},
		},
	})

	for _, want := range []string{"JFK → LHR:", "$1800", "BA (0 stops)", "$2100", "AF (1 stops)"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("小结应包含 %q:\n%s", want, summary)
		}
	}
}
