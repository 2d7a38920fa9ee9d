package grid

import (
	"testing"
	"time"
)

func TestPlanCartesianProduct(t *testing.T) {
	searches, err := Plan(Options{
		Origins:      []string{"JFK", "EWR"},
		Destinations: []string{"LHR"},
		Months:       []string{"2026-02-01"},
		StaysNights:  []int{7, 10},
	})
	if err != nil {
		t.Fatalf("Plan 不应失败: %v", err)
	}

	// 2026-02 has 28 days; 2 origins × 1 dest × 28 days × 2 stays.
	if want := 2 * 28 * 2; len(searches) != want {
		t.Fatalf("期望 %d 个搜索, 实际 %d", want, len(searches))
	}

	first := searches[0]
	if first.DepartISO() != "2026-02-01" {
		t.Fatalf("首个出发日应为月初: %s", first.DepartISO())
	}
	if first.ReturnISO() != "2026-02-08" {
		t.Fatalf("7 晚返程应为 2026-02-08: %s", first.ReturnISO())
	}
	if first.Month != "2026-02-01" {
		t.Fatalf("月份标记应透传: %s", first.Month)
	}
}

func TestPlanDowBias(t *testing.T) {
	searches, err := Plan(Options{
		Origins:      []string{"JFK"},
		Destinations: []string{"LHR"},
		Months:       []string{"2026-03-01"},
		StaysNights:  []int{7},
		DowBias:      []string{"Tue", "Sat"},
	})
	if err != nil {
		t.Fatalf("Plan 不应失败: %v", err)
	}

	for _, s := range searches {
		wd := s.Depart.Weekday()
		if wd != time.Tuesday && wd != time.Saturday {
			t.Fatalf("出发日 %s 不在 dow_bias 内", s.DepartISO())
		}
	}
	// March 2026: Tuesdays 3,10,17,24,31 and Saturdays 7,14,21,28.
	if len(searches) != 9 {
		t.Fatalf("期望 9 个出发日, 实际 %d", len(searches))
	}
}

func TestPlanRejectsNonPositiveStay(t *testing.T) {
	searches, err := Plan(Options{
		Origins:      []string{"JFK"},
		Destinations: []string{"LHR"},
		Months:       []string{"2026-02-01"},
		StaysNights:  []int{0, -3, 5},
	})
	if err != nil {
		t.Fatalf("Plan 不应失败: %v", err)
	}
	for _, s := range searches {
		if !s.Return.After(s.Depart) {
			t.Fatalf("返程必须晚于出发: %s → %s", s.DepartISO(), s.ReturnISO())
		}
	}
	if len(searches) != 28 {
		t.Fatalf("只有 5 晚应保留, 期望 28, 实际 %d", len(searches))
	}
}

func TestPlanUnknownDow(t *testing.T) {
	if _, err := Plan(Options{
		Origins:      []string{"JFK"},
		Destinations: []string{"LHR"},
		Months:       []string{"2026-02-01"},
		StaysNights:  []int{7},
		DowBias:      []string{"Monday"},
	}); err == nil {
		t.Fatal("非法 dow 名称应报错")
	}
}

func TestPlanBadMonth(t *testing.T) {
	if _, err := Plan(Options{
		Origins:      []string{"JFK"},
		Destinations: []string{"LHR"},
		Months:       []string{"2026-13"},
		StaysNights:  []int{7},
	}); err == nil {
		t.Fatal("非法月份应报错")
	}
}

func TestPlanRestartable(t *testing.T) {
	opts := Options{
		Origins:      []string{"JFK"},
		Destinations: []string{"LHR", "CDG"},
		Months:       []string{"2026-04-01"},
		StaysNights:  []int{7},
		DowBias:      []string{"Fri"},
	}

	first, err := Plan(opts)
	if err != nil {
		t.Fatalf("Plan 不应失败: %v", err)
	}
	second, err := Plan(opts)
	if err != nil {
		t.Fatalf("Plan 不应失败: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("两次扩展结果数量不一致: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("第 %d 个搜索不一致", i)
		}
	}
}
