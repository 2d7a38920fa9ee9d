package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fare-hunter/internal/fetcher"
	"fare-hunter/internal/grid"
	"fare-hunter/internal/service"
)

// SimulateAlert 用给定的路线与价格走一遍完整的告警流程，
// 不查询 API，也不写数据库。
func (a *App) SimulateAlert(ctx context.Context, origin, dest string, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	depart := time.Now().UTC().AddDate(0, 1, 0)
	ret := depart.AddDate(0, 0, 7)

	searcher := &staticSearcher{price: price}
	svc := service.New(a.Config, nil, searcher, nil, nil, notifier, a.Logger)

	return svc.ProcessSearch(ctx, grid.Search{
		Origin:      origin,
		Destination: dest,
		Depart:      depart,
		Return:      ret,
		Month:       depart.Format("2006-01") + "-01",
	})
}

// staticSearcher returns a single synthetic nonstop offer at a fixed price.
type staticSearcher struct {
	price decimal.Decimal
}

func (s *staticSearcher) SearchRoundtripBusiness(_ context.Context, _, _, _, _ string, _ int) (*fetcher.SearchResponse, error) {
	raw, err := json.Marshal(map[string]any{
		"price": map[string]string{"grandTotal": s.price.StringFixed(2)},
		"itineraries": []any{
			map[string]any{"segments": []any{map[string]string{"carrierCode": "SIM"}}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build simulated offer: %w", err)
	}
	return &fetcher.SearchResponse{Data: []json.RawMessage{raw}}, nil
}

var _ fetcher.FlightSearcher = (*staticSearcher)(nil)
