package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateOrigin string
	simulateDest   string
	simulatePrice  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条指定价格的报价并触发告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOrigin == "" || simulateDest == "" {
			return errors.New("--origin 与 --dest 不能为空")
		}
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), simulateOrigin, simulateDest, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOrigin, "origin", "", "出发机场 IATA 码")
	simulateCmd.Flags().StringVar(&simulateDest, "dest", "", "到达机场 IATA 码")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的美元票价")
}
