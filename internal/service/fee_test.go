package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateFee(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		feePercent float64
		wantFee    int64
		wantNet    int64
	}{
		{"整除", 100000, 5, 5000, 95000},
		{"四舍五入进位", 999, 5, 50, 949}, // 49.95 -> 50
		{"四舍五入舍去", 989, 5, 49, 940}, // 49.45 -> 49
		{"一分钱", 1, 5, 0, 1},
		{"零费率", 100000, 0, 0, 100000},
		{"十成费率", 100000, 100, 100000, 0},
		{"大额", 1000000000, 7.5, 75000000, 925000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, net := CalculateFee(tt.amount, tt.feePercent)
			assert.Equal(t, tt.wantFee, fee)
			assert.Equal(t, tt.wantNet, net)
		})
	}
}

// 任意金额下 净额+抽成 必须精确等于总额
func TestCalculateFeeSplitAlwaysExact(t *testing.T) {
	percents := []float64{0, 2.5, 5, 7.75, 10, 33.33, 100}
	for amount := int64(1); amount <= 10000; amount++ {
		for _, pct := range percents {
			fee, net := CalculateFee(amount, pct)
			if fee+net != amount {
				t.Fatalf("拆分不守恒: amount=%d, pct=%.2f, fee=%d, net=%d", amount, pct, fee, net)
			}
			if fee < 0 || net < 0 {
				t.Fatalf("出现负数拆分: amount=%d, pct=%.2f, fee=%d, net=%d", amount, pct, fee, net)
			}
		}
	}
}
