package service

import (
	"math"
)

// CalculateFee 计算平台抽成拆分
//
// 纯函数：总额 →（平台抽成, 净额）。金额单位为分。
// 舍入规则只有一条：抽成四舍五入到分，净额 = 总额 - 抽成，
// 保证 净额 + 抽成 == 总额 对任意输入精确成立。
func CalculateFee(amount int64, feePercent float64) (platformFee int64, netAmount int64) {
	platformFee = int64(math.Round(float64(amount) * feePercent / 100))
	netAmount = amount - platformFee
	return platformFee, netAmount
}
