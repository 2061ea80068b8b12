// Package pricing 价格决策引擎（纯函数，无 I/O、无时钟、无随机）
package pricing

// NotInTop 不在前三名时的名次
const NotInTop = 4

// Action 决策动作
type Action int

const (
	// NoChange 完整评估后不改价，驱动温度状态机
	NoChange Action = iota
	// Change 改价
	Change
	// Skip 处于跳过周期，仅递减跳过计数
	Skip
)

func (a Action) String() string {
	switch a {
	case Change:
		return "change"
	case Skip:
		return "skip"
	default:
		return "no_change"
	}
}

// Reason 决策原因（用于日志与指标）
type Reason string

const (
	ReasonSkipCounter       Reason = "skip_counter"
	ReasonInvalidTargetRank Reason = "invalid_target_rank"
	ReasonNoTargetPrice     Reason = "no_target_competitor_price"
	ReasonNoClosestPrice    Reason = "no_closest_competitor_price"
	ReasonOptimalPlacement  Reason = "already_optimal"
	ReasonNonPositive       Reason = "non_positive_target"
	ReasonSamePrice         Reason = "same_as_current"
	ReasonPriceChanged      Reason = "price_changed"
)

// Input 决策输入；价格单位为整数货币（坚戈），0 表示未设置/不存在
type Input struct {
	CurrentPrice int64
	// CurrentRank 1..3，4 表示不在前三
	CurrentRank int
	// CompetitorPrices 下标 1..3 为对应名次价格，下标 0 不使用
	CompetitorPrices [4]int64
	TargetRank       int
	Delta            int64
	MinPrice         int64
	MaxPrice         int64
	ChecksToSkip     int
}

// Decision 决策结果
type Decision struct {
	Action Action
	// Price Change 时为目标价，其余为当前价
	Price  int64
	Reason Reason
}

// WithinBounds 当前价格是否处于 [min, max]（未设置的边界视为满足）
func (in Input) WithinBounds() bool {
	if in.MinPrice != 0 && in.CurrentPrice < in.MinPrice {
		return false
	}
	if in.MaxPrice != 0 && in.CurrentPrice > in.MaxPrice {
		return false
	}
	return true
}

func (in Input) competitorPrice(rank int) int64 {
	if rank < 1 || rank > 3 {
		return 0
	}
	return in.CompetitorPrices[rank]
}

// Decide 计算下一次价格
func Decide(in Input) Decision {
	inBounds := in.WithinBounds()
	noChange := func(r Reason) Decision {
		return Decision{Action: NoChange, Price: in.CurrentPrice, Reason: r}
	}

	// 1. 跳过周期
	if in.ChecksToSkip > 0 && inBounds {
		return Decision{Action: Skip, Price: in.CurrentPrice, Reason: ReasonSkipCounter}
	}

	// 2. 目标名次非法或目标名次无报价
	validTarget := in.TargetRank >= 1 && in.TargetRank <= 3
	if !validTarget && inBounds {
		return noChange(ReasonInvalidTargetRank)
	}
	targetPrice := in.competitorPrice(in.TargetRank)
	if targetPrice == 0 && inBounds {
		return noChange(ReasonNoTargetPrice)
	}

	var target int64
	if validTarget && in.CurrentRank == in.TargetRank {
		// 3. 已在目标名次：向下一名靠拢
		closest := in.competitorPrice(in.CurrentRank + 1)
		if closest == 0 && inBounds {
			return noChange(ReasonNoClosestPrice)
		}
		if closest != 0 && closest-in.CurrentPrice == in.Delta && inBounds {
			return noChange(ReasonOptimalPlacement)
		}
		if closest != 0 {
			target = closest - in.Delta
		} else {
			target = in.CurrentPrice
		}
	} else {
		// 4. 不在目标名次：压到目标名次价格之下
		if targetPrice != 0 {
			target = targetPrice - in.Delta
		} else {
			target = in.CurrentPrice
		}
	}

	// 5. 边界裁剪
	target = Clamp(target, in.MinPrice, in.MaxPrice)

	// 6. 无效或无变化
	if target <= 0 {
		return noChange(ReasonNonPositive)
	}
	if target == in.CurrentPrice {
		return noChange(ReasonSamePrice)
	}

	// 7. 改价
	return Decision{Action: Change, Price: target, Reason: ReasonPriceChanged}
}

// Clamp 未设置（0）的边界不生效
func Clamp(price, min, max int64) int64 {
	if min != 0 && price < min {
		price = min
	}
	if max != 0 && price > max {
		price = max
	}
	return price
}

// ResolveTargetRank 商品 -> 商户 -> 默认 1
func ResolveTargetRank(product, merchant *int) int {
	if product != nil {
		return *product
	}
	if merchant != nil {
		return *merchant
	}
	return 1
}

// ResolveDelta 商品 -> 商户 -> 默认 1
func ResolveDelta(product, merchant *int64) int64 {
	if product != nil {
		return *product
	}
	if merchant != nil {
		return *merchant
	}
	return 1
}
