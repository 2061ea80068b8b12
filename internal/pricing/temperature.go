package pricing

// Flag 商品温度；越冷扫描越稀疏
type Flag string

const (
	Hot  Flag = "Hot"
	Warm Flag = "Warm"
	Cold Flag = "Cold"
)

const (
	hotToWarmThreshold  = 4
	warmToColdThreshold = 2
)

// Temperature 温度状态及其两个计数器
type Temperature struct {
	Flag                Flag
	ChecksWithoutChange int
	ChecksToSkip        int
}

// SkipConfig 各温度的跳过次数
type SkipConfig struct {
	WarmSkipN int
	ColdSkipN int
}

// DefaultSkipConfig 默认跳过次数
func DefaultSkipConfig() SkipConfig {
	return SkipConfig{WarmSkipN: 2, ColdSkipN: 4}
}

// Next 根据一次决策推进温度状态
//   - Skip: 跳过计数减一
//   - Change: 回到 Hot，计数清零
//   - NoChange: 未改价计数加一，按阈值降温并刷新跳过计数
func Next(t Temperature, d Decision, cfg SkipConfig) Temperature {
	if t.Flag == "" {
		t.Flag = Hot
	}

	switch d.Action {
	case Skip:
		if t.ChecksToSkip > 0 {
			t.ChecksToSkip--
		}
		return t

	case Change:
		return Temperature{Flag: Hot}
	}

	t.ChecksWithoutChange++

	switch {
	case t.Flag == Hot && t.ChecksWithoutChange >= hotToWarmThreshold:
		t.Flag = Warm
		t.ChecksToSkip = cfg.WarmSkipN
		t.ChecksWithoutChange = 0
	case t.Flag == Warm && t.ChecksWithoutChange >= warmToColdThreshold:
		t.Flag = Cold
		t.ChecksToSkip = cfg.ColdSkipN
		t.ChecksWithoutChange = 0
	case t.Flag == Warm:
		t.ChecksToSkip = cfg.WarmSkipN
	case t.Flag == Cold:
		t.ChecksToSkip = cfg.ColdSkipN
	}
	return t
}
