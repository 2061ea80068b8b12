package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 城市 ID
const (
	CityAlmaty = "750000000"
	CityAstana = "710000000"
)

// DefaultMaxPriceChanges 单商户单批次最多改价数量
const DefaultMaxPriceChanges = 250

// Merchant 入驻的卖家账户
type Merchant struct {
	BaseModel

	// 1. 身份与后台凭据
	Name        string `gorm:"size:255;not null;comment:商户名称（与前台报价中的商家名一致）"`
	MerchantUID string `gorm:"size:64;uniqueIndex;comment:后台商户 ID"`
	Login       string `gorm:"size:255;comment:后台登录名"`
	Password    string `gorm:"size:255;comment:后台密码"`
	Phone       string `gorm:"size:32;comment:WhatsApp 通知号码"`
	CityID      string `gorm:"size:16;default:'750000000';comment:报价城市"`

	// 2. 开关
	Enabled         bool `gorm:"index"`
	EnableParsing   bool `gorm:"index"`
	PriceAutoChange bool

	// 3. 定价默认值（商品未设置时生效）
	PriceDifference *int64 `gorm:"comment:默认压价差值"`
	PricePlace      *int   `gorm:"comment:默认目标名次 1-3"`
	AllowedChanges  int    `gorm:"default:250;comment:单批次改价上限"`

	// CompetitorsToExclude 不参与排名的竞争对手名称
	CompetitorsToExclude datatypes.JSONSlice[string] `gorm:"comment:排除的竞争对手"`

	// 4. 订阅
	SubscriptionStart *time.Time `gorm:"comment:订阅开始时间"`
	SubscriptionDays  int        `gorm:"default:0;comment:订阅天数"`

	InformedAboutLoginProblems bool `gorm:"default:false;comment:是否已通知登录异常"`
}

func (*Merchant) TableName() string {
	return "merchants"
}

// SubscriptionEndsAt 订阅结束时间；未设置开始时间时返回零值
func (m *Merchant) SubscriptionEndsAt() time.Time {
	if m.SubscriptionStart == nil {
		return time.Time{}
	}
	return m.SubscriptionStart.AddDate(0, 0, m.SubscriptionDays)
}

// IsSubscriptionExpired 订阅是否已过期
func (m *Merchant) IsSubscriptionExpired(now time.Time) bool {
	end := m.SubscriptionEndsAt()
	if end.IsZero() {
		return false
	}
	return end.Before(now)
}

// IsExcludedCompetitor 商家名是否在排除列表中（忽略大小写和首尾空格）
func (m *Merchant) IsExcludedCompetitor(name string) bool {
	name = strings.TrimSpace(name)
	for _, ex := range m.CompetitorsToExclude {
		if strings.EqualFold(strings.TrimSpace(ex), name) {
			return true
		}
	}
	return false
}

// MaxPriceChanges 单批次改价上限；商户未设置时使用 fallback
func (m *Merchant) MaxPriceChanges(fallback int) int {
	if m.AllowedChanges > 0 {
		return m.AllowedChanges
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxPriceChanges
}

// EffectiveCityID 未配置时默认阿拉木图
func (m *Merchant) EffectiveCityID() string {
	if m.CityID == "" {
		return CityAlmaty
	}
	return m.CityID
}
