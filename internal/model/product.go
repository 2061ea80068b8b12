package model

import (
	"time"

	"gorm.io/datatypes"

	"kaspi_dumping_v1/internal/pricing"
)

// Availability 门店可售状态
type Availability struct {
	Available string `json:"available"`
	StoreID   string `json:"storeId"`
}

// CityPrice 城市价格
type CityPrice struct {
	Value  int64  `json:"value"`
	CityID string `json:"cityId"`
}

// Product 商户在平台上架的一个商品
type Product struct {
	BaseModel

	MerchantID int64     `gorm:"not null;uniqueIndex:idx_merchant_master_sku;comment:所属商户"`
	Merchant   *Merchant `gorm:"foreignKey:MerchantID"`

	// 1. 标识
	MasterSKU string `gorm:"size:64;not null;uniqueIndex:idx_merchant_master_sku;comment:平台商品 SKU"`
	Code      string `gorm:"size:128;index;comment:商户 SKU"`
	Title     string `gorm:"size:512"`

	// 2. 价格与边界（0 表示未设置）
	Price    int64 `gorm:"not null;default:0"`
	MinPrice int64 `gorm:"default:0"`
	MaxPrice int64 `gorm:"default:0"`

	// 3. 定价规则覆盖
	PriceAutoChange  bool   `gorm:"index"`
	PriceDifference  *int64 `gorm:"comment:压价差值"`
	TargetPricePlace *int   `gorm:"comment:目标名次 1-3"`

	// 4. 最近一次扫描结果
	CurrentPricePlace int   `gorm:"default:4;comment:当前名次 1-4，4=不在前三"`
	FirstPlacePrice   int64 `gorm:"default:0"`
	SecondPlacePrice  int64 `gorm:"default:0"`
	ThirdPlacePrice   int64 `gorm:"default:0"`
	LastParsedAt      *time.Time

	// 5. 可售信息
	Available        bool
	Availabilities   datatypes.JSONSlice[Availability] `gorm:"comment:门店可售列表"`
	ProductCardLink  string                            `gorm:"size:512"`
	ProductImageLink string                            `gorm:"size:512"`

	// RecentlyParsed 是否属于当前活跃工作集
	RecentlyParsed bool `gorm:"index"`

	// 6. 温度状态
	ProductFlag                  pricing.Flag `gorm:"size:8;default:'Hot'"`
	NumChecksWithoutChangedPrice int          `gorm:"default:0"`
	NumChecksToSkip              int          `gorm:"default:0"`
}

func (*Product) TableName() string {
	return "kaspi_products"
}

// PriceWithinBounds 当前价格是否处于 [min, max]
func (p *Product) PriceWithinBounds() bool {
	return pricing.Input{CurrentPrice: p.Price, MinPrice: p.MinPrice, MaxPrice: p.MaxPrice}.WithinBounds()
}

// CompetitorPrices 按名次索引的前三名价格
func (p *Product) CompetitorPrices() [4]int64 {
	return [4]int64{0, p.FirstPlacePrice, p.SecondPlacePrice, p.ThirdPlacePrice}
}

// SetScanResult 写入扫描得到的名次与前三价格
func (p *Product) SetScanResult(rank int, prices [4]int64, at time.Time) {
	p.CurrentPricePlace = rank
	p.FirstPlacePrice = prices[1]
	p.SecondPlacePrice = prices[2]
	p.ThirdPlacePrice = prices[3]
	p.LastParsedAt = &at
}

// Temperature 当前温度状态
func (p *Product) Temperature() pricing.Temperature {
	flag := p.ProductFlag
	if flag == "" {
		flag = pricing.Hot
	}
	return pricing.Temperature{
		Flag:                flag,
		ChecksWithoutChange: p.NumChecksWithoutChangedPrice,
		ChecksToSkip:        p.NumChecksToSkip,
	}
}

// ApplyTemperature 回写温度状态
func (p *Product) ApplyTemperature(t pricing.Temperature) {
	p.ProductFlag = t.Flag
	p.NumChecksWithoutChangedPrice = t.ChecksWithoutChange
	p.NumChecksToSkip = t.ChecksToSkip
}

// ProductPrice 一次成功改价的审计记录（只增不改）
type ProductPrice struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID      int64     `gorm:"not null;index" json:"product_id"`
	ChangedPrice   int64     `gorm:"not null" json:"changed_price"`
	DateOfChanging time.Time `gorm:"not null;index" json:"date_of_changing"`
	RunUID         string    `gorm:"size:36;index;comment:改价批次" json:"run_uid"`
}

func (*ProductPrice) TableName() string {
	return "product_prices"
}
