package service

import (
	"strings"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/pricing"
)

// FilterExcluded 去掉商户设置为忽略的竞争对手
func FilterExcluded(offers []Offer, merchant *model.Merchant) []Offer {
	if merchant == nil || len(merchant.CompetitorsToExclude) == 0 {
		return offers
	}
	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if merchant.IsExcludedCompetitor(o.MerchantName) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ComputeRank 计算自己在前三名中的位置和前三名价格
// 按商家名匹配；多次出现时以靠后的位置为准；不在前三返回 4
func ComputeRank(offers []Offer, ownName string) (int, [4]int64) {
	var prices [4]int64
	rank := pricing.NotInTop
	ownName = strings.TrimSpace(ownName)

	for i, o := range offers {
		place := i + 1
		if place >= pricing.NotInTop {
			break
		}
		prices[place] = o.PriceValue()
		if ownName != "" && strings.EqualFold(strings.TrimSpace(o.MerchantName), ownName) {
			rank = place
		}
	}
	return rank, prices
}
