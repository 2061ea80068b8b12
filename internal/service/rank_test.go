package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/pricing"
)

func offerList(pairs ...interface{}) []Offer {
	out := make([]Offer, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Offer{MerchantName: pairs[i].(string), Price: pairs[i+1].(float64)})
	}
	return out
}

func TestComputeRank(t *testing.T) {
	tests := []struct {
		name       string
		offers     []Offer
		own        string
		wantRank   int
		wantPrices [4]int64
	}{
		{
			name:       "第二名",
			offers:     offerList("A", 900.0, "My Shop", 950.0, "B", 1000.0),
			own:        "My Shop",
			wantRank:   2,
			wantPrices: [4]int64{0, 900, 950, 1000},
		},
		{
			name:       "不在前三",
			offers:     offerList("A", 900.0, "B", 950.0, "C", 1000.0, "My Shop", 1100.0),
			own:        "My Shop",
			wantRank:   pricing.NotInTop,
			wantPrices: [4]int64{0, 900, 950, 1000},
		},
		{
			name:       "名称忽略大小写和空格",
			offers:     offerList(" my shop ", 800.0),
			own:        "My Shop",
			wantRank:   1,
			wantPrices: [4]int64{0, 800, 0, 0},
		},
		{
			name:       "多次出现取靠后位置",
			offers:     offerList("My Shop", 800.0, "A", 850.0, "My Shop", 900.0),
			own:        "My Shop",
			wantRank:   3,
			wantPrices: [4]int64{0, 800, 850, 900},
		},
		{
			name:       "价格四舍五入",
			offers:     offerList("A", 999.6),
			own:        "My Shop",
			wantRank:   pricing.NotInTop,
			wantPrices: [4]int64{0, 1000, 0, 0},
		},
		{
			name:     "无报价",
			own:      "My Shop",
			wantRank: pricing.NotInTop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank, prices := ComputeRank(tt.offers, tt.own)
			assert.Equal(t, tt.wantRank, rank)
			assert.Equal(t, tt.wantPrices, prices)
		})
	}
}

func TestFilterExcluded(t *testing.T) {
	m := &model.Merchant{CompetitorsToExclude: []string{"Partner Store"}}
	in := offerList("partner store", 500.0, "A", 900.0, "My Shop", 950.0)

	got := FilterExcluded(in, m)
	assert.Equal(t, offerList("A", 900.0, "My Shop", 950.0), got)

	rank, prices := ComputeRank(got, "My Shop")
	assert.Equal(t, 2, rank)
	assert.Equal(t, [4]int64{0, 900, 950, 0}, prices)

	assert.Equal(t, in, FilterExcluded(in, &model.Merchant{}))
}
