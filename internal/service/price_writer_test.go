package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/cache"
	"kaspi_dumping_v1/pkg/net"
)

type writerFixture struct {
	db      *gorm.DB
	cabinet *fakeCabinet
	changes *cache.MemoryStore
	writer  *PriceWriter
}

func newWriterFixture(t *testing.T) *writerFixture {
	db := setupServiceTestDB(t)
	fc := newFakeCabinet(t)
	changes := cache.NewMemoryStore()
	writer := NewPriceWriter(
		fc.client(),
		repository.NewProductRepository(db),
		repository.NewProductPriceRepository(db),
		changes,
		net.AnyErrorPolicy(3, time.Millisecond),
		time.Minute,
		testLogger(),
	)
	return &writerFixture{db: db, cabinet: fc, changes: changes, writer: writer}
}

func createServiceProduct(t *testing.T, db *gorm.DB, merchant *model.Merchant, sku string, price int64) *model.Product {
	p := &model.Product{
		MerchantID:        merchant.ID,
		MasterSKU:         sku,
		Code:              sku + "_code",
		Title:             "Product " + sku,
		Price:             price,
		PriceAutoChange:   true,
		RecentlyParsed:    true,
		Available:         true,
		CurrentPricePlace: 4,
		ProductFlag:       "Hot",
		Availabilities: []model.Availability{
			{Available: "yes", StoreID: "PP1"},
			{Available: "no", StoreID: "PP2"},
		},
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestPriceWriter_Success(t *testing.T) {
	f := newWriterFixture(t)
	merchant := createServiceMerchant(t, f.db, "shop")
	product := createServiceProduct(t, f.db, merchant, "100", 1000)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.writer.now = func() time.Time { return fixed }

	res := f.writer.WritePrice(context.Background(), net.DisabledPool(), merchant, product, 990, nil, "run-1")
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int64(990), res.Value.ChangedPrice)
	assert.Equal(t, "run-1", res.Value.RunUID)
	assert.Equal(t, int64(990), product.Price)

	// 上传内容：商户 SKU，只保留可售门店
	uploads := f.cabinet.uploaded()
	require.Len(t, uploads, 1)
	assert.Equal(t, "100_code", uploads[0].SKU)
	assert.Equal(t, []model.Availability{{Available: "yes", StoreID: merchant.MerchantUID + "_PP1"}}, uploads[0].Availabilities)

	// 落库
	var stored model.Product
	require.NoError(t, f.db.First(&stored, product.ID).Error)
	assert.Equal(t, int64(990), stored.Price)

	var history []model.ProductPrice
	require.NoError(t, f.db.Where("product_id = ?", product.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, int64(990), history[0].ChangedPrice)

	// 最近改价时间
	stamp, err := f.changes.Get(context.Background(), ChangeKey(product.ID))
	require.NoError(t, err)
	assert.Equal(t, fixed.Format(time.RFC3339), stamp)
}

func TestPriceWriter_UsesDetails(t *testing.T) {
	f := newWriterFixture(t)
	merchant := createServiceMerchant(t, f.db, "shop")
	product := createServiceProduct(t, f.db, merchant, "100", 1000)

	details := &OfferDetails{
		Availabilities: []model.Availability{{Available: "yes", StoreID: "PP7"}},
		CityPrices:     []model.CityPrice{{Value: 1000, CityID: model.CityAstana}},
	}
	res := f.writer.WritePrice(context.Background(), net.DisabledPool(), merchant, product, 950, details, "run-2")
	require.True(t, res.OK())

	uploads := f.cabinet.uploaded()
	require.Len(t, uploads, 1)
	assert.Equal(t, []model.CityPrice{{Value: 950, CityID: model.CityAstana}}, uploads[0].CityPrices)
	assert.Equal(t, merchant.MerchantUID+"_PP7", uploads[0].Availabilities[0].StoreID)
}

func TestPriceWriter_FailureLeavesNoTrace(t *testing.T) {
	f := newWriterFixture(t)
	f.cabinet.uploadStatus = http.StatusInternalServerError
	merchant := createServiceMerchant(t, f.db, "shop")
	product := createServiceProduct(t, f.db, merchant, "100", 1000)

	res := f.writer.WritePrice(context.Background(), net.DisabledPool(), merchant, product, 990, nil, "run-3")
	assert.False(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, f.cabinet.uploaded(), 3)

	var count int64
	f.db.Model(&model.ProductPrice{}).Count(&count)
	assert.Zero(t, count)
	assert.Equal(t, int64(1000), product.Price)

	_, err := f.changes.Get(context.Background(), ChangeKey(product.ID))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
