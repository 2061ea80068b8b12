package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/pricing"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/cache"
	"kaspi_dumping_v1/pkg/net"
)

// ==================== 测试替身 ====================

type staticPools struct {
	pool *net.Pool
	err  error
}

func (s staticPools) AcquirePool(context.Context) (*net.Pool, error) { return s.pool, s.err }

type recordingNotifier struct {
	mu    sync.Mutex
	calls []int64
}

func (n *recordingNotifier) NotifyIncorrectLogin(_ context.Context, m *model.Merchant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, m.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type reconcileFixture struct {
	db          *gorm.DB
	cabinet     *fakeCabinet
	market      *fakeMarketplace
	notifier    *recordingNotifier
	productRepo repository.ProductRepository
	svc         *ReconcileService
}

func newReconcileFixture(t *testing.T, pools PoolSource) *reconcileFixture {
	db := setupServiceTestDB(t)
	fc := newFakeCabinet(t)
	fm := newFakeMarketplace(t)
	notifier := &recordingNotifier{}

	productRepo := repository.NewProductRepository(db)
	merchantRepo := repository.NewMerchantRepository(db)
	cabinet := fc.client()
	writer := NewPriceWriter(cabinet, productRepo, repository.NewProductPriceRepository(db),
		cache.NewMemoryStore(), net.AnyErrorPolicy(2, time.Millisecond), time.Minute, testLogger())
	notifications := NewNotificationService(repository.NewNotificationRepository(db), merchantRepo, notifier, "77010000000", testLogger())

	if pools == nil {
		pools = staticPools{pool: net.DisabledPool()}
	}
	svc := NewReconcileService(pools, cabinet, fm.scanner(2), writer, notifications, productRepo,
		ReconcileOptions{Skip: pricing.DefaultSkipConfig()}, testLogger())

	return &reconcileFixture{db: db, cabinet: fc, market: fm, notifier: notifier, productRepo: productRepo, svc: svc}
}

func (f *reconcileFixture) reload(t *testing.T, id int64) *model.Product {
	p, err := f.productRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

// ==================== 用例 ====================

func TestReconcile_ProcessProducts(t *testing.T) {
	f := newReconcileFixture(t, nil)
	ctx := context.Background()
	merchant := createServiceMerchant(t, f.db, "My Shop")

	chase := createServiceProduct(t, f.db, merchant, "1", 1000)
	optimal := createServiceProduct(t, f.db, merchant, "2", 999)
	resting := createServiceProduct(t, f.db, merchant, "3", 500)
	require.NoError(t, f.db.Model(resting).Updates(map[string]interface{}{"product_flag": "Cold", "num_checks_to_skip": 2}).Error)
	blind := createServiceProduct(t, f.db, merchant, "4", 700)

	f.market.offers["1"] = []Offer{{MerchantName: "Rival", Price: 950}, {MerchantName: "My Shop", Price: 1000}}
	f.market.offers["2"] = []Offer{{MerchantName: "My Shop", Price: 999}, {MerchantName: "Rival", Price: 1000}}
	f.market.failures["4"] = []int{429, 429}

	report, err := f.svc.ProcessProducts(ctx, []int64{chase.ID, optimal.ID, resting.ID, blind.ID})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunUID)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, report.NoData)
	assert.Zero(t, report.Failed)

	// 跳过周期内的商品不扫描
	assert.Zero(t, f.market.hitCount("3"))

	// 改价：压到第一名之下
	got := f.reload(t, chase.ID)
	assert.Equal(t, int64(949), got.Price)
	assert.Equal(t, 2, got.CurrentPricePlace)
	assert.Equal(t, int64(950), got.FirstPlacePrice)
	assert.Equal(t, pricing.Hot, got.ProductFlag)
	uploads := f.cabinet.uploaded()
	require.Len(t, uploads, 1)
	assert.Equal(t, "1_code", uploads[0].SKU)
	assert.Equal(t, int64(949), uploads[0].Price)

	history, err := repository.NewProductPriceRepository(f.db).ListByProduct(ctx, chase.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, report.RunUID, history[0].RunUID)

	// 最优位置：未改价计数加一
	got = f.reload(t, optimal.ID)
	assert.Equal(t, int64(999), got.Price)
	assert.Equal(t, 1, got.CurrentPricePlace)
	assert.Equal(t, 1, got.NumChecksWithoutChangedPrice)

	// 跳过：只消耗跳过计数
	got = f.reload(t, resting.ID)
	assert.Equal(t, pricing.Cold, got.ProductFlag)
	assert.Equal(t, 1, got.NumChecksToSkip)

	// 无数据：状态不变
	got = f.reload(t, blind.ID)
	assert.Equal(t, 0, got.NumChecksWithoutChangedPrice)
	assert.Nil(t, got.LastParsedAt)
}

func TestReconcile_IncorrectLoginNotifiesOnce(t *testing.T) {
	f := newReconcileFixture(t, nil)
	ctx := context.Background()
	merchant := createServiceMerchant(t, f.db, "My Shop")
	p := createServiceProduct(t, f.db, merchant, "1", 1000)
	f.market.offers["1"] = []Offer{{MerchantName: "Rival", Price: 900}}
	f.cabinet.password = "changed"

	for i := 0; i < 2; i++ {
		report, err := f.svc.ProcessProducts(ctx, []int64{p.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		assert.Zero(t, report.Changed)
	}

	assert.Equal(t, 1, f.notifier.count(), "同一事件只通知一次")
	assert.Zero(t, f.market.hitCount("1"), "登录失败不扫描")

	var stored model.Merchant
	require.NoError(t, f.db.First(&stored, merchant.ID).Error)
	assert.True(t, stored.InformedAboutLoginProblems)

	// 凭据恢复后清除标记
	f.cabinet.password = merchant.Password
	report, err := f.svc.ProcessProducts(ctx, []int64{p.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)

	require.NoError(t, f.db.First(&stored, merchant.ID).Error)
	assert.False(t, stored.InformedAboutLoginProblems)

	unresolved, err := repository.NewNotificationRepository(f.db).ListUnresolved(ctx, merchant.ID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestReconcile_TooManyChangesSkipsWrites(t *testing.T) {
	f := newReconcileFixture(t, nil)
	merchant := createServiceMerchant(t, f.db, "My Shop")
	require.NoError(t, f.db.Model(merchant).Update("allowed_changes", 1).Error)

	a := createServiceProduct(t, f.db, merchant, "1", 1000)
	b := createServiceProduct(t, f.db, merchant, "2", 1000)
	f.market.offers["1"] = []Offer{{MerchantName: "Rival", Price: 900}}
	f.market.offers["2"] = []Offer{{MerchantName: "Rival", Price: 800}}

	report, err := f.svc.ProcessProducts(context.Background(), []int64{a.ID, b.ID})
	require.NoError(t, err)

	assert.Zero(t, report.Changed)
	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, f.cabinet.uploaded())
	assert.Equal(t, int64(1000), f.reload(t, a.ID).Price)
}

func TestReconcile_PoolFailureAborts(t *testing.T) {
	f := newReconcileFixture(t, staticPools{err: ErrProxyProvider})
	merchant := createServiceMerchant(t, f.db, "My Shop")
	p := createServiceProduct(t, f.db, merchant, "1", 1000)

	_, err := f.svc.ProcessProducts(context.Background(), []int64{p.ID})
	assert.True(t, errors.Is(err, ErrProxyProvider))
}

func TestReconcile_ProcessMerchantOnlyAutoChange(t *testing.T) {
	f := newReconcileFixture(t, nil)
	merchant := createServiceMerchant(t, f.db, "My Shop")
	auto := createServiceProduct(t, f.db, merchant, "1", 1000)
	manual := createServiceProduct(t, f.db, merchant, "2", 1000)
	require.NoError(t, f.db.Model(manual).Update("price_auto_change", false).Error)
	f.market.offers["1"] = []Offer{{MerchantName: "Rival", Price: 900}}
	f.market.offers["2"] = []Offer{{MerchantName: "Rival", Price: 900}}

	report, err := f.svc.ProcessMerchant(context.Background(), merchant.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, int64(899), f.reload(t, auto.ID).Price)
	assert.Zero(t, f.market.hitCount("2"))
}
