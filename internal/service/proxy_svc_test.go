package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
)

// ==================== 测试替身 ====================

type fakeVendor struct {
	candidates map[string]string
	err        error
	calls      int32
}

func (v *fakeVendor) Name() string { return "fake" }

func (v *fakeVendor) Candidates(context.Context) (map[string]string, error) {
	atomic.AddInt32(&v.calls, 1)
	return v.candidates, v.err
}

type balanceVendor struct {
	fakeVendor
	balance float64
}

func (v *balanceVendor) Balance(context.Context) (float64, error) { return v.balance, nil }

// fakeProxyServer 充当 HTTP 代理：所有经过它的请求都返回 status
func fakeProxyServer(t *testing.T, status int, hits *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProxyService(vendor ProxyVendor, repo repository.ProxyRepository, opts ProxyOptions) *ProxyService {
	if opts.ProbeURL == "" {
		opts.ProbeURL = "http://offers.test/yml/offer-view/offers"
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	return NewProxyService(vendor, repo, testDispatcher(), opts, testLogger())
}

func storeProxy(t *testing.T, db *gorm.DB, srv *httptest.Server, failures int, status int) *model.Proxy {
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p := &model.Proxy{
		IP:           u.Hostname(),
		Port:         u.Port(),
		Protocol:     "http",
		Status:       status,
		FailureCount: failures,
		IsActive:     true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// ==================== 代理池组建 ====================

func TestProxyService_AcquirePool_Disabled(t *testing.T) {
	vendor := &fakeVendor{}
	svc := newTestProxyService(vendor, nil, ProxyOptions{Disabled: true})

	pool, err := svc.AcquirePool(context.Background())
	require.NoError(t, err)

	assert.True(t, pool.Disabled())
	assert.Equal(t, 1, pool.Len())
	assert.Nil(t, pool.Get())
	assert.Zero(t, atomic.LoadInt32(&vendor.calls), "直连节点不应请求代理商")
}

func TestProxyService_AcquirePool_ProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		vendor *fakeVendor
	}{
		{name: "代理商报错", vendor: &fakeVendor{err: errors.New("boom")}},
		{name: "候选为空", vendor: &fakeVendor{candidates: map[string]string{}}},
		{name: "候选地址非法", vendor: &fakeVendor{candidates: map[string]string{"1": "not-a-proxy"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestProxyService(tt.vendor, nil, ProxyOptions{})
			pool, err := svc.AcquirePool(context.Background())
			assert.Nil(t, pool)
			assert.ErrorIs(t, err, ErrProxyProvider)
		})
	}
}

func TestProxyService_AcquirePool_KeepsOnlyHealthy(t *testing.T) {
	var body probeReq
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := fakeProxyServer(t, http.StatusBadGateway, nil)

	vendor := &fakeVendor{candidates: map[string]string{"good": good.URL, "bad": bad.URL}}
	svc := newTestProxyService(vendor, nil, ProxyOptions{ProbeSKUs: []string{"111", "222"}})

	pool, err := svc.AcquirePool(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, pool.Len())
	assert.Equal(t, "good", pool.Get().ID)

	// 探测请求体
	assert.Equal(t, []string{"PRICE"}, body.Options)
	assert.Equal(t, model.CityAlmaty, body.CityID)
	assert.Len(t, body.Entries, 5)
	for _, e := range body.Entries {
		assert.Contains(t, []string{"111", "222"}, e.SKU)
	}
}

func TestProxyService_AcquirePool_NoSurvivors(t *testing.T) {
	bad := fakeProxyServer(t, http.StatusForbidden, nil)
	vendor := &fakeVendor{candidates: map[string]string{"1": bad.URL}}
	svc := newTestProxyService(vendor, nil, ProxyOptions{})

	_, err := svc.AcquirePool(context.Background())
	assert.ErrorIs(t, err, ErrProxyProvider)
}

// ==================== 巡检自愈 ====================

func TestProxyService_VerifyAndHeal(t *testing.T) {
	db := setupServiceTestDB(t)
	repo := repository.NewProxyRepository(db)
	svc := newTestProxyService(NewStaticVendor(repo), repo, ProxyOptions{MaxFailCount: 3})
	ctx := context.Background()

	good := fakeProxyServer(t, http.StatusOK, nil)
	bad := fakeProxyServer(t, http.StatusBadGateway, nil)
	worse := fakeProxyServer(t, http.StatusBadGateway, nil)

	t.Run("失败累计为不稳定", func(t *testing.T) {
		p := storeProxy(t, db, bad, 0, model.ProxyStatusNormal)
		require.NoError(t, svc.VerifyAndHeal(ctx, p))

		var got model.Proxy
		require.NoError(t, db.First(&got, p.ID).Error)
		assert.Equal(t, model.ProxyStatusUnstable, got.Status)
		assert.Equal(t, 1, got.FailureCount)
	})

	t.Run("达到上限报废", func(t *testing.T) {
		p := storeProxy(t, db, worse, 2, model.ProxyStatusUnstable)
		require.NoError(t, svc.VerifyAndHeal(ctx, p))

		var got model.Proxy
		require.NoError(t, db.First(&got, p.ID).Error)
		assert.Equal(t, model.ProxyStatusDead, got.Status)
		assert.Equal(t, 3, got.FailureCount)
	})

	t.Run("恢复后清零", func(t *testing.T) {
		p := storeProxy(t, db, good, 2, model.ProxyStatusUnstable)
		require.NoError(t, svc.VerifyAndHeal(ctx, p))

		var got model.Proxy
		require.NoError(t, db.First(&got, p.ID).Error)
		assert.Equal(t, model.ProxyStatusNormal, got.Status)
		assert.Zero(t, got.FailureCount)
	})
}

func TestProxyService_CheckBalance(t *testing.T) {
	ctx := context.Background()

	svc := newTestProxyService(&fakeVendor{}, nil, ProxyOptions{})
	_, supported, err := svc.CheckBalance(ctx)
	require.NoError(t, err)
	assert.False(t, supported)

	svc = newTestProxyService(&balanceVendor{balance: 4.5}, nil, ProxyOptions{BalanceWarn: 10})
	balance, supported, err := svc.CheckBalance(ctx)
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, 4.5, balance)
}
