package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaspi_dumping_v1/pkg/net"
)

// fakeMarketplace 模拟前台报价接口；status 为空的 SKU 返回 offers 中的报价
type fakeMarketplace struct {
	srv *httptest.Server

	mu     sync.Mutex
	offers map[string][]Offer
	// failures SKU -> 依次返回的状态码，用完后正常返回
	failures map[string][]int
	hits     map[string]int
	lastBody offersReq

	// delay 每个请求的处理耗时，用于观察并发
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeMarketplace(t *testing.T) *fakeMarketplace {
	fm := &fakeMarketplace{
		offers:   make(map[string][]Offer),
		failures: make(map[string][]int),
		hits:     make(map[string]int),
	}
	fm.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sku := strings.TrimPrefix(r.URL.Path, "/offers/")

		fm.mu.Lock()
		fm.inFlight++
		if fm.inFlight > fm.maxInFlight {
			fm.maxInFlight = fm.inFlight
		}
		delay := fm.delay
		fm.mu.Unlock()
		time.Sleep(delay)
		defer func() {
			fm.mu.Lock()
			fm.inFlight--
			fm.mu.Unlock()
		}()

		fm.mu.Lock()
		fm.hits[sku]++
		_ = json.NewDecoder(r.Body).Decode(&fm.lastBody)
		var status int
		if queue := fm.failures[sku]; len(queue) > 0 {
			status = queue[0]
			fm.failures[sku] = queue[1:]
		}
		list := fm.offers[sku]
		fm.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, http.StatusOK, offersResp{Offers: list, Total: len(list), OffersCount: len(list)})
	}))
	t.Cleanup(fm.srv.Close)
	return fm
}

func (fm *fakeMarketplace) scanner(attempts int) *ScannerService {
	return NewScannerService(testDispatcher(), ScannerOptions{
		OffersURL:        fm.srv.URL + "/offers",
		RequestsPerProxy: 2,
		Retry:            fastRetry(attempts),
	}, testLogger())
}

func (fm *fakeMarketplace) hitCount(sku string) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.hits[sku]
}

func TestScanner_Scan(t *testing.T) {
	fm := newFakeMarketplace(t)
	fm.offers["100"] = []Offer{{MerchantName: "A", Price: 900}, {MerchantName: "B", Price: 950}}

	got, err := fm.scanner(3).Scan(context.Background(), net.DisabledPool(), "100", "710000000")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "710000000", fm.lastBody.CityID)
	assert.Equal(t, 3, fm.lastBody.Limit)
}

func TestScanner_RetriesTransientThenSucceeds(t *testing.T) {
	fm := newFakeMarketplace(t)
	fm.offers["100"] = []Offer{{MerchantName: "A", Price: 900}}
	fm.failures["100"] = []int{http.StatusTooManyRequests, http.StatusForbidden}

	got, err := fm.scanner(3).Scan(context.Background(), net.DisabledPool(), "100", "750000000")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, fm.hitCount("100"))
}

func TestScanner_ExhaustedIsNoData(t *testing.T) {
	fm := newFakeMarketplace(t)
	fm.failures["100"] = []int{429, 429, 429}

	_, err := fm.scanner(3).Scan(context.Background(), net.DisabledPool(), "100", "750000000")
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 3, fm.hitCount("100"))
}

func TestScanner_NonTransientNotRetried(t *testing.T) {
	fm := newFakeMarketplace(t)
	fm.failures["100"] = []int{http.StatusBadRequest}

	_, err := fm.scanner(3).Scan(context.Background(), net.DisabledPool(), "100", "750000000")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoData)
	assert.Equal(t, http.StatusBadRequest, net.StatusCode(err))
	assert.Equal(t, 1, fm.hitCount("100"))
}

func TestScanner_ScanAll(t *testing.T) {
	fm := newFakeMarketplace(t)
	skus := []string{"1", "2", "3", "4", "5"}
	for _, sku := range skus {
		fm.offers[sku] = []Offer{{MerchantName: "A", Price: 100}}
	}
	fm.failures["3"] = []int{429, 429}
	fm.failures["4"] = []int{http.StatusNotFound}

	results, stats := fm.scanner(2).ScanAll(context.Background(), net.DisabledPool(), skus, "750000000")

	assert.Equal(t, ScanStats{OK: 3, NoData: 1, Failed: 1}, stats)
	assert.Len(t, results, 3)
	assert.Contains(t, results, "1")
	assert.NotContains(t, results, "3")
	assert.NotContains(t, results, "4")
}

func TestScanner_ScanAllBoundsConcurrency(t *testing.T) {
	fm := newFakeMarketplace(t)
	fm.delay = 20 * time.Millisecond
	var skus []string
	for i := 0; i < 9; i++ {
		sku := strconv.Itoa(100 + i)
		skus = append(skus, sku)
		fm.offers[sku] = []Offer{{MerchantName: "A", Price: 100}}
	}

	// 直连池 Len()=1，RequestsPerProxy=2
	_, stats := fm.scanner(1).ScanAll(context.Background(), net.DisabledPool(), skus, "750000000")
	assert.Equal(t, 9, stats.OK)

	fm.mu.Lock()
	defer fm.mu.Unlock()
	assert.LessOrEqual(t, fm.maxInFlight, 2)
	assert.Positive(t, fm.maxInFlight)
}

func TestScanner_RateLimitHonoursDeadline(t *testing.T) {
	fm := newFakeMarketplace(t)
	fm.offers["100"] = []Offer{{MerchantName: "A", Price: 900}}

	s := NewScannerService(testDispatcher(), ScannerOptions{
		OffersURL: fm.srv.URL + "/offers",
		Retry:     fastRetry(1),
		RateLimit: 0.5,
	}, testLogger())

	_, err := s.Scan(context.Background(), net.DisabledPool(), "100", "750000000")
	require.NoError(t, err)

	// 令牌耗尽，等待时间超过截止时间时不再发请求
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Scan(ctx, net.DisabledPool(), "100", "750000000")
	assert.Error(t, err)
	assert.Equal(t, 1, fm.hitCount("100"))
}
