package service

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/metrics"
	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/pkg/net"
)

var sessionCookieRe = regexp.MustCompile(net.SessionCookieName + `=([^;]*)`)

// CabinetOptions 卖家后台接口地址
type CabinetOptions struct {
	LoginURL     string
	BffURL       string
	PriceFeedURL string
	PageSize     int
}

// ==================== 后台数据结构 ====================

// CabinetProduct 后台商品列表中的一项
type CabinetProduct struct {
	MasterTitle    string               `json:"masterTitle"`
	MasterSKU      string               `json:"masterSku"`
	MerchantUID    string               `json:"merchantUid"`
	Images         []string             `json:"images"`
	ShopLink       string               `json:"shopLink"`
	MinPrice       int64                `json:"minPrice"`
	Available      bool                 `json:"available"`
	Availabilities []model.Availability `json:"availabilities"`
	SKU            string               `json:"sku"`
}

// CabinetProductList 后台商品列表一页
type CabinetProductList struct {
	Data  []CabinetProduct `json:"data"`
	Total int              `json:"total"`
}

type cabinetDetailsResp struct {
	CityInfo []struct {
		ID           string  `json:"id"`
		Price        float64 `json:"price"`
		PickupPoints []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"pickupPoints"`
	} `json:"cityInfo"`
}

// OfferDetails 改价请求需要的门店和城市价格
type OfferDetails struct {
	Availabilities []model.Availability
	CityPrices     []model.CityPrice
}

// UpdateOfferReq 价格上传请求体
type UpdateOfferReq struct {
	MerchantUID    string               `json:"merchantUid"`
	SKU            string               `json:"sku"`
	Model          string               `json:"model"`
	Price          int64                `json:"price"`
	Availabilities []model.Availability `json:"availabilities"`
	CityPrices     []model.CityPrice    `json:"cityPrices"`
}

// ==================== 客户端 ====================

// CabinetClient 卖家后台客户端
// 每次调用自动附带会话；遇到 401 丢弃会话并重新登录一次
type CabinetClient struct {
	dispatcher net.Dispatcher
	sessions   *SessionCache
	opts       CabinetOptions
	log        *zap.Logger
}

func NewCabinetClient(dispatcher net.Dispatcher, sessions *SessionCache, opts CabinetOptions, log *zap.Logger) *CabinetClient {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &CabinetClient{
		dispatcher: dispatcher,
		sessions:   sessions,
		opts:       opts,
		log:        log.With(zap.String("component", "cabinet")),
	}
}

// PageSize 列表分页大小
func (c *CabinetClient) PageSize() int { return c.opts.PageSize }

// Login 用表单登录换取会话
// 服务端拒绝或未返回会话 Cookie 时返回 ErrIncorrectLogin
func (c *CabinetClient) Login(ctx context.Context, login, password string) (string, error) {
	resp, err := c.dispatcher.Client(nil).R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Origin", "https://kaspi.kz").
		SetHeader("Referer", "https://kaspi.kz/mc/").
		SetHeader("X-Src", "desk").
		SetFormData(map[string]string{
			"username": login,
			"password": password,
		}).
		Post(c.opts.LoginURL)
	if err != nil {
		metrics.CabinetLoginsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("cabinet login request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		metrics.CabinetLoginsTotal.WithLabelValues("rejected").Inc()
		c.log.Warn("[Cabinet] 登录被拒绝", zap.String("login", login), zap.Int("status", resp.StatusCode()))
		return "", ErrIncorrectLogin
	}

	session := extractSession(resp.Header())
	if session == "" {
		metrics.CabinetLoginsTotal.WithLabelValues("rejected").Inc()
		c.log.Warn("[Cabinet] 登录响应缺少会话 Cookie", zap.String("login", login))
		return "", ErrIncorrectLogin
	}

	metrics.CabinetLoginsTotal.WithLabelValues("ok").Inc()
	c.log.Info("[Cabinet] 登录成功", zap.String("login", login))
	return session, nil
}

func extractSession(h http.Header) string {
	for _, v := range h.Values("Set-Cookie") {
		if m := sessionCookieRe.FindStringSubmatch(v); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// Session 获取商户的有效会话（缓存优先）
func (c *CabinetClient) Session(ctx context.Context, merchant *model.Merchant) (string, error) {
	return c.sessions.GetOrRefresh(ctx, merchant.Login, func(ctx context.Context) (string, error) {
		return c.Login(ctx, merchant.Login, merchant.Password)
	})
}

// do 附带会话发送请求；401 时重新登录并重放一次
func (c *CabinetClient) do(ctx context.Context, merchant *model.Merchant, send func(session string) (*resty.Response, error)) (*resty.Response, error) {
	session, err := c.Session(ctx, merchant)
	if err != nil {
		return nil, err
	}

	resp, err := send(session)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	c.log.Info("[Cabinet] 会话失效，重新登录", zap.Int64("merchant_id", merchant.ID))
	if err := c.sessions.Invalidate(ctx, merchant.Login); err != nil {
		c.log.Warn("[Cabinet] 清理会话缓存失败", zap.Error(err))
	}
	session, err = c.Session(ctx, merchant)
	if err != nil {
		return nil, err
	}

	resp, err = send(session)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// ListProducts 分页获取后台商品
func (c *CabinetClient) ListProducts(ctx context.Context, proxy *net.ProxyHandle, merchant *model.Merchant, page, limit int, active bool) (*CabinetProductList, error) {
	var res CabinetProductList
	resp, err := c.do(ctx, merchant, func(session string) (*resty.Response, error) {
		return net.BuildCabinetRequest(ctx, c.dispatcher.Client(proxy), session).
			SetQueryParams(map[string]string{
				"m": merchant.MerchantUID,
				"p": strconv.Itoa(page),
				"l": strconv.Itoa(limit),
				"a": strconv.FormatBool(active),
				"t": "",
				"c": "",
			}).
			SetResult(&res).
			Get(c.opts.BffURL + "/list")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, net.NewStatusError(resp.StatusCode(), resp.String())
	}
	return &res, nil
}

// ProductDetails 获取商品在各城市的价格和可售门店
// 只保留可售的自提点
func (c *CabinetClient) ProductDetails(ctx context.Context, proxy *net.ProxyHandle, merchant *model.Merchant, sku string) (*OfferDetails, error) {
	var res cabinetDetailsResp
	resp, err := c.do(ctx, merchant, func(session string) (*resty.Response, error) {
		return net.BuildCabinetRequest(ctx, c.dispatcher.Client(proxy), session).
			SetQueryParams(map[string]string{
				"m": merchant.MerchantUID,
				"s": sku,
			}).
			SetResult(&res).
			Get(c.opts.BffURL + "/details")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, net.NewStatusError(resp.StatusCode(), resp.String())
	}

	details := &OfferDetails{}
	for _, city := range res.CityInfo {
		cityAvailable := false
		for _, point := range city.PickupPoints {
			if !point.Available {
				continue
			}
			cityAvailable = true
			details.Availabilities = append(details.Availabilities, model.Availability{Available: "yes", StoreID: point.Name})
		}
		if cityAvailable {
			details.CityPrices = append(details.CityPrices, model.CityPrice{Value: int64(city.Price), CityID: city.ID})
		}
	}
	return details, nil
}

// UpdateOffer 上传新价格；所有城市统一为新价格
func (c *CabinetClient) UpdateOffer(ctx context.Context, proxy *net.ProxyHandle, merchant *model.Merchant, req UpdateOfferReq) error {
	req.MerchantUID = merchant.MerchantUID
	cityPrices := make([]model.CityPrice, 0, len(req.CityPrices))
	for _, cp := range req.CityPrices {
		cityPrices = append(cityPrices, model.CityPrice{Value: req.Price, CityID: cp.CityID})
	}
	if len(cityPrices) == 0 {
		cityPrices = append(cityPrices, model.CityPrice{Value: req.Price, CityID: merchant.EffectiveCityID()})
	}
	req.CityPrices = cityPrices

	availabilities := make([]model.Availability, 0, len(req.Availabilities))
	for _, a := range req.Availabilities {
		availabilities = append(availabilities, model.Availability{
			Available: a.Available,
			StoreID:   NormalizeStoreID(merchant.MerchantUID, a.StoreID),
		})
	}
	req.Availabilities = availabilities

	resp, err := c.do(ctx, merchant, func(session string) (*resty.Response, error) {
		return net.BuildCabinetRequest(ctx, c.dispatcher.Client(proxy), session).
			SetBody(req).
			Post(c.opts.PriceFeedURL)
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return net.NewStatusError(resp.StatusCode(), resp.String())
	}

	c.log.Info("[Cabinet] 价格已上传",
		zap.Int64("merchant_id", merchant.ID),
		zap.String("sku", req.SKU),
		zap.Int64("price", req.Price))
	return nil
}

// NormalizeStoreID 自提点 ID（PP 开头）需要带上商户前缀
func NormalizeStoreID(merchantUID, storeID string) string {
	if !strings.HasPrefix(storeID, "PP") {
		return storeID
	}
	return merchantUID + "_" + storeID
}
