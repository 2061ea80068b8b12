package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"kaspi_dumping_v1/config"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/utils"
)

// ProxyVendor 代理来源：返回 ID -> 代理地址 的候选集合
type ProxyVendor interface {
	Name() string
	Candidates(ctx context.Context) (map[string]string, error)
}

// BalanceReporter 支持查询余额的代理商
type BalanceReporter interface {
	Balance(ctx context.Context) (float64, error)
}

// NewProxyVendor 按配置选择代理商
func NewProxyVendor(cfg config.ProxyConfig, proxyRepo repository.ProxyRepository, client *resty.Client, log *zap.Logger) (ProxyVendor, error) {
	switch cfg.Vendor {
	case "", "static":
		return NewStaticVendor(proxyRepo), nil
	case "asocks":
		return NewAsocksVendor(client, cfg.AsocksBaseURL, cfg.AsocksAPIKey, cfg.AsocksRefreshDelay, log), nil
	case "gateway":
		return NewGatewayVendor(cfg.GatewayProtocol, cfg.GatewayHost, cfg.GatewayUser, cfg.GatewayPassword, cfg.GatewayPortFrom, cfg.GatewayPortTo), nil
	default:
		return nil, fmt.Errorf("unknown proxy vendor %q", cfg.Vendor)
	}
}

// ==================== static：数据库代理表 ====================

type StaticVendor struct {
	proxyRepo repository.ProxyRepository
}

func NewStaticVendor(proxyRepo repository.ProxyRepository) *StaticVendor {
	return &StaticVendor{proxyRepo: proxyRepo}
}

func (v *StaticVendor) Name() string { return "static" }

func (v *StaticVendor) Candidates(ctx context.Context) (map[string]string, error) {
	list, err := v.proxyRepo.ListUsable(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for i := range list {
		if u := list[i].ProxyURL(); u != nil {
			out[strconv.FormatInt(list[i].ID, 10)] = u.String()
		}
	}
	return out, nil
}

// ==================== asocks：分页接口 + 刷新出口 IP ====================

type AsocksVendor struct {
	client       *resty.Client
	baseURL      string
	apiKey       string
	refreshDelay time.Duration
	log          *zap.Logger
}

type asocksPortsResp struct {
	Message struct {
		Proxies []struct {
			ID       int64  `json:"id"`
			Template string `json:"template"`
		} `json:"proxies"`
		Pagination struct {
			PageCount int `json:"pageCount"`
		} `json:"pagination"`
	} `json:"message"`
}

type asocksBalanceResp struct {
	Balance float64 `json:"balance"`
}

func NewAsocksVendor(client *resty.Client, baseURL, apiKey string, refreshDelay time.Duration, log *zap.Logger) *AsocksVendor {
	return &AsocksVendor{
		client:       client,
		baseURL:      baseURL,
		apiKey:       apiKey,
		refreshDelay: refreshDelay,
		log:          log.With(zap.String("component", "asocks")),
	}
}

func (v *AsocksVendor) Name() string { return "asocks" }

// Candidates 拉取全部端口，刷新出口 IP 后等待生效
func (v *AsocksVendor) Candidates(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for page := 1; ; page++ {
		var res asocksPortsResp
		resp, err := v.client.R().
			SetContext(ctx).
			SetQueryParam("apiKey", v.apiKey).
			SetQueryParam("page", strconv.Itoa(page)).
			SetResult(&res).
			Get(v.baseURL + "/v2/proxy/ports")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("asocks ports [%d]: %s", resp.StatusCode(), resp.String())
		}
		for _, p := range res.Message.Proxies {
			out[strconv.FormatInt(p.ID, 10)] = p.Template
		}
		if res.Message.Pagination.PageCount <= page {
			break
		}
	}

	v.log.Info("[Asocks] 刷新代理出口 IP...", zap.Int("count", len(out)))
	for id := range out {
		v.Refresh(ctx, id)
	}
	if err := utils.Sleep(ctx, v.refreshDelay); err != nil {
		return nil, err
	}
	return out, nil
}

// Refresh 更换单个端口的出口 IP，失败只记录日志
func (v *AsocksVendor) Refresh(ctx context.Context, id string) {
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("apikey", v.apiKey).
		Get(v.baseURL + "/v2/proxy/refresh/" + id)
	if err != nil {
		v.log.Warn("[Asocks] 刷新失败", zap.String("proxy_id", id), zap.Error(err))
		return
	}
	if resp.StatusCode() != 200 {
		v.log.Info("[Asocks] 刷新返回异常",
			zap.String("proxy_id", id), zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
	}
}

func (v *AsocksVendor) Balance(ctx context.Context) (float64, error) {
	var res asocksBalanceResp
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("apiKey", v.apiKey).
		SetResult(&res).
		Get(v.baseURL + "/v2/user/balance")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("asocks balance [%d]", resp.StatusCode())
	}
	return res.Balance, nil
}

// ==================== gateway：固定网关 + 端口段 ====================

// GatewayVendor 轮换网关型代理商（每个端口对应一个出口）
type GatewayVendor struct {
	protocol string
	host     string
	user     string
	password string
	portFrom int
	portTo   int
}

func NewGatewayVendor(protocol, host, user, password string, portFrom, portTo int) *GatewayVendor {
	if protocol == "" {
		protocol = "http"
	}
	return &GatewayVendor{
		protocol: protocol,
		host:     host,
		user:     user,
		password: password,
		portFrom: portFrom,
		portTo:   portTo,
	}
}

func (v *GatewayVendor) Name() string { return "gateway" }

func (v *GatewayVendor) Candidates(_ context.Context) (map[string]string, error) {
	if v.host == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for port := v.portFrom; port <= v.portTo; port++ {
		id := strconv.Itoa(port)
		if v.user != "" {
			out[id] = fmt.Sprintf("%s://%s:%s@%s:%d", v.protocol, v.user, v.password, v.host, port)
		} else {
			out[id] = fmt.Sprintf("%s://%s:%d", v.protocol, v.host, port)
		}
	}
	return out, nil
}
