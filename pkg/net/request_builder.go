package net

import (
	"context"

	"github.com/go-resty/resty/v2"
)

const (
	// SessionCookieName 卖家后台会话 Cookie
	SessionCookieName = "X-Mc-Api-Session-Id"

	// MobileUserAgent 前台报价接口只对移动端放行
	MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 kaspi.kz/5.36"
)

// BuildCabinetRequest 卖家后台请求构建器
// 职责：统一封装会话 Cookie 和标准头 (Accept, Content-Type)
// 注意：表单提交的调用方获取 req 后可手动覆盖 Content-Type
func BuildCabinetRequest(ctx context.Context, client *resty.Client, session string) *resty.Request {
	req := client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Content-Type", "application/json").
		SetHeader("Origin", "https://kaspi.kz").
		SetHeader("Referer", "https://kaspi.kz/")
	if session != "" {
		req.SetHeader("Cookie", SessionCookieName+"="+session)
	}
	return req
}

// BuildMarketplaceRequest 前台报价接口请求构建器（模拟移动端）
func BuildMarketplaceRequest(ctx context.Context, client *resty.Client) *resty.Request {
	return client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/*").
		SetHeader("Content-Type", "application/json; charset=UTF-8").
		SetHeader("User-Agent", MobileUserAgent).
		SetHeader("Cookie", "ks.tg=105; is_mobile_app=true")
}
