package net

import (
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Dispatcher 网络调度器：为每个代理复用一个 resty 客户端
type Dispatcher interface {
	// Client 返回挂载了该代理的客户端；proxy 为 nil 时直连
	Client(proxy *ProxyHandle) *resty.Client
	// Forget 丢弃代理对应的缓存客户端（代理失效时调用）
	Forget(proxy *ProxyHandle)
}

// ClientOptions 客户端公共参数
type ClientOptions struct {
	Timeout   time.Duration
	UserAgent string
	Debug     bool
}

// httpDispatcher 是 Dispatcher 接口的具体实现
// 注意：它是私有的，外部只能通过 NewDispatcher 获取接口
type httpDispatcher struct {
	opts        ClientOptions
	clientCache sync.Map // proxy url -> *resty.Client
	direct      *resty.Client
}

var _ Dispatcher = (*httpDispatcher)(nil)

func NewDispatcher(opts ClientOptions) Dispatcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	d := &httpDispatcher{opts: opts}
	d.direct = d.newClient(nil)
	return d
}

func (d *httpDispatcher) Client(proxy *ProxyHandle) *resty.Client {
	if proxy == nil || proxy.URL == nil {
		return d.direct
	}

	// 缓存 Key: "http://user:pass@ip:port"
	cacheKey := proxy.URL.String()
	if val, ok := d.clientCache.Load(cacheKey); ok {
		return val.(*resty.Client)
	}

	// LoadOrStore 防止并发重复创建
	actual, _ := d.clientCache.LoadOrStore(cacheKey, d.newClient(proxy))
	return actual.(*resty.Client)
}

func (d *httpDispatcher) Forget(proxy *ProxyHandle) {
	if proxy == nil || proxy.URL == nil {
		return
	}
	d.clientCache.Delete(proxy.URL.String())
}

func (d *httpDispatcher) newClient(proxy *ProxyHandle) *resty.Client {
	tr := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, // 可选
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != nil {
		tr.Proxy = http.ProxyURL(proxy.URL)
	}

	// 会话 Cookie 由调用方显式携带，客户端在商户之间共享，不保存 Cookie
	client := resty.New().
		SetTransport(tr).
		SetCookieJar(nil).
		SetDebug(d.opts.Debug).
		SetTimeout(d.opts.Timeout)

	if d.opts.UserAgent != "" {
		client.SetHeader("User-Agent", d.opts.UserAgent)
	}
	return client
}
