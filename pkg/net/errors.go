package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdnet "net"
	"net/http"
	"strings"
	"syscall"
)

// StatusError 非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, body)
}

// NewStatusError 构造状态码错误
func NewStatusError(code int, body string) error {
	return &StatusError{Code: code, Body: body}
}

// StatusCode 提取错误中的 HTTP 状态码，不存在时返回 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsTransient 判断错误是否可重试
// 可重试：403/405/429、超时、代理错误、连接被重置
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch StatusCode(err) {
	case http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusTooManyRequests:
		return true
	case 0:
	default:
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr stdnet.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// 代理/连接层错误在标准库中大多没有类型，只能匹配描述
var transientMarkers = []string{
	"proxyconnect",
	"proxy error",
	"connection reset",
	"broken pipe",
	"server closed idle connection",
	"tls handshake timeout",
	"i/o timeout",
}
