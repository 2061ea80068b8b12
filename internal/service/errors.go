package service

// ==================== 错误定义 ====================

type ServiceError string

func (e ServiceError) Error() string { return string(e) }

const (
	// ErrProxyProvider 无法组建可用代理池，本轮调用整体中止
	ErrProxyProvider ServiceError = "proxy provider unavailable"
	// ErrIncorrectLogin 后台凭据被拒绝
	ErrIncorrectLogin ServiceError = "incorrect cabinet login"
	// ErrSessionExpired 重新登录后会话仍被拒绝
	ErrSessionExpired ServiceError = "cabinet session expired"
	// ErrNoData 重试耗尽后仍无竞争数据
	ErrNoData ServiceError = "no competitor data"
	// ErrTooManyChanges 单批改价数量超过商户上限
	ErrTooManyChanges ServiceError = "too many price changes"
)
