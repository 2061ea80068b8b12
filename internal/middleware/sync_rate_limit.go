package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== 手动触发限流中间件 ====================

// SyncRateLimit 按商户 + 触发类型限流
//
// 使用示例:
//
//	router.POST("/api/merchants/:id/reconcile",
//	    middleware.SyncRateLimit(middleware.SyncTypeReconcile, 0),
//	    opsCtl.ReconcileMerchant,
//	)
//
// interval 为 0 时使用默认值
func SyncRateLimit(syncType SyncType, interval time.Duration) gin.HandlerFunc {
	return syncRateLimit(GetLimiter(), syncType, interval)
}

func syncRateLimit(limiter *SyncRateLimiter, syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}

	return func(c *gin.Context) {
		key := GlobalSyncKey(syncType)
		if idStr := c.Param("id"); idStr != "" {
			merchantID, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil || merchantID <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "无效的商户 ID",
				})
				return
			}
			key = MerchantSyncKey(merchantID, syncType)
		}

		if !allow(c, limiter, key, syncType, interval) {
			return
		}
		c.Next()
	}
}

// GlobalSyncRateLimit 全局限流，用于"对账所有商户"等操作
func GlobalSyncRateLimit(syncType SyncType, interval time.Duration) gin.HandlerFunc {
	return globalSyncRateLimit(GetLimiter(), syncType, interval)
}

func globalSyncRateLimit(limiter *SyncRateLimiter, syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}
	return func(c *gin.Context) {
		if !allow(c, limiter, GlobalSyncKey(syncType), syncType, interval) {
			return
		}
		c.Next()
	}
}

func allow(c *gin.Context, limiter *SyncRateLimiter, key string, syncType SyncType, interval time.Duration) bool {
	result := limiter.Check(key, interval)
	if result.Allowed {
		return true
	}

	retryAfter := int(result.RetryAfter.Seconds())
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"code":    429,
		"message": formatRetryMessage(result.RetryAfter),
		"data": gin.H{
			"retry_after": retryAfter,
			"sync_type":   syncType,
		},
	})
	return false
}

// ==================== 辅助函数 ====================

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}
