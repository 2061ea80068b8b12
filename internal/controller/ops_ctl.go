package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"kaspi_dumping_v1/internal/service"
	"kaspi_dumping_v1/internal/task"
)

// TaskTrigger 运维接口依赖的任务能力
type TaskTrigger interface {
	Status() map[string]bool
	TriggerReconcile() error
	TriggerMerchantReconcile(ctx context.Context, merchantID int64) (*service.ReconcileReport, error)
	TriggerMerchantSync(ctx context.Context, merchantID int64) (*service.SyncReport, error)
}

// OpsController 运维控制器
type OpsController struct {
	tasks TaskTrigger
}

// NewOpsController 创建运维控制器
func NewOpsController(tasks TaskTrigger) *OpsController {
	return &OpsController{tasks: tasks}
}

// ==================== Handler 实现 ====================

// Healthz 存活检查
func (c *OpsController) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok"})
}

// TaskStatus 各定时任务是否启用
func (c *OpsController) TaskStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    c.tasks.Status(),
	})
}

// ReconcileAll 后台触发一次全量对账
func (c *OpsController) ReconcileAll(ctx *gin.Context) {
	if err := c.tasks.TriggerReconcile(); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "全量对账任务已启动",
	})
}

// ReconcileMerchant 同步执行单个商户的对账，返回统计
func (c *OpsController) ReconcileMerchant(ctx *gin.Context) {
	merchantID := parseID(ctx, "id")
	if merchantID == 0 {
		return
	}

	report, err := c.tasks.TriggerMerchantReconcile(ctx.Request.Context(), merchantID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "商户对账完成",
		"data":    report,
	})
}

// SyncMerchant 同步执行单个商户的目录同步
func (c *OpsController) SyncMerchant(ctx *gin.Context) {
	merchantID := parseID(ctx, "id")
	if merchantID == 0 {
		return
	}

	report, err := c.tasks.TriggerMerchantSync(ctx.Request.Context(), merchantID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "商户目录同步完成",
		"data": gin.H{
			"merchant_id":   report.MerchantID,
			"fetched":       report.Fetched,
			"scanned":       report.Scanned,
			"saved":         report.Saved,
			"deactivated":   report.Deactivated,
			"dropped_pages": report.DroppedPages,
		},
	})
}

// ==================== 工具函数 ====================

// respondError 业务错误映射为 HTTP 状态码
func respondError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrTaskDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, task.ErrJobLocked):
		status = http.StatusConflict
	case errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrIncorrectLogin):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrProxyProvider):
		status = http.StatusBadGateway
	}
	ctx.JSON(status, gin.H{"code": status, "message": err.Error()})
}

func parseID(ctx *gin.Context, key string) int64 {
	id, err := strconv.ParseInt(ctx.Param(key), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "无效的 ID"})
		return 0
	}
	return id
}
