package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kaspi_dumping_v1/internal/controller"
	"kaspi_dumping_v1/internal/middleware"
)

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, opsCtl *controller.OpsController) {
	// 1. 存活检查与指标
	r.GET("/healthz", opsCtl.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 2. API 路由组
	api := r.Group("/api")
	{
		// tasks 定时任务
		tasks := api.Group("/tasks")
		{
			// GET /api/tasks
			tasks.GET("", opsCtl.TaskStatus)
			// POST /api/tasks/reconcile
			tasks.POST("/reconcile", middleware.GlobalSyncRateLimit(middleware.SyncTypeReconcile, 0), opsCtl.ReconcileAll)
		}
		// merchants 单商户手动触发
		merchants := api.Group("/merchants")
		{
			merchants.POST("/:id/reconcile", middleware.SyncRateLimit(middleware.SyncTypeReconcile, 0), opsCtl.ReconcileMerchant)
			merchants.POST("/:id/sync", middleware.SyncRateLimit(middleware.SyncTypeCatalog, 0), opsCtl.SyncMerchant)
		}
	}
}
