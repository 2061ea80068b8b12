package service

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/pkg/net"
)

// ==================== 测试辅助 ====================

func setupServiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

func testDispatcher() net.Dispatcher {
	return net.NewDispatcher(net.ClientOptions{Timeout: 5 * time.Second})
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// fastRetry 测试用的短退避策略
func fastRetry(attempts int) net.RetryPolicy {
	return net.TransientPolicy(attempts, time.Millisecond)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func createServiceMerchant(t *testing.T, db *gorm.DB, name string) *model.Merchant {
	m := &model.Merchant{
		Name:            name,
		MerchantUID:     name + "-uid",
		Login:           name + "@mail.kz",
		Password:        "secret",
		Phone:           "8 (701) 123-45-67",
		CityID:          model.CityAlmaty,
		Enabled:         true,
		EnableParsing:   true,
		PriceAutoChange: true,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("创建商户失败: %v", err)
	}
	return m
}
