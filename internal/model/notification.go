package model

// 通知类型
const (
	MessageTypeIncorrectLogin = "incorrect login"
)

// 通知级别
const (
	MessageLevelInfo    = "info"
	MessageLevelWarning = "warning"
	MessageLevelError   = "error"
)

// UserNotification 发给商户的通知
// 同一 (商户, 类型) 最多一条未解决记录，用于同一事件只通知一次
type UserNotification struct {
	BaseModel

	// 部分唯一索引：resolved = false 时 (merchant_id, message_type) 唯一
	MerchantID   int64  `gorm:"not null;uniqueIndex:idx_notification_unresolved,where:resolved = false" json:"merchant_id"`
	MessageType  string `gorm:"size:64;not null;uniqueIndex:idx_notification_unresolved,where:resolved = false" json:"message_type"`
	MessageLevel string `gorm:"size:16;default:'info'" json:"message_level"`
	MessageText  string `gorm:"type:text" json:"message_text"`
	Resolved     bool   `gorm:"default:false;index" json:"resolved"`
	Delivered    bool   `gorm:"default:false" json:"delivered"`
}

func (*UserNotification) TableName() string {
	return "user_notifications"
}

// AllModels 需要自动迁移的模型
func AllModels() []interface{} {
	return []interface{}{
		&Merchant{},
		&Product{},
		&ProductPrice{},
		&Proxy{},
		&UserNotification{},
	}
}
