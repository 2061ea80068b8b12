package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"kaspi_dumping_v1/internal/model"
	"kaspi_dumping_v1/internal/repository"
	"kaspi_dumping_v1/pkg/net"
)

// Notifier 商户通知渠道
type Notifier interface {
	NotifyIncorrectLogin(ctx context.Context, merchant *model.Merchant) error
}

// ==================== Green-API (WhatsApp) ====================

// GreenAPIOptions Green-API 实例参数
type GreenAPIOptions struct {
	BaseURL      string
	InstanceID   string
	Token        string
	ManagerPhone string
	TeamGroupID  string
}

type GreenAPINotifier struct {
	client *resty.Client
	opts   GreenAPIOptions
	now    func() time.Time
	log    *zap.Logger
}

type greenAPIMessage struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

func NewGreenAPINotifier(client *resty.Client, opts GreenAPIOptions, log *zap.Logger) *GreenAPINotifier {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.green-api.com"
	}
	return &GreenAPINotifier{
		client: client,
		opts:   opts,
		now:    time.Now,
		log:    log.With(zap.String("component", "green_api")),
	}
}

// NormalizePhone 只保留数字；8 开头换成 7，10 位号码补 7
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "8") {
		digits = "7" + digits[1:]
	}
	if len(digits) == 10 {
		digits = "7" + digits
	}
	return digits
}

// ClientLoginMessage 发给商户的登录异常提醒
func ClientLoginMessage(managerPhone string) string {
	return "Уважаемый пользователь!\n" +
		"Возможно, что у вас изменились логин или пароль от каспи кабинета.\n" +
		"Демпинг невозможен, необходимо немедленно связаться с менеджером по телефону " +
		"https://wa.me/" + managerPhone + " для выяснения деталей."
}

func (n *GreenAPINotifier) teamLoginMessage(merchant *model.Merchant, phone string) string {
	stamp := n.now().Format("02.01.2006 15:04")
	if phone == "" {
		return fmt.Sprintf("%s :: У клиента %s возможно изменились логин или пароль от каспи кабинета.\n"+
			"Демпинг невозможен, номера телефона у клиента нет", stamp, merchant.Name)
	}
	return fmt.Sprintf("%s :: У клиента %s возможно изменились логин или пароль от каспи кабинета.\n"+
		"Демпинг невозможен, необходимо немедленно связаться с клиентом по телефону https://wa.me/%s для выяснения деталей.",
		stamp, merchant.Name, phone)
}

// NotifyIncorrectLogin 通知商户和运营群
func (n *GreenAPINotifier) NotifyIncorrectLogin(ctx context.Context, merchant *model.Merchant) error {
	if n.opts.InstanceID == "" || n.opts.Token == "" {
		n.log.Warn("[GreenAPI] 未配置实例，跳过通知", zap.Int64("merchant_id", merchant.ID))
		return nil
	}

	phone := NormalizePhone(merchant.Phone)
	var firstErr error
	if phone != "" {
		if err := n.send(ctx, phone+"@c.us", ClientLoginMessage(n.opts.ManagerPhone)); err != nil {
			firstErr = err
		}
	}
	if n.opts.TeamGroupID != "" {
		if err := n.send(ctx, n.opts.TeamGroupID+"@g.us", n.teamLoginMessage(merchant, phone)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *GreenAPINotifier) send(ctx context.Context, chatID, message string) error {
	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", n.opts.BaseURL, n.opts.InstanceID, n.opts.Token)
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(greenAPIMessage{ChatID: chatID, Message: message}).
		Post(url)
	if err != nil {
		n.log.Error("[GreenAPI] 发送失败", zap.String("chat_id", chatID), zap.Error(err))
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		n.log.Error("[GreenAPI] 发送返回异常", zap.String("chat_id", chatID), zap.Int("status", resp.StatusCode()))
		return net.NewStatusError(resp.StatusCode(), resp.String())
	}
	n.log.Info("[GreenAPI] 消息已发送", zap.String("chat_id", chatID))
	return nil
}

// ==================== 通知去重 ====================

// NotificationService 同一事件只通知一次
type NotificationService struct {
	notificationRepo repository.NotificationRepository
	merchantRepo     repository.MerchantRepository
	notifier         Notifier
	managerPhone     string
	log              *zap.Logger
}

func NewNotificationService(
	notificationRepo repository.NotificationRepository,
	merchantRepo repository.MerchantRepository,
	notifier Notifier,
	managerPhone string,
	log *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		merchantRepo:     merchantRepo,
		notifier:         notifier,
		managerPhone:     managerPhone,
		log:              log.With(zap.String("component", "notification")),
	}
}

// ReportIncorrectLogin 记录登录异常；首次出现时发送通知
// 返回本次是否发出了通知
func (s *NotificationService) ReportIncorrectLogin(ctx context.Context, merchant *model.Merchant) (bool, error) {
	record := &model.UserNotification{
		MerchantID:   merchant.ID,
		MessageType:  model.MessageTypeIncorrectLogin,
		MessageLevel: model.MessageLevelError,
		MessageText:  ClientLoginMessage(s.managerPhone),
	}
	created, err := s.notificationRepo.CreateIfAbsent(ctx, record)
	if err != nil {
		return false, err
	}
	if !created {
		s.log.Debug("[Notification] 登录异常已通知过", zap.Int64("merchant_id", merchant.ID))
		return false, nil
	}

	if err := s.notifier.NotifyIncorrectLogin(ctx, merchant); err != nil {
		s.log.Error("[Notification] 发送登录异常通知失败", zap.Int64("merchant_id", merchant.ID), zap.Error(err))
	} else if err := s.notificationRepo.MarkDelivered(ctx, record.ID); err != nil {
		s.log.Warn("[Notification] 标记已送达失败", zap.Int64("notification_id", record.ID), zap.Error(err))
	}

	if err := s.merchantRepo.SetInformedAboutLoginProblems(ctx, merchant.ID, true); err != nil {
		return true, err
	}
	merchant.InformedAboutLoginProblems = true
	return true, nil
}

// ResolveLoginProblems 登录恢复后清除标记，下次异常重新通知
func (s *NotificationService) ResolveLoginProblems(ctx context.Context, merchant *model.Merchant) error {
	if !merchant.InformedAboutLoginProblems {
		return nil
	}
	if _, err := s.notificationRepo.Resolve(ctx, merchant.ID, model.MessageTypeIncorrectLogin); err != nil {
		return err
	}
	if err := s.merchantRepo.SetInformedAboutLoginProblems(ctx, merchant.ID, false); err != nil {
		return err
	}
	merchant.InformedAboutLoginProblems = false
	s.log.Info("[Notification] 登录已恢复", zap.Int64("merchant_id", merchant.ID))
	return nil
}
