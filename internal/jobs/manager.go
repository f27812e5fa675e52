// Package jobs は Asynq によるバックグラウンドジョブの投入と実行を担います。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/lyntro/internal/config"
	"github.com/yourusername/lyntro/internal/store"
)

const (
	taskTypePruneAttempts = "attempts:prune"
	taskTypeFlushViews    = "views:flush"
	taskTypeOrderNotify   = "order:notify"
)

// Store はジョブが必要とするストア操作です。
type Store interface {
	PruneAttempts(ctx context.Context, before time.Time) (int64, error)
	AddProductViews(ctx context.Context, id int64, delta int64) error
	SendMessage(ctx context.Context, senderID, receiverID int64, productID *int64, body string) error
}

// ViewDrainer は Redis 上の閲覧数カウンタを回収します。
type ViewDrainer interface {
	Drain(ctx context.Context) (map[int64]int64, error)
}

// Manager はジョブの投入とワーカーの起動を担います。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	store     Store
	views     ViewDrainer
	logger    *log.Logger
}

// orderNotifyPayload は出品者への注文通知ジョブのペイロードです。
type orderNotifyPayload struct {
	BuyerID int64                `json:"buyerId"`
	Orders  []store.CreatedOrder `json:"orders"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, jobStore Store, views ViewDrainer, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if jobStore == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default":     1,
				"maintenance": 1,
			},
		},
	)
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:       cfg,
		client:    client,
		server:    server,
		scheduler: scheduler,
		mux:       mux,
		store:     jobStore,
		views:     views,
		logger:    logger,
	}
	mux.HandleFunc(taskTypePruneAttempts, manager.handlePruneAttempts)
	mux.HandleFunc(taskTypeFlushViews, manager.handleFlushViews)
	mux.HandleFunc(taskTypeOrderNotify, manager.handleOrderNotify)

	if _, err := scheduler.Register("@every 1h",
		asynq.NewTask(taskTypePruneAttempts, nil, asynq.Queue("maintenance"))); err != nil {
		return nil, fmt.Errorf("failed to register prune schedule: %w", err)
	}
	if _, err := scheduler.Register("@every 1m",
		asynq.NewTask(taskTypeFlushViews, nil, asynq.Queue("maintenance"))); err != nil {
		return nil, fmt.Errorf("failed to register view flush schedule: %w", err)
	}

	return manager, nil
}

// StartWorkers は Asynq のサーバーとスケジューラをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.printf("asynq server stopped with error: %v", err)
		}
	}()
	go func() {
		if err := m.scheduler.Run(); err != nil {
			m.printf("asynq scheduler stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// NotifyOrders は注文通知ジョブをキューに投入します。
func (m *Manager) NotifyOrders(ctx context.Context, buyerID int64, orders []store.CreatedOrder) error {
	if len(orders) == 0 {
		return nil
	}

	body, err := json.Marshal(&orderNotifyPayload{
		BuyerID: buyerID,
		Orders:  orders,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeOrderNotify, body, asynq.Queue("default"))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return err
	}
	return nil
}

// handlePruneAttempts は保持期間を過ぎたログイン試行履歴を削除します。
func (m *Manager) handlePruneAttempts(ctx context.Context, task *asynq.Task) error {
	before := time.Now().Add(-m.cfg.AttemptRetention)
	deleted, err := m.store.PruneAttempts(ctx, before)
	if err != nil {
		return err
	}
	if deleted > 0 {
		m.printf("pruned %d login attempt records", deleted)
	}
	return nil
}

// handleFlushViews は Redis 上の閲覧数カウンタをデータベースに反映します。
func (m *Manager) handleFlushViews(ctx context.Context, task *asynq.Task) error {
	if m.views == nil {
		return nil
	}

	counts, err := m.views.Drain(ctx)
	if err != nil {
		return err
	}

	for productID, delta := range counts {
		if err := m.store.AddProductViews(ctx, productID, delta); err != nil {
			m.printf("failed to flush views product=%d: %v", productID, err)
		}
	}
	return nil
}

// handleOrderNotify は購入者から出品者への注文通知メッセージを送信します。
func (m *Manager) handleOrderNotify(ctx context.Context, task *asynq.Task) error {
	var payload orderNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	for _, order := range payload.Orders {
		productID := order.ProductID
		body := fmt.Sprintf("「%s」に注文が入りました（注文番号: %s、数量: %d）。発送の準備をお願いします。",
			order.ProductTitle, order.Reference, order.Quantity)
		if err := m.store.SendMessage(ctx, payload.BuyerID, order.SellerID, &productID, body); err != nil {
			return fmt.Errorf("failed to notify seller for order %s: %w", order.Reference, err)
		}
	}
	return nil
}

func (m *Manager) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
