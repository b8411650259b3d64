package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// TaskHandler 分类任务处理函数
// 返回 nil 时消息被 ack；返回错误时消息被拒绝且不重新入队
// (重试由处理函数自行重新发布，避免坏消息在队列里打转)
type TaskHandler func(ctx context.Context, msg *TaskMessage) error

// Consumer 分类任务消费者
// 持有固定数量的消费协程，连接断开时整体停止并在重连后重启
type Consumer struct {
	mq            *RabbitMQ
	logger        *logrus.Logger
	handler       TaskHandler
	workerPool    int
	stopChan      chan struct{}
	workerWg      sync.WaitGroup
	activeWorkers int32
	mu            sync.Mutex
	running       bool
	cancelFunc    context.CancelFunc
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, handler TaskHandler, workerPool int, logger *logrus.Logger) *Consumer {
	if workerPool <= 0 {
		workerPool = 1
	}

	return &Consumer{
		mq:         mq,
		logger:     logger,
		handler:    handler,
		workerPool: workerPool,
		stopChan:   make(chan struct{}, 1),
	}
}

// Start 启动消费
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}
	c.running = true
	c.mu.Unlock()

	msgs, err := c.mq.Consume()
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for i := 0; i < c.workerPool; i++ {
		c.workerWg.Add(1)
		go c.consumeLoop(workerCtx, i, msgs)
	}

	c.logger.Infof("Task consumer started with %d workers", c.workerPool)

	c.mq.StartConnectionWatcher()
	go c.handleReconnect(ctx)

	return nil
}

// consumeLoop 单个消费协程的主循环
func (c *Consumer) consumeLoop(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.workerWg.Done()
	atomic.AddInt32(&c.activeWorkers, 1)
	defer atomic.AddInt32(&c.activeWorkers, -1)

	for {
		select {
		case <-ctx.Done():
			c.logger.Infof("Consumer worker %d stopped by context", id)
			return
		case <-c.stopChan:
			c.logger.Infof("Consumer worker %d stopped by signal", id)
			return
		case delivery, ok := <-msgs:
			if !ok {
				c.logger.Warnf("Consumer worker %d: message channel closed", id)
				return
			}

			c.processDelivery(ctx, id, delivery)
		}
	}
}

// processDelivery 处理单条投递
// 解码失败的消息直接丢弃（重新入队只会原样失败）
func (c *Consumer) processDelivery(ctx context.Context, workerID int, delivery amqp.Delivery) {
	startTime := time.Now()

	var msg TaskMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.WithError(err).Error("Failed to unmarshal task message, dropping")
		delivery.Nack(false, false)
		return
	}

	fields := logrus.Fields{
		"worker_id": workerID,
		"task_id":   msg.TaskID,
		"apk_name":  msg.APKName,
	}
	if msg.Attempt > 0 {
		fields["attempt"] = msg.Attempt
	}
	if msg.SubmittedAt > 0 {
		fields["queue_wait_s"] = time.Since(time.Unix(msg.SubmittedAt, 0)).Seconds()
	}
	c.logger.WithFields(fields).Info("Classification task received")

	if err := c.handler(ctx, &msg); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"worker_id": workerID,
			"task_id":   msg.TaskID,
		}).Error("Classification task failed")

		// 失败不重新入队，重试路径是处理函数重新发布带递增 Attempt 的新消息
		delivery.Nack(false, false)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.WithError(err).Error("Failed to acknowledge message")
	}

	c.logger.WithFields(logrus.Fields{
		"worker_id":  workerID,
		"task_id":    msg.TaskID,
		"duration_s": time.Since(startTime).Seconds(),
	}).Info("Classification task acked")
}

// handleReconnect 连接断开后停止消费协程，重连成功后重启消费
func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.mq.GetReconnectChan():
			if !ok {
				c.logger.Info("Reconnect channel closed, stopping reconnect handler")
				return
			}

			c.logger.Warn("Connection lost, attempting to reconnect...")

			c.stopWorkers()

			if err := c.mq.Reconnect(); err != nil {
				c.logger.WithError(err).Error("Failed to reconnect, will retry on next signal")
				continue
			}

			if err := c.restart(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to restart consumer")
			}
		}
	}
}

// stopWorkers 停止所有消费协程，等待在途任务结束
func (c *Consumer) stopWorkers() {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("All consumer workers stopped gracefully")
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timeout waiting for consumer workers to stop")
	}
}

// restart 重连成功后的内部重启入口
func (c *Consumer) restart(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return c.Start(ctx)
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.logger.Info("Stopping task consumer...")

	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.running = false
	c.mu.Unlock()

	select {
	case c.stopChan <- struct{}{}:
	default:
	}

	c.workerWg.Wait()
	c.logger.Info("Task consumer stopped")
}

// GetActiveWorkers 获取活跃消费协程数
func (c *Consumer) GetActiveWorkers() int {
	return int(atomic.LoadInt32(&c.activeWorkers))
}

// IsRunning 检查消费者是否在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
