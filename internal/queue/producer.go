package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskMessage 分类任务消息
// Attempt 记录重试次数，重新发布时由调用方递增
// SubmittedAt 在发布时打点，消费端用它计算排队耗时
type TaskMessage struct {
	TaskID      string `json:"task_id"`
	APKName     string `json:"apk_name"`
	APKPath     string `json:"apk_path"`
	Attempt     int    `json:"attempt,omitempty"`
	SubmittedAt int64  `json:"submitted_at,omitempty"`
}

// Validate 检查消息必要字段
func (m *TaskMessage) Validate() error {
	if m.TaskID == "" {
		return errors.New("任务消息缺少 task_id")
	}
	if m.APKPath == "" {
		return errors.New("任务消息缺少 apk_path")
	}
	return nil
}

// Producer 分类任务生产者
type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// PublishTask 发布分类任务
// SubmittedAt 未设置时补上当前时间
func (p *Producer) PublishTask(ctx context.Context, msg *TaskMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid task message: %w", err)
	}
	if msg.SubmittedAt == 0 {
		msg.SubmittedAt = time.Now().Unix()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.mq.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Error("Failed to publish task")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":  msg.TaskID,
		"apk_name": msg.APKName,
		"attempt":  msg.Attempt,
	}).Info("Classification task published to queue")

	return nil
}

// GetQueueSize 获取队列积压消息数
func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.mq.GetQueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
