package mq

import (
	"fmt"

	"escrowpay/internal/config"

	"github.com/IBM/sarama"
)

// Publisher 结算事件的 Kafka 出口
//
// 结算结果、提现结果都经发件箱走这里投递。资金事件不容丢，
// 所以用同步生产者并等待全部副本确认。
type Publisher struct {
	producer sarama.SyncProducer
}

func NewPublisher(cfg *config.KafkaConfig) (*Publisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return &Publisher{producer: producer}, nil
}

func (p *Publisher) Publish(topic, key, payload string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(payload),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
