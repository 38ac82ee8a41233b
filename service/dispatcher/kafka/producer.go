package kafka

import (
	"context"
	"encoding/json"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	Version string   `json:"version"`
}

// EventProducer 把已提交事件投给 Kafka（离线索引、审计等重量级消费方）。
// key = stream_id，哈希分区保证同流事件落同一分区、分区内有序。
type EventProducer struct {
	topic string
	prod  sarama.SyncProducer
}

func buildConfig(version string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	kver := sarama.V2_8_0_0
	if version != "" {
		v, err := sarama.ParseKafkaVersion(version)
		if err != nil {
			return nil, errs.WrapMsg(err, "parse kafka version")
		}
		kver = v
	}
	cfg.Version = kver

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 10 * time.Second
	return cfg, nil
}

func NewEventProducer(c Config) (*EventProducer, error) {
	if c.Topic == "" {
		c.Topic = "convo-events"
	}
	cfg, err := buildConfig(c.Version)
	if err != nil {
		return nil, err
	}
	prod, err := sarama.NewSyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	return &EventProducer{topic: c.Topic, prod: prod}, nil
}

func (p *EventProducer) PublishEvent(_ context.Context, ev *convomodel.Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err)
	}
	_, _, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.StreamID),
		Value: sarama.ByteEncoder(buf),
	})
	return errs.WrapMsg(err, "kafka send", "stream", ev.StreamID)
}

func (p *EventProducer) Close() error {
	if p.prod != nil {
		return p.prod.Close()
	}
	return nil
}
