package natsx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Servers       []string      `json:"servers"`
	Name          string        `json:"name"`
	SubjectPrefix string        `json:"subject_prefix"`
	Timeout       time.Duration `json:"timeout"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
}

// EventPublisher 把已提交事件发到 convo.events.<stream_id>。
// 订阅方按流订阅即可拿到流内有序推送（同流写路径已串行）。
type EventPublisher struct {
	cfg Config
	nc  *nats.Conn
}

func NewEventPublisher(cfg Config) (*EventPublisher, error) {
	if cfg.Name == "" {
		cfg.Name = "pconvo"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "convo.events."
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect")
	}
	return &EventPublisher{cfg: cfg, nc: nc}, nil
}

func (p *EventPublisher) PublishEvent(_ context.Context, ev *convomodel.Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(p.nc.Publish(p.cfg.SubjectPrefix+ev.StreamID, buf))
}

func (p *EventPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain() //nolint:errcheck
	}
}
