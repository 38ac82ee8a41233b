package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PConvo/logger"
	"PConvo/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config represents the MongoDB configuration.
type Config struct {
	Uri         string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
}

type Manager struct {
	mu        sync.RWMutex
	db        *mongo.Database
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
	lastErr   atomic.Value // error
}

var globalMgr = Manager{readyCh: make(chan struct{})}

func buildOptions(cfg *Config) (*options.ClientOptions, error) {
	if cfg.Uri == "" {
		return nil, errs.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.Uri)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts, nil
}

func connect(ctx context.Context, cfg *Config) (*mongo.Database, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo connect", "uri", cfg.Uri)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, errs.Wrap(err)
	}
	return cli.Database(cfg.Database), nil
}

// StartAsync: 后台带退避重连，首次连上时 close readyCh。
func StartAsync(ctx context.Context, cfg *Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
		)
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			db, err := connect(ctx, cfg)
			if err == nil {
				globalMgr.mu.Lock()
				globalMgr.db = db
				globalMgr.mu.Unlock()
				globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
				logger.Infof("mongo ready db=%s", cfg.Database)
				return
			}
			globalMgr.lastErr.Store(err)

			// 退避 + 抖动
			backoff := baseBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
			timer := time.NewTimer(backoff - jitter/2)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if attempt < 6 {
				attempt++
			}
		}
	}()
}

// WaitReady 阻塞到首次连接成功或超时。
func WaitReady(timeout time.Duration) error {
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-time.After(timeout):
		if e, ok := globalMgr.lastErr.Load().(error); ok {
			return errs.WrapMsg(e, "mongo not ready")
		}
		return errs.New("mongo not ready after %s", timeout)
	}
}

// GetDB 获取数据库句柄；未就绪时 panic（与 Redis 管理器一致）
func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not initialized, call StartAsync + WaitReady first")
	}
	return globalMgr.db
}
