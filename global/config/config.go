package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"PConvo/logger"
	mgoSrv "PConvo/service/mgo"
	redis "PConvo/service/storage/redis"
	ids "PConvo/tools/ids"
)

// AppConfig 进程级配置。默认值可跑通单机内存模式；
// 生产按环境变量逐项覆盖（PCONVO_ 前缀）。
type AppConfig struct {
	Port   int
	NodeID int64

	JwtSecret string
	JwtTTL    time.Duration

	// 幂等账本
	IdemHotTTL     time.Duration // committed/failed 热窗口，过期归档
	IdemPendingTTL time.Duration // pending 超时视为 abandoned
	ReaperInterval time.Duration

	// 重同步
	ResyncMaxPage  int
	ThrottleWindow time.Duration
	ThrottleBurst  int

	// 写命令
	MaxBodyLen    int
	CanaryPercent uint32

	Redis RedisConfig
	Mongo MongoConfig
	PG    PGConfig
	Nats  NatsConfig
	Kafka KafkaConfig
}

type RedisConfig struct {
	Enable   bool
	Addr     string
	Password string
	DB       int
}

type MongoConfig struct {
	Enable      bool
	Uri         string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
}

type PGConfig struct {
	Enable bool
	DSN    string
}

type NatsConfig struct {
	Enable  bool
	Servers []string
}

type KafkaConfig struct {
	Enable  bool
	Brokers []string
	Topic   string
	Version string
}

var Global = AppConfig{
	Port:   8080,
	NodeID: 100,

	JwtSecret: "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=",
	JwtTTL:    2 * time.Hour,

	IdemHotTTL:     24 * time.Hour,
	IdemPendingTTL: 30 * time.Second,
	ReaperInterval: 30 * time.Second,

	ResyncMaxPage:  200,
	ThrottleWindow: 10 * time.Second,
	ThrottleBurst:  30,

	MaxBodyLen:    8 * 1024,
	CanaryPercent: 10,

	Redis: RedisConfig{Addr: "127.0.0.1:6379"},
	Mongo: MongoConfig{
		Uri:         "mongodb://localhost:27017",
		Database:    "pconvo",
		MaxPoolSize: 20,
	},
	Nats:  NatsConfig{Servers: []string{"nats://127.0.0.1:4222"}},
	Kafka: KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "convo-events"},
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// LoadEnv 用环境变量覆盖关键项。
func LoadEnv() {
	envInt("PCONVO_PORT", &Global.Port)
	envStr("PCONVO_JWT_SECRET", &Global.JwtSecret)

	envBool("PCONVO_REDIS_ENABLE", &Global.Redis.Enable)
	envStr("PCONVO_REDIS_ADDR", &Global.Redis.Addr)
	envStr("PCONVO_REDIS_PASSWORD", &Global.Redis.Password)

	envBool("PCONVO_MONGO_ENABLE", &Global.Mongo.Enable)
	envStr("PCONVO_MONGO_URI", &Global.Mongo.Uri)
	envStr("PCONVO_MONGO_DATABASE", &Global.Mongo.Database)
	envStr("PCONVO_MONGO_USERNAME", &Global.Mongo.Username)
	envStr("PCONVO_MONGO_PASSWORD", &Global.Mongo.Password)

	envBool("PCONVO_PG_ENABLE", &Global.PG.Enable)
	envStr("PCONVO_PG_DSN", &Global.PG.DSN)

	envBool("PCONVO_NATS_ENABLE", &Global.Nats.Enable)
	envBool("PCONVO_KAFKA_ENABLE", &Global.Kafka.Enable)
}

func GetJwtSecret() []byte { return []byte(Global.JwtSecret) }

func ConfigAll() {
	LoadEnv()
	ConfigIds()
	if Global.Redis.Enable {
		ConfigRedis()
	}
	if Global.Mongo.Enable {
		ConfigMgo()
	}
}

func ConfigIds() {
	logger.Infof("配置id生成 node=%d", Global.NodeID)
	ids.SetNodeID(Global.NodeID)
}

func ConfigRedis() {
	err := redis.InitRedis(redis.Config{
		Addr:     Global.Redis.Addr,
		Password: Global.Redis.Password,
		DB:       Global.Redis.DB,
	})
	if err != nil {
		logger.Errorf("init redis: %v", err)
	}
}

func ConfigMgo() {
	mgoSrv.StartAsync(context.Background(), &mgoSrv.Config{
		Uri:         Global.Mongo.Uri,
		Database:    Global.Mongo.Database,
		Username:    Global.Mongo.Username,
		Password:    Global.Mongo.Password,
		AuthSource:  Global.Mongo.AuthSource,
		MaxPoolSize: Global.Mongo.MaxPoolSize,
	})
	if err := mgoSrv.WaitReady(15 * time.Second); err != nil {
		logger.Errorf("mongo not ready: %v", err)
	}
}
