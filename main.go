package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	config "PConvo/global/config"
	"PConvo/logger"
	"PConvo/module/convo/command"
	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/idem"
	"PConvo/module/convo/inboxproj"
	"PConvo/module/convo/member"
	"PConvo/module/convo/receipt"
	"PConvo/module/convo/resync"
	"PConvo/module/convo/rollout"
	"PConvo/module/convo/seq"
	"PConvo/service/api"
	"PConvo/service/bus"
	kafkax "PConvo/service/dispatcher/kafka"
	mgoSrv "PConvo/service/mgo"
	"PConvo/service/natsx"
	redisSrv "PConvo/service/storage/redis"
	"PConvo/tools/security"
)

func main() {
	defer logger.Sync()
	config.ConfigAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Global

	// 存储后端：默认全内存单机可跑；Mongo/Redis 打开后逐层替换
	var (
		log        eventlog.Store       = eventlog.NewMemStore()
		alloc      seq.Allocator        = seq.NewMemAllocator()
		ledger     idem.Ledger          = idem.NewMemLedger()
		receipts   receipt.Tracker      = receipt.NewMemTracker()
		inboxStore inboxproj.Store      = inboxproj.NewMemStore()
		members    member.Registry      = member.NewMemRegistry()
		journal    rollout.JournalStore = rollout.NewMemJournal()
		throttle   resync.Throttle      = resync.NewMemThrottle(cfg.ThrottleWindow, cfg.ThrottleBurst)
	)

	if cfg.Mongo.Enable {
		db := mgoSrv.GetDB()

		elog := eventlog.NewMongoStore(db)
		if err := elog.EnsureIndexes(ctx); err != nil {
			logger.Errorf("event log indexes: %v", err)
		}
		log = elog

		rec := receipt.NewMongoTracker(db)
		if err := rec.EnsureIndexes(ctx); err != nil {
			logger.Errorf("receipt indexes: %v", err)
		}
		receipts = rec

		ibx := inboxproj.NewMongoStore(db)
		if err := ibx.EnsureIndexes(ctx); err != nil {
			logger.Errorf("inbox indexes: %v", err)
		}
		inboxStore = ibx

		reg := member.NewMongoRegistry(db)
		if err := reg.EnsureIndexes(ctx); err != nil {
			logger.Errorf("member indexes: %v", err)
		}
		members = reg

		jnl := rollout.NewMongoJournal(db)
		if err := jnl.EnsureIndexes(ctx); err != nil {
			logger.Errorf("journal indexes: %v", err)
		}
		journal = jnl
	}

	if cfg.Redis.Enable {
		rdb := redisSrv.GetUniversal()
		ledger = idem.NewRedisLedger(rdb)
		throttle = resync.NewRedisThrottle(rdb, cfg.ThrottleWindow, cfg.ThrottleBurst)
		if cfg.Mongo.Enable {
			// 段式发号：Redis 段内原子，Mongo 持久回源
			alloc = &seq.RedisAllocator{Rdb: rdb, DAO: &seq.DAO{DB: mgoSrv.GetDB()}}
		}
	}

	// 已提交事件扇出：进程内总线必开（WS 推送），NATS/Kafka 按需
	memBus := bus.NewMemBus()
	sinks := []bus.Publisher{memBus}
	if cfg.Nats.Enable {
		np, err := natsx.NewEventPublisher(natsx.Config{Servers: cfg.Nats.Servers})
		if err != nil {
			logger.Errorf("nats publisher: %v", err)
		} else {
			defer np.Close()
			sinks = append(sinks, np)
		}
	}
	if cfg.Kafka.Enable {
		kp, err := kafkax.NewEventProducer(kafkax.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Version: cfg.Kafka.Version,
		})
		if err != nil {
			logger.Errorf("kafka producer: %v", err)
		} else {
			defer kp.Close() //nolint:errcheck
			sinks = append(sinks, kp)
		}
	}

	toggle := rollout.NewToggle(journal)
	toggle.SetCanaryPercent(cfg.CanaryPercent)

	proc := &command.Processor{
		Log:        log,
		Seq:        alloc,
		Ledger:     ledger,
		Members:    members,
		Gate:       toggle,
		Pub:        &bus.Fanout{Sinks: sinks},
		IdemTTL:    cfg.IdemHotTTL,
		MaxBodyLen: cfg.MaxBodyLen,
	}

	projector := &inboxproj.Projector{
		Log:      log,
		Store:    inboxStore,
		Members:  members,
		Receipts: receipts,
	}
	projector.Run(ctx)

	var archiver idem.Archiver = idem.NopArchiver{}
	if cfg.PG.Enable {
		pg, err := idem.NewPGArchiver(ctx, cfg.PG.DSN)
		if err != nil {
			logger.Errorf("pg archiver: %v", err)
		} else {
			defer pg.Close()
			archiver = pg
		}
	}
	reaper := &idem.Reaper{
		Ledger:     ledger,
		Archiver:   archiver,
		PendingTTL: cfg.IdemPendingTTL,
		Interval:   cfg.ReaperInterval,
	}
	reaper.Run(ctx)

	srv := &api.Server{
		Proc: proc,
		Resyncer: &resync.Service{
			Log:      log,
			Receipts: receipts,
			Members:  members,
			Throttle: throttle,
			MaxPage:  cfg.ResyncMaxPage,
		},
		Receipts:   receipts,
		Log:        log,
		Projector:  projector,
		InboxStore: inboxStore,
		Toggle:     toggle,
		Bus:        memBus,
		Members:    members,
		JwtOpts:    security.DefaultOptions(config.GetJwtSecret()),
	}

	logger.Infof("pconvo listening on :%d", cfg.Port)
	if err := srv.Run(cfg.Port); err != nil {
		logger.Errorf("http server: %v", err)
	}
}
