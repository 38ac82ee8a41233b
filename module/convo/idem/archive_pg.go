package idem

import (
	"context"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGArchiver 冷端归档：热窗口过期的幂等结果批量落 Postgres，供离线排障
// （“这个序号为什么落在这里”需要 device_id + client_write_seq + hash 留痕）。
type PGArchiver struct {
	Pool *pgxpool.Pool
}

const createArchiveTable = `
CREATE TABLE IF NOT EXISTS convo_idem_archive (
  key              TEXT PRIMARY KEY,
  actor_id         TEXT NOT NULL,
  device_id        TEXT NOT NULL,
  client_write_seq BIGINT NOT NULL,
  command_type     TEXT NOT NULL,
  payload_hash     TEXT NOT NULL,
  state            TEXT NOT NULL,
  message_id       BIGINT,
  seq              BIGINT,
  server_time_ms   BIGINT,
  archived_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func NewPGArchiver(ctx context.Context, dsn string) (*PGArchiver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "pg archive pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err)
	}
	if _, err := pool.Exec(ctx, createArchiveTable); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "pg archive ddl")
	}
	return &PGArchiver{Pool: pool}, nil
}

func (a *PGArchiver) Archive(ctx context.Context, outs []*convomodel.Outcome) error {
	if len(outs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range outs {
		batch.Queue(`
INSERT INTO convo_idem_archive
  (key, actor_id, device_id, client_write_seq, command_type, payload_hash, state, message_id, seq, server_time_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (key) DO NOTHING`,
			o.Key, o.ActorID, o.DeviceID, o.WriteSeq, o.CommandType,
			o.PayloadHash, o.State, o.MessageID, o.Seq, o.ServerTimeMS)
	}
	br := a.Pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()
	for range outs {
		if _, err := br.Exec(); err != nil {
			return errs.WrapMsg(err, "pg archive batch")
		}
	}
	return nil
}

func (a *PGArchiver) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
