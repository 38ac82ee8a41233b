package model

import "time"

// 灰度阶段。kill switch 独立于 stage，可随时一键切断写路径。
const (
	StageOff    = "off"
	StageShadow = "shadow"
	StageCanary = "canary"
	StageOn     = "on"
)

// JournalEntry 开关流转审计：谁、何时、为什么。只追加，不修改。
type JournalEntry struct {
	EntryID   string    `bson:"entry_id"` // uuid
	StageFrom string    `bson:"stage_from"`
	StageTo   string    `bson:"stage_to"`
	KillFrom  bool      `bson:"kill_from"`
	KillTo    bool      `bson:"kill_to"`
	Actor     string    `bson:"actor"`
	Reason    string    `bson:"reason"`
	At        time.Time `bson:"at"`
}

func (*JournalEntry) GetTableName() string { return "convo_rollout_journal" }
