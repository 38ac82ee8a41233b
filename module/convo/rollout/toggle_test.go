package rollout

import (
	"context"
	"testing"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"
)

func TestKillSwitchOverridesStage(t *testing.T) {
	tg := NewToggle(NewMemJournal())
	ctx := context.Background()

	if err := tg.Allows("alice"); err != nil {
		t.Fatalf("stage on should allow: %v", err)
	}
	if err := tg.SetKill(ctx, true, "ops", "incident"); err != nil {
		t.Fatal(err)
	}
	if err := tg.Allows("alice"); errs.CodeOf(err) != errs.CodeRolloutDisabled {
		t.Fatalf("kill engaged = %v, want rollout disabled", err)
	}
	if err := tg.SetKill(ctx, false, "ops", "resolved"); err != nil {
		t.Fatal(err)
	}
	if err := tg.Allows("alice"); err != nil {
		t.Fatalf("after kill lifted: %v", err)
	}
}

func TestStageOffRejects(t *testing.T) {
	tg := NewToggle(NewMemJournal())
	ctx := context.Background()
	if err := tg.SetStage(ctx, convomodel.StageOff, "ops", "pause"); err != nil {
		t.Fatal(err)
	}
	if err := tg.Allows("alice"); errs.CodeOf(err) != errs.CodeRolloutDisabled {
		t.Fatalf("stage off = %v, want rollout disabled", err)
	}
}

func TestShadowAllowsAll(t *testing.T) {
	tg := NewToggle(NewMemJournal())
	if err := tg.SetStage(context.Background(), convomodel.StageShadow, "ops", "shadow run"); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"a", "b", "c", "d"} {
		if err := tg.Allows(u); err != nil {
			t.Fatalf("shadow rejected %s: %v", u, err)
		}
	}
}

func TestCanaryDeterministic(t *testing.T) {
	tg := NewToggle(NewMemJournal())
	if err := tg.SetStage(context.Background(), convomodel.StageCanary, "ops", "10%"); err != nil {
		t.Fatal(err)
	}
	tg.SetCanaryPercent(50)

	// 同一 actor 的判定必须稳定
	first := tg.Allows("alice") == nil
	for i := 0; i < 10; i++ {
		if (tg.Allows("alice") == nil) != first {
			t.Fatal("canary decision flapped for same actor")
		}
	}

	// 100% 放行、0% 全拒
	tg.SetCanaryPercent(100)
	if err := tg.Allows("anyone"); err != nil {
		t.Fatalf("canary 100%% rejected: %v", err)
	}
	tg.SetCanaryPercent(0)
	if err := tg.Allows("anyone"); errs.CodeOf(err) != errs.CodeRolloutDisabled {
		t.Fatalf("canary 0%% = %v, want rollout disabled", err)
	}
}

func TestInvalidStageRejected(t *testing.T) {
	tg := NewToggle(NewMemJournal())
	err := tg.SetStage(context.Background(), "yolo", "ops", "typo")
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("err = %v, want validation code", err)
	}
}

func TestJournalRecordsTransitions(t *testing.T) {
	j := NewMemJournal()
	tg := NewToggle(j)
	ctx := context.Background()

	if err := tg.SetStage(ctx, convomodel.StageCanary, "ops", "start canary"); err != nil {
		t.Fatal(err)
	}
	if err := tg.SetKill(ctx, true, "ops", "abort"); err != nil {
		t.Fatal(err)
	}

	entries, err := j.ListEntries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(entries))
	}
	// 新→旧
	last := entries[0]
	if !last.KillTo || last.KillFrom {
		t.Fatalf("latest entry kill flags wrong: %+v", last)
	}
	if last.EntryID == "" || last.At.IsZero() {
		t.Fatalf("entry metadata missing: %+v", last)
	}
	stageEntry := entries[1]
	if stageEntry.StageFrom != convomodel.StageOn || stageEntry.StageTo != convomodel.StageCanary {
		t.Fatalf("stage transition wrong: %+v", stageEntry)
	}
	if stageEntry.Actor != "ops" || stageEntry.Reason != "start canary" {
		t.Fatalf("audit fields wrong: %+v", stageEntry)
	}
}
