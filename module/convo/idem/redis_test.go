package idem

import (
	"testing"

	convomodel "PConvo/module/convo/model"
)

func TestCollectDispositionKeepsPendingIndexed(t *testing.T) {
	archive, unindex := collectDisposition(&convomodel.Outcome{State: convomodel.IdemStatePending})
	if archive || unindex {
		t.Fatalf("pending: archive=%v unindex=%v, want stay indexed for the reaper", archive, unindex)
	}

	for _, st := range []string{convomodel.IdemStateCommitted, convomodel.IdemStateFailed} {
		archive, unindex = collectDisposition(&convomodel.Outcome{State: st})
		if !archive || !unindex {
			t.Fatalf("%s: archive=%v unindex=%v, want archive and unindex", st, archive, unindex)
		}
	}

	// 值被物理 TTL 清掉：无可归档，但索引要清
	archive, unindex = collectDisposition(nil)
	if archive || !unindex {
		t.Fatalf("nil: archive=%v unindex=%v, want unindex only", archive, unindex)
	}
}
