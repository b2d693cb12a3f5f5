package presence_test

import (
	"testing"
	"time"

	model "github.com/qiwen/lan-chat/internal/model/presence"
	presence "github.com/qiwen/lan-chat/internal/service/presence"
)

func participant(id, name string) model.Participant {
	return model.Participant{ConnectionID: id, DisplayName: name, JoinedAt: time.Now().UTC()}
}

func TestUpsertAndSnapshotOrder(t *testing.T) {
	svc := presence.NewService()
	svc.Upsert(participant("c1", "Ada"))
	svc.Upsert(participant("c2", "Linus"))
	svc.Upsert(participant("c3", "Grace"))

	got := svc.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(got))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if got[i].ConnectionID != want {
			t.Fatalf("position %d: got %s want %s", i, got[i].ConnectionID, want)
		}
	}
}

func TestUpsertReplacesSameConnection(t *testing.T) {
	svc := presence.NewService()
	svc.Upsert(participant("c1", "Ada"))
	svc.Upsert(participant("c2", "Linus"))
	svc.Upsert(participant("c1", "Ada-Renamed"))

	got := svc.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 participants after replace, got %d", len(got))
	}
	if got[0].ConnectionID != "c1" || got[0].DisplayName != "Ada-Renamed" {
		t.Fatalf("replaced entry not in original position: %+v", got[0])
	}
}

func TestRemove(t *testing.T) {
	svc := presence.NewService()
	svc.Upsert(participant("c1", "Ada"))
	svc.Upsert(participant("c2", "Linus"))

	svc.Remove("c1")
	svc.Remove("missing")

	got := svc.Snapshot()
	if len(got) != 1 || got[0].ConnectionID != "c2" {
		t.Fatalf("unexpected roster after removal: %+v", got)
	}
}

func TestUpsertIgnoresEmptyID(t *testing.T) {
	svc := presence.NewService()
	svc.Upsert(model.Participant{DisplayName: "ghost"})
	if svc.Len() != 0 {
		t.Fatalf("expected empty roster, got %d", svc.Len())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	svc := presence.NewService()
	svc.Upsert(participant("c1", "Ada"))

	snap := svc.Snapshot()
	snap[0].DisplayName = "mutated"

	if svc.Snapshot()[0].DisplayName != "Ada" {
		t.Fatal("snapshot mutation leaked into roster")
	}
}
