package support

import "testing"

func TestQueue_UpsertIdempotent(t *testing.T) {
	q := NewQueue()

	if !q.Upsert(QueueItem{RoomID: "r1", UserName: "Ada"}) {
		t.Fatal("first upsert should add")
	}
	if q.Upsert(QueueItem{RoomID: "r1", UserName: "Ada L.", UserNickname: "ada"}) {
		t.Fatal("second upsert should update in place")
	}

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	it, ok := q.Get("r1")
	if !ok {
		t.Fatal("r1 should be queued")
	}
	if it.UserName != "Ada L." || it.UserNickname != "ada" {
		t.Errorf("display fields not refreshed: %+v", it)
	}
}

func TestQueue_UpsertPreservesPosition(t *testing.T) {
	q := NewQueue()
	q.Upsert(QueueItem{RoomID: "r1"})
	q.Upsert(QueueItem{RoomID: "r2"})
	q.Upsert(QueueItem{RoomID: "r1", UserName: "renamed"})

	items := q.Items()
	if items[0].RoomID != "r1" || items[1].RoomID != "r2" {
		t.Errorf("order changed: %+v", items)
	}
}

func TestQueue_MergeSkipsExistingAndExcluded(t *testing.T) {
	q := NewQueue()
	q.Upsert(QueueItem{RoomID: "r1", UserName: "first"})

	added := q.Merge([]QueueItem{
		{RoomID: "r1", UserName: "stale"},
		{RoomID: "r2"},
		{RoomID: "r3"},
		{RoomID: ""},
	}, func(roomID string) bool { return roomID == "r3" })

	if added != 1 {
		t.Fatalf("Merge added %d, want 1", added)
	}
	items := q.Items()
	if len(items) != 2 || items[0].RoomID != "r1" || items[1].RoomID != "r2" {
		t.Errorf("unexpected queue after merge: %+v", items)
	}
	if items[0].UserName != "first" {
		t.Error("merge must keep existing entries untouched")
	}
}

func TestQueue_Remove(t *testing.T) {
	q := NewQueue()
	q.Upsert(QueueItem{RoomID: "r1"})
	q.Upsert(QueueItem{RoomID: "r2"})

	if !q.Remove("r1") {
		t.Fatal("Remove should report presence")
	}
	if q.Remove("r1") {
		t.Fatal("second Remove should report absence")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}
