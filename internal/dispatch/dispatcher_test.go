package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/notehub/internal/registry"
	"github.com/nao1215/notehub/pkg/event"
)

// fakeTransport はテスト用のTransport実装。
type fakeTransport struct {
	mu       sync.Mutex
	written  []any
	failSend bool
	closed   int
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("送信失敗")
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeTransport) WriteControl(_ int, _ []byte, _ time.Time) error { return nil }
func (f *fakeTransport) SetWriteDeadline(_ time.Time) error             { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) events() []*event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	evs := make([]*event.Event, 0, len(f.written))
	for _, v := range f.written {
		if ev, ok := v.(*event.Event); ok {
			evs = append(evs, ev)
		}
	}
	return evs
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func mustEvent(t *testing.T, eventType event.Type) *event.Event {
	t.Helper()

	ev, err := event.New(eventType, nil)
	if err != nil {
		t.Fatalf("イベント生成に失敗: %v", err)
	}
	return ev
}

// TestSendToUser はアカウント単位のファンアウトを検証する。
func TestSendToUser(t *testing.T) {
	t.Parallel()

	t.Run("アカウントの全セッションに配信する", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		ft1 := &fakeTransport{}
		ft2 := &fakeTransport{}
		reg.Connect(ft1, "user-1")
		reg.Connect(ft2, "user-1")
		other := &fakeTransport{}
		reg.Connect(other, "user-2")

		d := New(reg)
		d.SendToUser("user-1", mustEvent(t, event.TypeNoteAdded), "")

		if got := len(ft1.events()); got != 1 {
			t.Errorf("ft1の受信数: got %d, want 1", got)
		}
		if got := len(ft2.events()); got != 1 {
			t.Errorf("ft2の受信数: got %d, want 1", got)
		}
		if got := len(other.events()); got != 0 {
			t.Errorf("user-2の受信数: got %d, want 0", got)
		}
	})

	t.Run("除外セッションには配信しない", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		ftOrigin := &fakeTransport{}
		ftOther := &fakeTransport{}
		origin := reg.Connect(ftOrigin, "user-1")
		reg.Connect(ftOther, "user-1")

		d := New(reg)
		d.SendToUser("user-1", mustEvent(t, event.TypeNoteAdded), origin.ID())

		if got := len(ftOrigin.events()); got != 0 {
			t.Errorf("変更元の受信数: got %d, want 0", got)
		}
		if got := len(ftOther.events()); got != 1 {
			t.Errorf("他セッションの受信数: got %d, want 1", got)
		}
	})

	t.Run("配信に失敗したセッションは閉じずに除去し他は影響を受けない", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		healthy := &fakeTransport{}
		broken := &fakeTransport{failSend: true}
		reg.Connect(healthy, "user-1")
		reg.Connect(broken, "user-1")

		d := New(reg)
		d.SendToUser("user-1", mustEvent(t, event.TypeNoteAdded), "")

		if got := len(healthy.events()); got != 1 {
			t.Errorf("正常セッションの受信数: got %d, want 1", got)
		}
		if got := reg.Count("user-1"); got != 1 {
			t.Errorf("残存セッション数: got %d, want 1", got)
		}
		if broken.closeCount() != 0 {
			t.Errorf("失敗セッションのClose回数: got %d, want 0", broken.closeCount())
		}
	})

	t.Run("全セッションが失敗するとアカウントのエントリが消える", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		reg.Connect(&fakeTransport{failSend: true}, "user-1")
		reg.Connect(&fakeTransport{failSend: true}, "user-1")

		d := New(reg)
		d.SendToUser("user-1", mustEvent(t, event.TypeNoteAdded), "")

		if reg.IsPresent("user-1") {
			t.Error("IsPresent: got true, want false")
		}
	})

	t.Run("セッションのないアカウントへの配信は何もしない", func(t *testing.T) {
		t.Parallel()

		d := New(registry.New())
		d.SendToUser("nobody", mustEvent(t, event.TypeNoteAdded), "")
	})

	t.Run("同一セッションへの配信順は呼び出し順を保つ", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		ft := &fakeTransport{}
		reg.Connect(ft, "user-1")

		d := New(reg)
		d.SendToUser("user-1", mustEvent(t, event.TypeNoteAdded), "")
		d.SendToUser("user-1", mustEvent(t, event.TypeNoteDeleted), "")

		evs := ft.events()
		if len(evs) != 2 {
			t.Fatalf("受信数: got %d, want 2", len(evs))
		}
		if evs[0].Type != event.TypeNoteAdded || evs[1].Type != event.TypeNoteDeleted {
			t.Errorf("配信順: got %s, %s, want note_added, note_deleted", evs[0].Type, evs[1].Type)
		}
	})
}

// TestBroadcast は全アカウントへの配信を検証する。
func TestBroadcast(t *testing.T) {
	t.Parallel()

	t.Run("全アカウントの全セッションに配信する", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		ft1 := &fakeTransport{}
		ft2 := &fakeTransport{}
		reg.Connect(ft1, "user-1")
		reg.Connect(ft2, "user-2")

		d := New(reg)
		d.Broadcast(mustEvent(t, event.TypeHeartbeat), "")

		if got := len(ft1.events()); got != 1 {
			t.Errorf("user-1の受信数: got %d, want 1", got)
		}
		if got := len(ft2.events()); got != 1 {
			t.Errorf("user-2の受信数: got %d, want 1", got)
		}
	})

	t.Run("除外アカウントには配信しない", func(t *testing.T) {
		t.Parallel()

		reg := registry.New()
		ft1 := &fakeTransport{}
		ft2 := &fakeTransport{}
		reg.Connect(ft1, "user-1")
		reg.Connect(ft2, "user-2")

		d := New(reg)
		d.Broadcast(mustEvent(t, event.TypeHeartbeat), "user-1")

		if got := len(ft1.events()); got != 0 {
			t.Errorf("user-1の受信数: got %d, want 0", got)
		}
		if got := len(ft2.events()); got != 1 {
			t.Errorf("user-2の受信数: got %d, want 1", got)
		}
	})
}
