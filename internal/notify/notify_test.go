package notify

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type mockSender struct {
	mu         sync.Mutex
	htmlChats  []int64
	photoChats []int64
	htmlErr    func(chatID int64) error
	photoErr   error
}

func (m *mockSender) SendHTML(chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.htmlChats = append(m.htmlChats, chatID)
	if m.htmlErr != nil {
		return m.htmlErr(chatID)
	}
	return nil
}

func (m *mockSender) SendPhoto(chatID int64, caption string, png []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photoChats = append(m.photoChats, chatID)
	return m.photoErr
}

func TestNotify_SwallowsSendErrors(t *testing.T) {
	sender := &mockSender{htmlErr: func(int64) error { return errors.New("blocked by user") }}
	d := New(sender, zap.NewNop())

	d.Notify(1001, "hello")

	if len(sender.htmlChats) != 1 {
		t.Errorf("expected one send attempt, got %d", len(sender.htmlChats))
	}
}

func TestBroadcast_ReachesEveryChat(t *testing.T) {
	sender := &mockSender{}
	d := New(sender, zap.NewNop())

	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	d.Broadcast(want, "trip update")

	got := append([]int64(nil), sender.htmlChats...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != len(want) {
		t.Fatalf("expected %d sends, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("missing chat %d in broadcast, got %v", want[i], got)
			break
		}
	}
}

func TestBroadcast_FailureDoesNotStopOthers(t *testing.T) {
	sender := &mockSender{htmlErr: func(chatID int64) error {
		if chatID == 2 {
			return errors.New("blocked by user")
		}
		return nil
	}}
	d := New(sender, zap.NewNop())

	d.Broadcast([]int64{1, 2, 3}, "trip update")

	if len(sender.htmlChats) != 3 {
		t.Errorf("expected all 3 chats attempted, got %d", len(sender.htmlChats))
	}
}

func TestSendTicket_SendsPhoto(t *testing.T) {
	sender := &mockSender{}
	d := New(sender, zap.NewNop())

	d.SendTicket(1001, "your seat is confirmed", "tripbot:member:7")

	if len(sender.photoChats) != 1 {
		t.Fatalf("expected one photo, got %d", len(sender.photoChats))
	}
	if len(sender.htmlChats) != 0 {
		t.Errorf("no fallback message expected, got %d", len(sender.htmlChats))
	}
}

func TestSendTicket_FallsBackToText(t *testing.T) {
	sender := &mockSender{photoErr: errors.New("upload failed")}
	d := New(sender, zap.NewNop())

	d.SendTicket(1001, "your seat is confirmed", "tripbot:member:7")

	if len(sender.photoChats) != 1 {
		t.Errorf("expected one photo attempt, got %d", len(sender.photoChats))
	}
	if len(sender.htmlChats) != 1 {
		t.Errorf("expected a text fallback, got %d", len(sender.htmlChats))
	}
}
