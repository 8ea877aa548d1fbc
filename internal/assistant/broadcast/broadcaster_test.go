package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/anticorruption-bot/internal/assistant/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[int64][]string
	errs map[int64]error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[chatID]; err != nil {
		return err
	}
	if f.sent == nil {
		f.sent = map[int64][]string{}
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.sent {
		n += len(v)
	}
	return n
}

func openChats(t *testing.T, ids ...int64) *store.ChatStore {
	t.Helper()
	chats, err := store.OpenChatStore(filepath.Join(t.TempDir(), "chats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = chats.Close() })

	for _, id := range ids {
		_, err := chats.Add(context.Background(), store.Chat{ID: id, Type: "private"})
		require.NoError(t, err)
	}
	return chats
}

var testPairs = []Pair{
	{Question: "Что такое взятка?", Answer: "Получение должностным лицом денег или имущества."},
	{Question: "Кто обязан подавать декларацию?", Answer: "Государственные служащие."},
}

func TestTick_SendsAndRemovesGoneChats(t *testing.T) {
	chats := openChats(t, 1, 2, 3, 4)
	sender := &fakeSender{errs: map[int64]error{
		2: errors.New("Forbidden: bot was blocked by the user"),
		3: errors.New("Bad Request: chat not found"),
		4: errors.New("Too Many Requests: retry after 5"),
	}}

	b := New(sender, chats, testPairs, &Config{Interval: time.Hour, Pause: time.Millisecond})
	b.pick = func(int) int { return 1 }

	sent, removed := b.Tick(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"Вопрос: Кто обязан подавать декларацию?\n\nОтвет: Государственные служащие."}, sender.sent[1])

	left, err := chats.List(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(left))
	for _, c := range left {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{1, 4}, ids)
}

func TestTick_NothingToDo(t *testing.T) {
	sender := &fakeSender{}

	sent, _ := New(sender, openChats(t), testPairs, nil).Tick(context.Background())
	assert.Zero(t, sent)

	sent, _ = New(sender, openChats(t, 1), nil, nil).Tick(context.Background())
	assert.Zero(t, sent)
}

func TestTick_StopsOnCancel(t *testing.T) {
	chats := openChats(t, 1, 2, 3)
	sender := &fakeSender{}
	b := New(sender, chats, testPairs, &Config{Interval: time.Hour, Pause: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sent, _ := b.Tick(ctx)
	assert.Equal(t, 1, sent)
}

func TestBroadcaster_Loop(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, openChats(t, 1), testPairs, &Config{Interval: 10 * time.Millisecond})

	require.NoError(t, b.Start(context.Background()))
	require.Eventually(t, func() bool { return sender.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Stop(context.Background()))

	n := sender.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sender.count())
}

func TestBroadcaster_DisabledWithoutPairs(t *testing.T) {
	b := New(&fakeSender{}, openChats(t), nil, nil)
	require.NoError(t, b.Start(context.Background()))
	assert.NoError(t, b.Stop(context.Background()))
}
