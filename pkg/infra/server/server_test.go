package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeServer struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
}

func (s *fakeServer) Name() string { return s.name }

func (s *fakeServer) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.rec.add("start " + s.name)
	return nil
}

func (s *fakeServer) Stop(context.Context) error {
	s.rec.add("stop " + s.name)
	return s.stopErr
}

func TestManager_StartStopOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	m.AddServer(&fakeServer{name: "http", rec: rec})
	m.AddServer(&fakeServer{name: "telegram", rec: rec})

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "second start is rejected")
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{"start http", "start telegram", "stop telegram", "stop http"}, rec.list())
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	m.AddServer(&fakeServer{name: "http", rec: rec})
	m.AddServer(&fakeServer{name: "telegram", rec: rec, startErr: errors.New("bad token")})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Equal(t, []string{"start http", "stop http"}, rec.list())
}

func TestManager_StopAggregatesErrors(t *testing.T) {
	rec := &recorder{}
	m := NewManager()
	m.AddServer(&fakeServer{name: "a", rec: rec, stopErr: errors.New("x")})
	m.AddServer(&fakeServer{name: "b", rec: rec, stopErr: errors.New("y")})

	require.NoError(t, m.Start(context.Background()))
	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}

func TestManager_RunStopsOnContextCancel(t *testing.T) {
	rec := &recorder{}
	m := NewManager(WithShutdownTimeout(time.Second))
	m.AddServer(&fakeServer{name: "http", rec: rec})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(rec.list()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"start http", "stop http"}, rec.list())
}
