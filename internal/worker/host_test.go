package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkkko/pushline/internal/notifier"
	"github.com/nkkko/pushline/internal/supervisor"
	"github.com/nkkko/pushline/pkg/proto"
)

type fakeConn struct {
	mu       sync.Mutex
	results  []error
	starts   int
	stops    int
	handlers map[string]func([]string)
}

func (c *fakeConn) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if len(c.results) == 0 {
		return nil
	}
	err := c.results[0]
	c.results = c.results[1:]
	return err
}

func (c *fakeConn) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeConn) On(target string, fn func([]string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]func([]string))
	}
	c.handlers[target] = fn
}

func (c *fakeConn) Off(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, target)
}

func (c *fakeConn) OnClosed(func(error)) {}

func (c *fakeConn) push(payload string) {
	c.mu.Lock()
	fn := c.handlers[proto.TargetReceiveMessage]
	c.mu.Unlock()
	if fn != nil {
		fn([]string{payload})
	}
}

func (c *fakeConn) counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

type recorder struct {
	mu     sync.Mutex
	titles []string
}

func (r *recorder) Render(title string, badge int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func testConfig() Config {
	return Config{
		TickInterval: 10 * time.Second,
		Supervisor: supervisor.Config{
			Endpoint:       "http://relay.test/BroadcastHub",
			ConnectTimeout: time.Second,
		},
	}
}

func factoryFor(conn *fakeConn) supervisor.ConnectionFactory {
	return func(string) (supervisor.Connection, error) { return conn, nil }
}

func TestStartTicksImmediatelyThenOnInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	conn := &fakeConn{results: []error{errors.New("relay down")}}
	rec := &recorder{}
	n := notifier.NewNotifier(rec, clock)
	host := NewHost(testConfig(), factoryFor(conn), n, clock)

	require.NoError(t, host.Start(ctx))
	defer host.Stop()

	// first tick: relay down
	assert.Eventually(t, func() bool {
		starts, _ := conn.counts()
		return starts == 1 && host.Supervisor().Attempts() == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, host.IsRunning())

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Second)

	// second tick repairs the connection
	assert.Eventually(t, func() bool {
		return host.Supervisor().State() == supervisor.StateConnected
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, []string{"Time: 12:00:00", "Time: 12:00:10"}, rec.titles)
	rec.mu.Unlock()

	conn.push("hello")
	assert.Equal(t, 1, n.Snapshot().Badge)
}

func TestStartRejectsInvalidEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Supervisor.Endpoint = "::bad"

	host := NewHost(cfg, factoryFor(&fakeConn{}), nil, clockwork.NewFakeClock())
	err := host.Start(context.Background())

	assert.ErrorIs(t, err, supervisor.ErrInvalidEndpoint)
	assert.Nil(t, host.Supervisor())
	assert.False(t, host.IsRunning())
}

func TestStartIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	host := NewHost(testConfig(), factoryFor(conn), nil, clockwork.NewFakeClock())

	require.NoError(t, host.Start(context.Background()))
	first := host.Supervisor()
	require.NoError(t, host.Start(context.Background()))
	defer host.Stop()

	assert.Same(t, first, host.Supervisor())
}

func TestStopShutsDownSupervisor(t *testing.T) {
	conn := &fakeConn{}
	host := NewHost(testConfig(), factoryFor(conn), nil, clockwork.NewFakeClock())

	require.NoError(t, host.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return host.Supervisor().State() == supervisor.StateConnected
	}, time.Second, 5*time.Millisecond)

	host.Stop()
	host.Stop()

	_, stops := conn.counts()
	assert.Equal(t, 1, stops)
	assert.False(t, host.IsRunning())
	assert.Nil(t, host.Supervisor())
}

func TestRestartBuildsFreshSupervisorAndKeepsBadge(t *testing.T) {
	conn := &fakeConn{}
	rec := &recorder{}
	n := notifier.NewNotifier(rec, nil)
	host := NewHost(testConfig(), factoryFor(conn), n, clockwork.NewFakeClock())

	require.NoError(t, host.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return host.Supervisor().State() == supervisor.StateConnected
	}, time.Second, 5*time.Millisecond)
	first := host.Supervisor()
	conn.push("one")
	host.Stop()

	require.NoError(t, host.Start(context.Background()))
	defer host.Stop()
	assert.Eventually(t, func() bool {
		return host.Supervisor().State() == supervisor.StateConnected
	}, time.Second, 5*time.Millisecond)
	assert.NotSame(t, first, host.Supervisor())

	conn.push("two")
	assert.Equal(t, 2, n.Snapshot().Badge)
}

func TestTickRecoversFromPanic(t *testing.T) {
	panicky := func(string) (supervisor.Connection, error) { panic("boom") }
	host := NewHost(testConfig(), panicky, nil, clockwork.NewFakeClock())

	sup, err := supervisor.New(testConfig().Supervisor, panicky, nil)
	require.NoError(t, err)
	host.supervisor = sup

	assert.NotPanics(t, func() { host.Tick(context.Background()) })
	assert.True(t, host.IsRunning())
}
