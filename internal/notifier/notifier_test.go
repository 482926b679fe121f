package notifier

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type render struct {
	title string
	badge int
}

// recorder captures renders and can be told to fail
type recorder struct {
	mu      sync.Mutex
	renders []render
	fail    error
}

func (r *recorder) Render(title string, badge int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.renders = append(r.renders, render{title, badge})
	return nil
}

func (r *recorder) badges() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.renders))
	for _, rr := range r.renders {
		out = append(out, rr.badge)
	}
	return out
}

func TestDeliverBadgesCountUp(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec, clockwork.NewFakeClock())

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, n.Deliver(msg))
	}

	assert.Equal(t, []int{1, 2, 3}, rec.badges())

	state := n.Snapshot()
	assert.Equal(t, 3, state.Badge)
	assert.Equal(t, "three", state.Title)
	assert.Equal(t, "three", state.Body)
}

func TestDeliverFailureKeepsBadge(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec, nil)

	require.NoError(t, n.Deliver("one"))

	rec.fail = errors.New("screen off")
	assert.Error(t, n.Deliver("lost"))
	assert.Equal(t, 1, n.Snapshot().Badge)

	rec.fail = nil
	require.NoError(t, n.Deliver("two"))

	// badges are still gapless after a failed render
	assert.Equal(t, []int{1, 2}, rec.badges())
}

func TestDeliverWithoutRenderer(t *testing.T) {
	n := NewNotifier(nil, nil)
	assert.ErrorIs(t, n.Deliver("x"), ErrSinkUnavailable)
	assert.ErrorIs(t, n.Refresh(), ErrSinkUnavailable)
	assert.Zero(t, n.Snapshot().Badge)

	rec := &recorder{}
	n.SetRenderer(rec)
	require.NoError(t, n.Deliver("x"))
	assert.Equal(t, []int{1}, rec.badges())
}

func TestRefreshBeforeAnyMessageShowsTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC))
	rec := &recorder{}
	n := NewNotifier(rec, clock)

	require.NoError(t, n.Refresh())
	clock.Advance(10 * time.Second)
	require.NoError(t, n.Refresh())

	require.Len(t, rec.renders, 2)
	assert.Equal(t, render{"Time: 09:30:15", 0}, rec.renders[0])
	assert.Equal(t, render{"Time: 09:30:25", 0}, rec.renders[1])
}

func TestRefreshKeepsTitleAndBadgeAfterMessage(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC))
	rec := &recorder{}
	n := NewNotifier(rec, clock)

	require.NoError(t, n.Deliver("hello"))
	clock.Advance(time.Minute)
	require.NoError(t, n.Refresh())

	assert.Equal(t, render{"hello", 1}, rec.renders[1])

	state := n.Snapshot()
	assert.Equal(t, 1, state.Badge)
	assert.Equal(t, "hello", state.Title)
	assert.Equal(t, "Time: 09:31:15", state.Body)
	assert.Equal(t, clock.Now(), state.UpdatedAt)
}

func TestConcurrentDeliverNeverRendersBadgeTwice(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(rec, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = n.Deliver("m")
		}()
	}
	wg.Wait()

	badges := rec.badges()
	require.Len(t, badges, 100)
	for i, b := range badges {
		assert.Equal(t, i+1, b)
	}
}

func TestConsoleRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(&buf)

	require.NoError(t, r.Render("hello", 3))
	assert.Equal(t, "[#3] hello\n", buf.String())
}

func TestLogRendererCarriesTapAction(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRenderer(zerolog.New(&buf))

	require.NoError(t, r.Render("hello", 1))
	assert.True(t, strings.Contains(buf.String(), ActionUserTapped))
}

func TestRendererFunc(t *testing.T) {
	var got render
	var r Renderer = RendererFunc(func(title string, badge int) error {
		got = render{title, badge}
		return nil
	})

	require.NoError(t, r.Render("t", 7))
	assert.Equal(t, render{"t", 7}, got)
}
