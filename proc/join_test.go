package proc

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCooldown = time.Second

func newTestJoins(t *testing.T) (*JoinCoordinator, *fakeTransport, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Add(time.Hour)
	tr := &fakeTransport{}
	return NewJoinCoordinator(tr, clk, testCooldown, 5*time.Second), tr, clk
}

func (j *JoinCoordinator) pendingChannel() (snowflake.ID, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pending == nil {
		return 0, false
	}
	return j.pending.channel, true
}

func TestJoin_connectReusesLiveConnection(t *testing.T) {
	j, tr, _ := newTestJoins(t)
	ctx := context.Background()

	first, err := j.Connect(ctx, 1)
	require.NoError(t, err)
	second, err := j.Connect(ctx, 2)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, tr.joinCount())
	assert.Equal(t, snowflake.ID(1), j.Current().ChannelID())
}

func TestJoin_coalescesWithinCooldown(t *testing.T) {
	j, tr, clk := newTestJoins(t)
	ctx := context.Background()

	_, err := j.Connect(ctx, 1)
	require.NoError(t, err)

	type result struct {
		conn Connection
		err  error
	}
	results := make(chan result, 2)
	move := func(ch snowflake.ID) {
		conn, err := j.Move(ctx, ch)
		results <- result{conn, err}
	}

	go move(2)
	require.Eventually(t, func() bool { _, ok := j.pendingChannel(); return ok }, time.Second, time.Millisecond)
	go move(3)
	require.Eventually(t, func() bool { ch, _ := j.pendingChannel(); return ch == 3 }, time.Second, time.Millisecond)

	clk.Add(testCooldown + joinEpsilon)

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, snowflake.ID(3), r.conn.ChannelID())
		case <-time.After(2 * time.Second):
			t.Fatal("join did not complete")
		}
	}
	assert.Equal(t, []snowflake.ID{1, 3}, tr.joined())
	assert.True(t, tr.conns[0].closed)
}

func TestJoin_moveToSameChannelIsNoop(t *testing.T) {
	j, tr, _ := newTestJoins(t)
	ctx := context.Background()

	_, err := j.Connect(ctx, 1)
	require.NoError(t, err)
	_, err = j.Move(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.joinCount())
}

func TestJoin_failureWrapsError(t *testing.T) {
	j, tr, _ := newTestJoins(t)
	tr.err = errBoom

	_, err := j.Connect(context.Background(), 1)
	assert.ErrorIs(t, err, ErrJoinFailed)
	assert.Nil(t, j.Current())
}

func TestJoin_waiterHonoursContext(t *testing.T) {
	j, _, _ := newTestJoins(t)
	_, err := j.Connect(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = j.Move(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJoin_hooksAndLeave(t *testing.T) {
	j, _, _ := newTestJoins(t)
	var joined, leaving []snowflake.ID
	j.OnJoined(func(c Connection) { joined = append(joined, c.ChannelID()) })
	j.OnLeaving(func(c Connection) { leaving = append(leaving, c.ChannelID()) })

	conn, err := j.Connect(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, j.Leave(context.Background()))
	require.NoError(t, j.Leave(context.Background()))

	assert.Equal(t, []snowflake.ID{7}, joined)
	assert.Equal(t, []snowflake.ID{7}, leaving)
	assert.True(t, conn.(*fakeConn).closed)
	assert.Nil(t, j.Current())
}

func TestJoin_rejoinWaitsForCooldown(t *testing.T) {
	j, tr, clk := newTestJoins(t)
	ctx := context.Background()
	_, err := j.Connect(ctx, 1)
	require.NoError(t, err)
	clk.Add(time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := j.Rejoin(ctx, 1)
		done <- err
	}()
	require.Eventually(t, func() bool { _, ok := j.pendingChannel(); return ok }, time.Second, time.Millisecond)
	assert.Nil(t, j.Current())
	assert.Equal(t, 1, tr.joinCount())

	clk.Add(testCooldown + joinEpsilon)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("rejoin did not complete")
	}
	assert.Equal(t, 2, tr.joinCount())
}
