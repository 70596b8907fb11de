package proc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

// joinEpsilon is added to the remaining cooldown before a deferred join fires.
const joinEpsilon = 100 * time.Millisecond

type pendingJoin struct {
	channel snowflake.ID
	done    chan struct{}
	conn    Connection
	err     error
}

// JoinCoordinator serializes channel joins and keeps at most one join per
// cooldown window. Requests arriving inside the window are coalesced into
// one pending join that targets the most recent channel.
type JoinCoordinator struct {
	transport Transport
	clock     clock.Clock
	cooldown  time.Duration
	timeout   time.Duration

	mu       sync.Mutex
	conn     Connection
	lastJoin time.Time
	pending  *pendingJoin

	// opMu serializes the actual leave/join calls on the transport.
	opMu sync.Mutex

	onJoined  []func(Connection)
	onLeaving []func(Connection)
}

func NewJoinCoordinator(t Transport, clk clock.Clock, cooldown, timeout time.Duration) *JoinCoordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &JoinCoordinator{transport: t, clock: clk, cooldown: cooldown, timeout: timeout}
}

// OnJoined registers a hook run after every successful join.
func (j *JoinCoordinator) OnJoined(fn func(Connection)) {
	j.onJoined = append(j.onJoined, fn)
}

// OnLeaving registers a hook run before a connection is closed.
func (j *JoinCoordinator) OnLeaving(fn func(Connection)) {
	j.onLeaving = append(j.onLeaving, fn)
}

// Current returns the live connection, or nil.
func (j *JoinCoordinator) Current() Connection {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn
}

// Connect returns the live connection if there is one, joining channel
// otherwise.
func (j *JoinCoordinator) Connect(ctx context.Context, channel snowflake.ID) (Connection, error) {
	if conn := j.Current(); conn != nil {
		return conn, nil
	}
	return j.join(ctx, channel)
}

// Move makes sure the connection is on channel, switching if needed.
func (j *JoinCoordinator) Move(ctx context.Context, channel snowflake.ID) (Connection, error) {
	if conn := j.Current(); conn != nil && conn.ChannelID() == channel {
		return conn, nil
	}
	return j.join(ctx, channel)
}

// Rejoin leaves, restarts the cooldown window and joins channel again.
func (j *JoinCoordinator) Rejoin(ctx context.Context, channel snowflake.ID) (Connection, error) {
	if err := j.Leave(ctx); err != nil {
		sys.LogWarn(sys.MsgGenericError, err)
	}
	j.mu.Lock()
	j.lastJoin = j.clock.Now()
	j.mu.Unlock()
	return j.join(ctx, channel)
}

// Leave closes the live connection, if any.
func (j *JoinCoordinator) Leave(ctx context.Context) error {
	j.opMu.Lock()
	defer j.opMu.Unlock()

	j.mu.Lock()
	conn := j.conn
	j.conn = nil
	j.mu.Unlock()

	if conn == nil {
		return nil
	}
	return j.closeConn(ctx, conn)
}

func (j *JoinCoordinator) closeConn(ctx context.Context, conn Connection) error {
	sys.LogJoin(sys.MsgVoiceLeaving, conn.ChannelID())
	for _, fn := range j.onLeaving {
		fn(conn)
	}
	return conn.Close(ctx)
}

func (j *JoinCoordinator) join(ctx context.Context, channel snowflake.ID) (Connection, error) {
	j.mu.Lock()
	if p := j.pending; p != nil {
		sys.LogJoin(sys.MsgVoiceJoinCoalesced, channel, p.channel)
		p.channel = channel
		j.mu.Unlock()
		return j.wait(ctx, p)
	}

	p := &pendingJoin{channel: channel, done: make(chan struct{})}
	j.pending = p
	elapsed := j.clock.Since(j.lastJoin)
	if elapsed >= j.cooldown {
		j.mu.Unlock()
		j.execute(p)
		return p.conn, p.err
	}

	delay := j.cooldown - elapsed + joinEpsilon
	sys.LogJoin(sys.MsgVoiceJoinDeferred, channel, delay)
	j.clock.AfterFunc(delay, func() { j.execute(p) })
	j.mu.Unlock()
	return j.wait(ctx, p)
}

func (j *JoinCoordinator) wait(ctx context.Context, p *pendingJoin) (Connection, error) {
	select {
	case <-p.done:
		return p.conn, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// execute performs the join for p and resolves every waiter on it.
func (j *JoinCoordinator) execute(p *pendingJoin) {
	defer close(p.done)

	j.mu.Lock()
	if j.pending == p {
		j.pending = nil
	}
	channel := p.channel
	j.lastJoin = j.clock.Now()
	j.mu.Unlock()

	j.opMu.Lock()
	defer j.opMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.mu.Lock()
	cur := j.conn
	j.mu.Unlock()

	if cur != nil {
		if cur.ChannelID() == channel {
			p.conn = cur
			return
		}
		j.mu.Lock()
		j.conn = nil
		j.mu.Unlock()
		if err := j.closeConn(ctx, cur); err != nil {
			sys.LogWarn(sys.MsgGenericError, err)
		}
	}

	sys.LogJoin(sys.MsgVoiceJoining, channel)
	conn, err := j.transport.Join(ctx, channel)

	j.mu.Lock()
	j.lastJoin = j.clock.Now()
	if err == nil {
		j.conn = conn
	}
	j.mu.Unlock()

	if err != nil {
		sys.LogJoin(sys.MsgVoiceJoinFailed, channel, err)
		p.err = fmt.Errorf("%w: %v", ErrJoinFailed, err)
		return
	}

	sys.LogJoin(sys.MsgVoiceJoined, channel)
	for _, fn := range j.onJoined {
		fn(conn)
	}
	p.conn = conn
}
