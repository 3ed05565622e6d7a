package imap

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/testutil"
	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	g := NewGate(DefaultMaxConnections)
	t.Cleanup(g.Close)

	f := NewFetcher(g)
	f.pause = 0
	f.retryWait = time.Millisecond
	return f
}

func TestFetchModes(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	now := time.Now()
	srv.AddMessage(t, "<unread-1@test>", "Printer broken", "jane@customer.test", "support@desk.test", now.Add(-time.Hour), false)
	srv.AddMessage(t, "<unread-2@test>", "Invoice", "bob@customer.test", "support@desk.test", now, false)
	srv.AddMessage(t, "<read-1@test>", "Thanks", "jane@customer.test", "support@desk.test", now, true)

	f := newTestFetcher(t)
	f.batchSize = 2
	ctx := context.Background()
	creds := srv.Credentials("mb1")

	t.Run("unread skips seen messages", func(t *testing.T) {
		msgs, err := f.Fetch(ctx, creds, ModeUnread, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "unread-2@test", msgs[0].MessageID)
		assert.Equal(t, "unread-1@test", msgs[1].MessageID)
		assert.False(t, msgs[0].IsRead)
	})

	t.Run("latest honors limit newest first", func(t *testing.T) {
		msgs, err := f.Fetch(ctx, creds, ModeLatest, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "read-1@test", msgs[0].MessageID)
		assert.True(t, msgs[0].IsRead)
	})

	t.Run("latest across batches", func(t *testing.T) {
		// Three appended plus the backend's seed message.
		msgs, err := f.Fetch(ctx, creds, ModeLatest, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 4)
	})

	t.Run("fetch does not mark messages seen", func(t *testing.T) {
		msgs, err := f.Fetch(ctx, creds, ModeUnread, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})
}

func TestFetchAuthenticationFailure(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	f := newTestFetcher(t)

	dials := 0
	f.dial = func(ctx context.Context, creds models.Credentials) (*client.Client, error) {
		dials++
		return Dial(ctx, creds)
	}

	creds := srv.Credentials("mb1")
	creds.Password = "wrong"

	_, err := f.Fetch(context.Background(), creds, ModeUnread, 0)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, 1, dials)
}

func TestFetchConnectionDropMidway(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	now := time.Now()
	for i, id := range []string{"<a@test>", "<b@test>", "<c@test>", "<d@test>", "<e@test>"} {
		srv.AddMessage(t, id, "Ticket", "jane@customer.test", "support@desk.test", now.Add(time.Duration(i)*time.Minute), false)
	}

	f := newTestFetcher(t)
	f.batchSize = 2

	// Dial 1 searches, dials 2 and 3 serve the first two batches, then the
	// server goes away.
	dials := 0
	f.dial = func(ctx context.Context, creds models.Credentials) (*client.Client, error) {
		dials++
		if dials >= 4 {
			return nil, errors.New("read tcp: connection reset by peer")
		}
		return Dial(ctx, creds)
	}

	msgs, err := f.Fetch(context.Background(), srv.Credentials("mb1"), ModeLatest, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "e@test", msgs[0].MessageID)
	assert.Equal(t, "b@test", msgs[3].MessageID)
	// The third batch gets all of its attempts.
	assert.Equal(t, 3+batchAttempts, dials)
}

func TestFetchBatchRetry(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.AddMessage(t, "<retry@test>", "Hello", "a@test", "b@test", time.Now(), false)

	t.Run("transient failures back off with a doubling delay", func(t *testing.T) {
		f := newTestFetcher(t)
		f.retryWait = 20 * time.Millisecond

		var stamps []time.Time
		f.dial = func(ctx context.Context, creds models.Credentials) (*client.Client, error) {
			stamps = append(stamps, time.Now())
			if n := len(stamps); n == 2 || n == 3 {
				return nil, errors.New("i/o timeout")
			}
			return Dial(ctx, creds)
		}

		msgs, err := f.Fetch(context.Background(), srv.Credentials("mb1"), ModeUnread, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "retry@test", msgs[0].MessageID)

		require.Len(t, stamps, 4)
		assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 20*time.Millisecond)
		assert.GreaterOrEqual(t, stamps[3].Sub(stamps[2]), 40*time.Millisecond)
	})

	t.Run("a batch that keeps failing yields nothing", func(t *testing.T) {
		f := newTestFetcher(t)
		dials := 0
		f.dial = func(ctx context.Context, creds models.Credentials) (*client.Client, error) {
			dials++
			if dials > 1 {
				return nil, errors.New("i/o timeout")
			}
			return Dial(ctx, creds)
		}

		msgs, err := f.Fetch(context.Background(), srv.Credentials("mb1"), ModeUnread, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Equal(t, 1+batchAttempts, dials)
	})

	t.Run("authentication failure mid-fetch is not retried", func(t *testing.T) {
		f := newTestFetcher(t)
		dials := 0
		f.dial = func(ctx context.Context, creds models.Credentials) (*client.Client, error) {
			dials++
			if dials > 1 {
				return nil, &AuthError{Username: creds.Username, Err: errors.New("[AUTHENTICATIONFAILED] Invalid credentials")}
			}
			return Dial(ctx, creds)
		}

		_, err := f.Fetch(context.Background(), srv.Credentials("mb1"), ModeUnread, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.Equal(t, 2, dials)
	})
}

// stallingConn stops delivering data once marker has been read, until the
// connection is closed.
type stallingConn struct {
	net.Conn
	marker []byte

	mu      sync.Mutex
	seen    []byte
	tripped bool
	closed  chan struct{}
	once    sync.Once
}

func (c *stallingConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	tripped := c.tripped
	c.mu.Unlock()
	if tripped {
		<-c.closed
		return 0, net.ErrClosed
	}

	n, err := c.Conn.Read(p)
	c.mu.Lock()
	c.seen = append(c.seen, p[:n]...)
	if bytes.Contains(c.seen, c.marker) {
		c.tripped = true
	}
	if keep := len(c.marker); len(c.seen) > keep {
		c.seen = append([]byte(nil), c.seen[len(c.seen)-keep:]...)
	}
	c.mu.Unlock()
	return n, err
}

func (c *stallingConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.Conn.Close()
}

func TestFetchBatchTimeoutKeepsPartialResults(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.AddMessage(t, "<first@test>", "First", "a@test", "b@test", time.Now(), false)
	srv.AppendRaw(t, "Message-ID: <stall@test>\r\n"+
		"From: a@test\r\n"+
		"Subject: stall-here\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		strings.Repeat("0123456789abcdef\r\n", 4096), nil)

	f := newTestFetcher(t)
	f.batchTimeout = 300 * time.Millisecond

	dials := 0
	f.dial = func(ctx context.Context, creds models.Credentials) (*client.Client, error) {
		dials++
		if dials == 1 {
			return Dial(ctx, creds)
		}
		raw, err := net.Dial("tcp", net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port)))
		if err != nil {
			return nil, err
		}
		c, err := client.New(&stallingConn{Conn: raw, marker: []byte("stall-here"), closed: make(chan struct{})})
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		if err := c.Login(creds.Username, creds.Password); err != nil {
			_ = c.Terminate()
			return nil, err
		}
		return c, nil
	}

	start := time.Now()
	msgs, err := f.Fetch(context.Background(), srv.Credentials("mb1"), ModeLatest, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	// The seed message and "first" arrived before the stall.
	require.Len(t, msgs, 2)
	assert.Equal(t, "first@test", msgs[0].MessageID)
	// Partial results are not retried.
	assert.Equal(t, 2, dials)
}

func TestFetchWithSASLPlain(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.AddMessage(t, "<plain@test>", "Hello", "a@test", "b@test", time.Now(), false)

	creds := srv.Credentials("mb1")
	creds.AuthMethod = models.AuthPlain

	msgs, err := newTestFetcher(t).Fetch(context.Background(), creds, ModeUnread, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "plain@test", msgs[0].MessageID)
}

func TestFetchByMessageID(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.AddMessage(t, "<target@test>", "Logo", "a@test", "b@test", time.Now(), true)

	f := newTestFetcher(t)
	creds := srv.Credentials("mb1")

	msg, err := f.FetchByMessageID(context.Background(), creds, "<target@test>")
	require.NoError(t, err)
	assert.Equal(t, "target@test", msg.MessageID)
	assert.Equal(t, "Logo", msg.Subject)

	_, err = f.FetchByMessageID(context.Background(), creds, "missing@test")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestListMessageIDs(t *testing.T) {
	srv := testutil.NewTestIMAPServer(t)
	srv.AddMessage(t, "<Keep@Test>", "a", "a@test", "b@test", time.Now(), false)
	srv.AddMessage(t, "<gone@test>", "b", "a@test", "b@test", time.Now(), false)
	srv.DeleteMessage(t, "<gone@test>")

	ids, err := newTestFetcher(t).ListMessageIDs(context.Background(), srv.Credentials("mb1"))
	require.NoError(t, err)

	assert.Contains(t, ids, "keep@test")
	assert.NotContains(t, ids, "gone@test")
	assert.Contains(t, ids, "0000000@localhost/")
}
