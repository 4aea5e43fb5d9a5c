// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package pgbus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/icedrive/authd/internal/pubsub"
	"github.com/icedrive/authd/pkg/errutil"
)

// fakeConn feeds notifications from a channel and fails when it is closed.
type fakeConn struct {
	mu       sync.Mutex
	listened []string
	notes    chan *pgconn.Notification
	closed   atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{notes: make(chan *pgconn.Notification, 8)}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listened = append(c.listened, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n, ok := <-c.notes:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

type recordingSubscriber struct {
	id string
	ch chan []byte
}

func (s *recordingSubscriber) SubscriberID() string { return s.id }

func (s *recordingSubscriber) Deliver(_ context.Context, payload []byte) { s.ch <- payload }

func expectTopicExists(mock pgxmock.PgxPoolIface, topic string, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(topic).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestBus_EnsureTopic(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
	}{
		{
			name: "creates new topic",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO pubsub_topics`).
					WithArgs("auth.queries").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "existing topic is success",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO pubsub_topics`).
					WithArgs("auth.queries").
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO pubsub_topics`).
					WithArgs("auth.queries").
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "PUBSUB_ENSURE_TOPIC_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMock(mock)

			bus := New(mock, "", 1)
			defer bus.Close()

			err = bus.EnsureTopic(context.Background(), "auth.queries")
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBus_EnsureTopicRejectsInvalidNames(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	bus := New(mock, "", 1)
	defer bus.Close()

	for _, topic := range []string{"", strings.Repeat("x", 64)} {
		err := bus.EnsureTopic(context.Background(), topic)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "PUBSUB_INVALID_TOPIC")
	}
}

func TestBus_Publish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs("auth.discovery", `{"kind":"authentication"}`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	bus := New(mock, "", 1)
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), "auth.discovery", []byte(`{"kind":"authentication"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBus_PublishRejectsOversizedPayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	bus := New(mock, "", 1)
	defer bus.Close()

	err = bus.Publish(context.Background(), "t", make([]byte, MaxPayload+1))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "PUBSUB_PAYLOAD_TOO_LARGE")
}

func TestBus_SubscribeUnknownTopic(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	expectTopicExists(mock, "missing", false)

	bus := New(mock, "", 1)
	defer bus.Close()

	err = bus.Subscribe(context.Background(), "missing", &recordingSubscriber{id: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pubsub.ErrTopicNotFound)
}

func TestBus_SubscribeDeliversNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	expectTopicExists(mock, "auth.queries", true)

	conn := newFakeConn()
	bus := New(mock, "", 2, WithDialer(func(context.Context) (listenConn, error) {
		return conn, nil
	}))

	sub := &recordingSubscriber{id: "receiver", ch: make(chan []byte, 1)}
	require.NoError(t, bus.Subscribe(context.Background(), "auth.queries", sub))

	conn.notes <- &pgconn.Notification{Channel: "auth.queries", Payload: "ping"}

	select {
	case got := <-sub.ch:
		assert.Equal(t, []byte("ping"), got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delivery")
	}

	conn.mu.Lock()
	assert.Equal(t, []string{`LISTEN "auth.queries"`}, conn.listened)
	conn.mu.Unlock()

	require.NoError(t, bus.Unsubscribe(context.Background(), "auth.queries", sub))
	require.NoError(t, bus.Close())
	assert.True(t, conn.closed.Load(), "listener connection should be closed")
}

func TestBus_ListenerReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	expectTopicExists(mock, "t", true)

	first := newFakeConn()
	second := newFakeConn()
	var dials atomic.Int32
	bus := New(mock, "", 1,
		WithReconnectBackoff(time.Millisecond, 5*time.Millisecond),
		WithDialer(func(context.Context) (listenConn, error) {
			switch dials.Add(1) {
			case 1:
				return first, nil
			case 2:
				return nil, errors.New("server starting up")
			default:
				return second, nil
			}
		}),
	)
	defer bus.Close()

	sub := &recordingSubscriber{id: "a", ch: make(chan []byte, 1)}
	require.NoError(t, bus.Subscribe(context.Background(), "t", sub))

	close(first.notes) // drop the first connection
	second.notes <- &pgconn.Notification{Channel: "t", Payload: "after reconnect"}

	select {
	case got := <-sub.ch:
		assert.Equal(t, []byte("after reconnect"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery after reconnect")
	}
	assert.GreaterOrEqual(t, dials.Load(), int32(3))
	assert.True(t, first.closed.Load())
}
