// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icedrive/authd/pkg/errutil"
)

// stubHasher makes hashes predictable so SQL arguments can be matched.
type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")
	}
	return "h:" + password, nil
}

func (stubHasher) Verify(password, hash string) (bool, error) {
	if hash == "corrupt" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	return hash == "h:"+password, nil
}

func newMockStore(t *testing.T) (*CredentialStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewCredentialStore(mock, stubHasher{}), mock
}

func TestCredentialStore_Insert(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      bool
		wantCode  string
	}{
		{
			name:     "inserts new user",
			password: "pw",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("alice", "h:pw").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
			want: true,
		},
		{
			name:     "unique violation means taken",
			password: "pw",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("alice", "h:pw").
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			want: false,
		},
		{
			name:     "database error",
			password: "pw",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO users`).
					WithArgs("alice", "h:pw").
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "CREDENTIALS_INSERT_FAILED",
		},
		{
			name:      "hash failure never reaches the database",
			password:  "",
			setupMock: func(pgxmock.PgxPoolIface) {},
			wantCode:  "AUTH_EMPTY_PASSWORD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := store.Insert(context.Background(), "alice", tt.password)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCredentialStore_Exists(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("bob").
		WillReturnError(errors.New("timeout"))

	ok, err := store.Exists(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Exists(context.Background(), "bob")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CREDENTIALS_EXISTS_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStore_Verify(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      bool
		wantCode  string
	}{
		{
			name: "matching password",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT password_hash FROM users`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("h:pw"))
			},
			want: true,
		},
		{
			name: "wrong password",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT password_hash FROM users`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("h:other"))
			},
			want: false,
		},
		{
			name: "unknown user",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT password_hash FROM users`).
					WithArgs("alice").
					WillReturnError(pgx.ErrNoRows)
			},
			want: false,
		},
		{
			name: "corrupt hash",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT password_hash FROM users`).
					WithArgs("alice").
					WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("corrupt"))
			},
			wantCode: "AUTH_INVALID_HASH",
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT password_hash FROM users`).
					WithArgs("alice").
					WillReturnError(errors.New("connection reset"))
			},
			wantCode: "CREDENTIALS_VERIFY_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := store.Verify(context.Background(), "alice", "pw")
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCredentialStore_Delete(t *testing.T) {
	t.Run("deletes after verifying", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT password_hash FROM users`).
			WithArgs("alice").
			WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("h:pw"))
		mock.ExpectExec(`DELETE FROM users`).
			WithArgs("alice", "h:pw").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		ok, err := store.Delete(context.Background(), "alice", "pw")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password deletes nothing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT password_hash FROM users`).
			WithArgs("alice").
			WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("h:other"))

		ok, err := store.Delete(context.Background(), "alice", "pw")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent change affects no rows", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT password_hash FROM users`).
			WithArgs("alice").
			WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("h:pw"))
		mock.ExpectExec(`DELETE FROM users`).
			WithArgs("alice", "h:pw").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		ok, err := store.Delete(context.Background(), "alice", "pw")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("database error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT password_hash FROM users`).
			WithArgs("alice").
			WillReturnRows(pgxmock.NewRows([]string{"password_hash"}).AddRow("h:pw"))
		mock.ExpectExec(`DELETE FROM users`).
			WithArgs("alice", "h:pw").
			WillReturnError(errors.New("lock timeout"))

		_, err := store.Delete(context.Background(), "alice", "pw")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CREDENTIALS_DELETE_FAILED")
	})
}
