// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icedrive/authd/pkg/errutil"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/auth", "pgx5://u:p@db:5432/auth"},
		{"postgresql://u:p@db:5432/auth", "pgx5://u:p@db:5432/auth"},
		{"pgx5://db/auth", "pgx5://db/auth"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MigrateURL(tt.in))
		})
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/auth")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestNewMigrator_PostgresqlSchemeIsRecognized(t *testing.T) {
	_, err := NewMigrator("postgresql://127.0.0.1:1/auth?connect_timeout=1")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	forceErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	closeSourceErr error
	closeDBErr     error

	forced int
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Steps(_ int) error            { return m.stepsErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDBErr }

func (m *mockMigrate) Force(v int) error {
	m.forced = v
	return m.forceErr
}

func TestMigrator_Up(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "success"},
		{name: "no change is success", err: migrate.ErrNoChange},
		{name: "failure", err: errors.New("syntax error"), wantCode: "MIGRATION_UP_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &mockMigrate{upErr: tt.err}}
			err := m.Up()
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Down(t *testing.T) {
	m := &Migrator{m: &mockMigrate{downErr: migrate.ErrNoChange}}
	require.NoError(t, m.Down())

	m = &Migrator{m: &mockMigrate{downErr: errors.New("locked")}}
	err := m.Down()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_DOWN_FAILED")
}

func TestMigrator_Steps(t *testing.T) {
	m := &Migrator{m: &mockMigrate{stepsErr: errors.New("must not be called")}}
	require.NoError(t, m.Steps(0), "zero steps is a no-op")

	m = &Migrator{m: &mockMigrate{stepsErr: migrate.ErrNoChange}}
	require.NoError(t, m.Steps(1))

	m = &Migrator{m: &mockMigrate{stepsErr: errors.New("boom")}}
	err := m.Steps(-1)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
}

func TestMigrator_Force(t *testing.T) {
	mock := &mockMigrate{}
	m := &Migrator{m: mock}
	require.NoError(t, m.Force(2))
	assert.Equal(t, 2, mock.forced)

	err := m.Force(-1)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_FORCE_FAILED")

	m = &Migrator{m: &mockMigrate{forceErr: errors.New("boom")}}
	err = m.Force(1)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_FORCE_FAILED")
}

func TestMigrator_Version(t *testing.T) {
	m := &Migrator{m: &mockMigrate{versionVal: 2, dirty: true}}
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, dirty)

	m = &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
	v, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	m = &Migrator{m: &mockMigrate{versionErr: errors.New("no table")}}
	_, _, err = m.Version()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
}

func TestMigrator_PendingMigrations(t *testing.T) {
	all, err := migrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
	pending, err := m.PendingMigrations()
	require.NoError(t, err)
	assert.Equal(t, all, pending)

	m = &Migrator{m: &mockMigrate{versionVal: all[len(all)-1]}}
	pending, err = m.PendingMigrations()
	require.NoError(t, err)
	assert.Empty(t, pending)

	m = &Migrator{m: &mockMigrate{versionVal: 1}}
	pending, err = m.PendingMigrations()
	require.NoError(t, err)
	assert.Equal(t, all[1:], pending)
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name          string
		srcErr, dbErr error
		wantComponent string
	}{
		{name: "success"},
		{name: "source", srcErr: errors.New("src"), wantComponent: "source"},
		{name: "database", dbErr: errors.New("db"), wantComponent: "database"},
		{name: "both", srcErr: errors.New("src"), dbErr: errors.New("db"), wantComponent: "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &mockMigrate{closeSourceErr: tt.srcErr, closeDBErr: tt.dbErr}}
			err := m.Close()
			if tt.wantComponent == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.wantComponent)
		})
	}
}
