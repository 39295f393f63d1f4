package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	upErr      error
	steps      []int
	forced     int
	version    uint
	dirty      bool
	versionErr error
}

func (f *fakeMigrator) Up() error { return f.upErr }

func (f *fakeMigrator) Steps(n int) error {
	f.steps = append(f.steps, n)
	return nil
}

func (f *fakeMigrator) Force(version int) error {
	f.forced = version
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, f.versionErr
}

func TestRunDefaultsToUp(t *testing.T) {
	var out bytes.Buffer
	m := &fakeMigrator{upErr: migrate.ErrNoChange}
	require.NoError(t, run(nil, m, &out))
	assert.Equal(t, "migrations complete\n", out.String())

	m.upErr = errors.New("syntax error")
	assert.ErrorContains(t, run([]string{"up"}, m, &out), "migrate up")
}

func TestRunDownStepsOnce(t *testing.T) {
	var out bytes.Buffer
	m := &fakeMigrator{}
	require.NoError(t, run([]string{"down"}, m, &out))
	assert.Equal(t, []int{-1}, m.steps)
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, &fakeMigrator{version: 2, dirty: true}, &out))
	assert.Equal(t, "version 2 (dirty=true)\n", out.String())

	out.Reset()
	require.NoError(t, run([]string{"version"}, &fakeMigrator{versionErr: migrate.ErrNilVersion}, &out))
	assert.Equal(t, "no migrations applied\n", out.String())
}

func TestRunForce(t *testing.T) {
	var out bytes.Buffer
	m := &fakeMigrator{}
	require.NoError(t, run([]string{"force", "1"}, m, &out))
	assert.Equal(t, 1, m.forced)

	assert.Error(t, run([]string{"force"}, m, &out))
	assert.ErrorContains(t, run([]string{"force", "x"}, m, &out), "invalid version")
	assert.ErrorContains(t, run([]string{"sideways"}, m, &out), "usage")
}
