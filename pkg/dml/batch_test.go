package dml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_NormalizedDefaults(t *testing.T) {
	c := Config{}.normalized()
	assert.Equal(t, 500, c.BatchSize)
	assert.Equal(t, defaultMaxParameters, c.MaxParameters)
	assert.Equal(t, defaultMaxSQLBytes, c.MaxSQLBytes)
}

func TestConfig_NormalizedKeepsExplicitValues(t *testing.T) {
	c := Config{BatchSize: 10, MaxParameters: 50, MaxSQLBytes: 4096}.normalized()
	assert.Equal(t, 10, c.BatchSize)
	assert.Equal(t, 50, c.MaxParameters)
	assert.Equal(t, 4096, c.MaxSQLBytes)
}

func TestConfig_NormalizedRejectsTooSmallSQLBytes(t *testing.T) {
	c := Config{MaxSQLBytes: 10}.normalized()
	assert.Equal(t, defaultMaxSQLBytes, c.MaxSQLBytes)
}

func TestRunner_Pinned(t *testing.T) {
	r := &Runner{pinned: true}
	assert.True(t, r.Pinned())

	r2 := &Runner{}
	assert.False(t, r2.Pinned())
}
