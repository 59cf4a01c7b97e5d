package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsLinearly(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 15 * time.Second}

	assert.Equal(t, 5*time.Second, b.Next(1))
	assert.Equal(t, 10*time.Second, b.Next(2))
	assert.Equal(t, 15*time.Second, b.Next(3))
}

func TestBackoffClampsToMax(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 15 * time.Second}

	assert.Equal(t, 15*time.Second, b.Next(4))
	assert.Equal(t, 15*time.Second, b.Next(100))
}

func TestBackoffZeroFailures(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: 15 * time.Second}

	assert.Equal(t, time.Duration(0), b.Next(0))
	assert.Equal(t, time.Duration(0), b.Next(-1))
}

func TestBackoffUncapped(t *testing.T) {
	b := Backoff{Base: time.Second}

	assert.Equal(t, 40*time.Second, b.Next(40))
}
