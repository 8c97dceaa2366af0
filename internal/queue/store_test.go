package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 30 * time.Second

	assert.Equal(t, 30*time.Second, Backoff(base, 1))
	assert.Equal(t, 60*time.Second, Backoff(base, 2))
	assert.Equal(t, 120*time.Second, Backoff(base, 3))
	assert.Equal(t, 240*time.Second, Backoff(base, 4))
}

func TestBackoffClampsAttempts(t *testing.T) {
	base := 30 * time.Second

	assert.Equal(t, base, Backoff(base, 0))
	assert.Equal(t, base, Backoff(base, -3))
}

func TestBackoffCap(t *testing.T) {
	assert.Equal(t, time.Hour, Backoff(30*time.Second, 20))
}
