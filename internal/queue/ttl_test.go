package queue

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTTL(t *testing.T) {
	assert.Equal(t, DefaultIdleTTL, NormalizeTTL(0, false), "undefined -> DEFAULT")
	assert.Equal(t, time.Duration(0), NormalizeTTL(0, true), "explicit zero -> keep alive")
	assert.Equal(t, DefaultIdleTTL, NormalizeTTL(-500, true), "negative -> DEFAULT")
	assert.Equal(t, DefaultIdleTTL, NormalizeTTL(math.NaN(), true), "NaN -> DEFAULT")
	assert.Equal(t, DefaultIdleTTL, NormalizeTTL(math.Inf(1), true), "+Inf -> DEFAULT")
	assert.Equal(t, DefaultIdleTTL, NormalizeTTL(math.Inf(-1), true), "-Inf -> DEFAULT")
	assert.Equal(t, 1500*time.Millisecond, NormalizeTTL(1500.4, true), "positive -> round(ms)")
}

func TestFirstWaitWindowZeroMeansForever(t *testing.T) {
	assert.Equal(t, time.Duration(0), FirstWaitWindow(0), "ttl=0 must never be floored into a timeout")
}

func TestFirstWaitWindowFloorsAtOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, FirstWaitWindow(500*time.Millisecond))
	assert.Equal(t, 2*time.Second, FirstWaitWindow(2*time.Second))
}
