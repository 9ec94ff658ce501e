package utils

import (
	"math/rand"
	"sync"
	"time"
)

var (
	// Clock, replaceable in tests.
	timeNow = time.Now

	randomGenerator     = rand.New(rand.NewSource(time.Now().UnixNano()))
	randomGeneratorLock sync.Mutex
)

// GetTimeNow returns the current time from the replaceable clock.
func GetTimeNow() time.Time {
	return timeNow()
}

// SetTimeNow replaces the clock and returns the previous one. Tests only.
func SetTimeNow(fn func() time.Time) func() time.Time {
	old := timeNow
	timeNow = fn
	return old
}

// RandomIntn returns a number in [0,n) from the shared generator.
func RandomIntn(n int) int {
	randomGeneratorLock.Lock()
	defer randomGeneratorLock.Unlock()
	return randomGenerator.Intn(n)
}

// SetRandomSeed reseeds the shared generator.
func SetRandomSeed(seed int64) {
	randomGeneratorLock.Lock()
	defer randomGeneratorLock.Unlock()
	randomGenerator = rand.New(rand.NewSource(seed))
}
