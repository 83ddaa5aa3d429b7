package ui_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trobanga/hermes/internal/ui"
)

func TestProgressBar_Creation(t *testing.T) {
	bar := ui.NewProgressBar(100, "Converting messages")

	assert.NotNil(t, bar)
	assert.Equal(t, 0.0, bar.GetPercentage())
}

func TestProgressBar_Add(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(100, "Test", &buf)

	assert.NoError(t, bar.Add(25))
	assert.Equal(t, 25.0, bar.GetPercentage())

	assert.NoError(t, bar.Add(25))
	assert.Equal(t, 50.0, bar.GetPercentage())

	assert.NoError(t, bar.Finish())
}

func TestProgressBar_ConcurrentAdd(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(80, "Test", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = bar.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, bar.GetPercentage())
}

func TestProgressBar_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(0, "Test", &buf)
	assert.Equal(t, 0.0, bar.GetPercentage())
}

func TestProgressBar_ElapsedTime(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewProgressBarWithWriter(10, "Test", &buf)
	assert.GreaterOrEqual(t, bar.GetElapsedTime().Nanoseconds(), int64(0))
}
