package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTask_RunExecutesFnThenCleanup(t *testing.T) {
	var order []string
	tsk := New(
		func() { order = append(order, "fn") },
		func() { order = append(order, "cleanup") },
	)
	tsk.Run()
	assert.Equal(t, []string{"fn", "cleanup"}, order)
}

func TestTask_RunWithoutCleanup(t *testing.T) {
	ran := false
	tsk := New(func() { ran = true }, nil)
	assert.NotPanics(t, func() { tsk.Run() })
	assert.True(t, ran)
}

func TestTask_RunCleanupOnlySkipsFn(t *testing.T) {
	fnRan := false
	cleanupRan := false
	tsk := New(func() { fnRan = true }, func() { cleanupRan = true })
	tsk.RunCleanupOnly()
	assert.False(t, fnRan)
	assert.True(t, cleanupRan)
}

func TestTask_NewPanicsOnNilFn(t *testing.T) {
	assert.Panics(t, func() { New(nil, nil) })
}
