package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linke370/elysia-ai-companion/pkg/core"
)

func TestMemoryError(t *testing.T) {
	err := core.NewMemoryError("ProcessConversation", core.ErrPersistence)
	assert.EqualError(t, err, "memory: ProcessConversation: persistence failed")
	assert.ErrorIs(t, err, core.ErrPersistence)

	var memErr *core.MemoryError
	assert.True(t, errors.As(err, &memErr))
	assert.Equal(t, "ProcessConversation", memErr.Op)

	withUser := &core.MemoryError{Op: "PurgeUser", UserID: "user_001", Err: core.ErrStorageOperation}
	assert.EqualError(t, withUser, "memory: PurgeUser: user_001: storage operation failed")

	assert.Nil(t, core.NewMemoryError("Noop", nil))
}

func TestFragmentFailure(t *testing.T) {
	f := core.FragmentFailure{
		Index: 2,
		Text:  "蓝色",
		Err:   fmt.Errorf("%w: disk full", core.ErrPersistence),
	}

	assert.Equal(t, `candidate 2 ("蓝色"): persistence failed: disk full`, f.Error())
	assert.ErrorIs(t, f, core.ErrPersistence)
	assert.NotErrorIs(t, f, core.ErrExtraction)
}
