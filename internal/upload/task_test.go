package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brayns/brayns_server/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResult struct {
	err  error
	done chan struct{}
}

func runAsync(task *Task, ctx context.Context) *runResult {
	r := &runResult{done: make(chan struct{})}
	go func() {
		_, r.err = task.Run(ctx)
		close(r.done)
	}()
	return r
}

func (r *runResult) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNewTask_Validation(t *testing.T) {
	l := &fakeLoader{}
	deps := newDeps(l, &fakeSink{})

	tests := []struct {
		name     string
		params   Params
		expected error
	}{
		{"empty model", meshParams("a", 0), ErrEmptyModel},
		{"missing type", Params{ChunksID: "a", Size: 10}, ErrMissingType},
		{"unsupported type", Params{ChunksID: "a", Size: 10, Type: "h5"}, ErrUnsupportedType},
		{"missing chunks id", meshParams("", 10), ErrMissingChunksID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := NewTask(tt.params, deps)
			assert.ErrorIs(t, err, tt.expected)
			assert.Nil(t, task)
		})
	}
}

func TestNewTask_ShouldRejectModelAboveMaxSize(t *testing.T) {
	deps := newDeps(&fakeLoader{}, &fakeSink{})
	deps.MaxSize = 100

	_, err := NewTask(meshParams("a", 101), deps)

	assert.ErrorIs(t, err, ErrModelTooLarge)
}

func TestTask_ShouldCompleteAndLoadOnceWhenAllChunksArrive(t *testing.T) {
	// given
	l := &fakeLoader{}
	sink := &fakeSink{}
	recorder := &progressRecorder{}
	deps := newDeps(l, sink)
	deps.Progress = recorder.record
	task, err := NewTask(meshParams("abc", 1024), deps)
	require.NoError(t, err)
	result := runAsync(task, context.Background())

	// when
	require.NoError(t, task.AddChunk(make([]byte, 256)))
	require.NoError(t, task.AddChunk(make([]byte, 512)))
	require.NoError(t, task.AddChunk(make([]byte, 256)))

	// then
	require.NoError(t, result.wait(t))
	assert.Equal(t, StateDone, task.State())
	assert.Equal(t, 1, l.Calls())
	assert.Len(t, l.blobs[0].Data, 1024)
	assert.Equal(t, "mesh", l.blobs[0].Type)
	assert.Equal(t, 1, sink.Commits())
	require.Len(t, task.Descriptors(), 1)
	assert.Equal(t, "foo.obj", task.Descriptors()[0].Name)
	assert.True(t, task.Finished())
	assert.Equal(t, 1.0, task.Progress())

	amounts := recorder.values()
	require.NotEmpty(t, amounts)
	assert.Equal(t, []float64{0.125, 0.375, 0.5}, amounts[:3])
	assert.Equal(t, 1.0, amounts[len(amounts)-1])
	for i := 1; i < len(amounts); i++ {
		assert.GreaterOrEqual(t, amounts[i], amounts[i-1], "progress must not decrease")
	}
	sawLoadPhase := false
	for _, a := range amounts[3:] {
		assert.GreaterOrEqual(t, a, 0.5)
		assert.LessOrEqual(t, a, 1.0)
		sawLoadPhase = true
	}
	assert.True(t, sawLoadPhase)
}

func TestTask_ShouldCompleteBeforeRunStarts(t *testing.T) {
	// given
	l := &fakeLoader{}
	task, err := NewTask(meshParams("abc", 4), newDeps(l, &fakeSink{}))
	require.NoError(t, err)

	// when
	require.NoError(t, task.AddChunk([]byte{1, 2, 3, 4}))
	descriptors, err := task.Run(context.Background())

	// then
	require.NoError(t, err)
	assert.Len(t, descriptors, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, l.blobs[0].Data)
}

func TestTask_AddChunk_ShouldCopyFrameData(t *testing.T) {
	l := &fakeLoader{}
	task, err := NewTask(meshParams("abc", 2), newDeps(l, &fakeSink{}))
	require.NoError(t, err)

	frame := []byte{7, 8}
	require.NoError(t, task.AddChunk(frame))
	frame[0] = 0

	_, err = task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8}, l.blobs[0].Data)
}

func TestTask_AddChunk_TooLargeShouldErrorTaskAndWakeRun(t *testing.T) {
	// given
	l := &fakeLoader{}
	task, err := NewTask(meshParams("x", 100), newDeps(l, &fakeSink{}))
	require.NoError(t, err)
	result := runAsync(task, context.Background())

	// when
	err = task.AddChunk(make([]byte, 150))

	// then
	assert.ErrorIs(t, err, ErrChunkTooLarge)
	assert.Equal(t, StateErrored, task.State())
	assert.ErrorIs(t, result.wait(t), ErrChunkTooLarge)
	assert.Equal(t, 0, l.Calls())
	assert.Equal(t, uint64(0), task.Received())

	// retrying fails the same way
	assert.ErrorIs(t, task.AddChunk(make([]byte, 1)), ErrChunkTooLarge)
	assert.ErrorIs(t, task.AddChunk(make([]byte, 1)), ErrChunkTooLarge)
}

func TestTask_AddChunk_TooLargeAfterPartialData(t *testing.T) {
	task, err := NewTask(meshParams("x", 100), newDeps(&fakeLoader{}, &fakeSink{}))
	require.NoError(t, err)

	require.NoError(t, task.AddChunk(make([]byte, 60)))
	err = task.AddChunk(make([]byte, 41))

	assert.ErrorIs(t, err, ErrChunkTooLarge)
	assert.True(t, task.Finished())
}

func TestTask_AddChunk_AfterCompletionShouldFail(t *testing.T) {
	task, err := NewTask(meshParams("x", 2), newDeps(&fakeLoader{}, &fakeSink{}))
	require.NoError(t, err)

	require.NoError(t, task.AddChunk([]byte{1, 2}))

	assert.ErrorIs(t, task.AddChunk([]byte{3}), ErrAlreadyFinished)
	assert.Equal(t, StateComplete, task.State())
	assert.False(t, task.Finished())
}

func TestTask_Cancel_ShouldUnblockRunWithoutLoading(t *testing.T) {
	// given
	l := &fakeLoader{}
	sink := &fakeSink{}
	task, err := NewTask(meshParams("x", 100), newDeps(l, sink))
	require.NoError(t, err)
	require.NoError(t, task.AddChunk(make([]byte, 10)))
	result := runAsync(task, context.Background())

	// when
	task.Cancel()

	// then
	assert.ErrorIs(t, result.wait(t), ErrCancelled)
	assert.Equal(t, StateCancelled, task.State())
	assert.Equal(t, 0, l.Calls())
	assert.Equal(t, 0, sink.Commits())
	assert.ErrorIs(t, task.AddChunk(make([]byte, 1)), ErrAlreadyFinished)
}

func TestTask_Disconnect_BeforeRunStarts(t *testing.T) {
	l := &fakeLoader{}
	task, err := NewTask(meshParams("x", 100), newDeps(l, &fakeSink{}))
	require.NoError(t, err)

	task.Disconnect()
	_, err = task.Run(context.Background())

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, l.Calls())
}

func TestTask_Run_ShouldStopWhenContextCancelled(t *testing.T) {
	task, err := NewTask(meshParams("x", 100), newDeps(&fakeLoader{}, &fakeSink{}))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	result := runAsync(task, ctx)

	cancel()

	assert.ErrorIs(t, result.wait(t), ErrCancelled)
	assert.True(t, task.Finished())
}

func TestTask_Run_ShouldTimeOutWhenChunksStall(t *testing.T) {
	// given
	deps := newDeps(&fakeLoader{}, &fakeSink{})
	deps.Timeout = 20 * time.Millisecond
	task, err := NewTask(meshParams("x", 100), deps)
	require.NoError(t, err)
	require.NoError(t, task.AddChunk(make([]byte, 10)))

	// when
	_, err = task.Run(context.Background())

	// then
	assert.ErrorIs(t, err, ErrUploadTimeout)
	assert.Equal(t, StateErrored, task.State())
	assert.ErrorIs(t, task.AddChunk(make([]byte, 1)), ErrUploadTimeout)
}

func TestTask_Cancel_DuringLoadShouldNotCommit(t *testing.T) {
	// given
	l := &fakeLoader{release: make(chan struct{})}
	sink := &fakeSink{}
	task, err := NewTask(meshParams("x", 1), newDeps(l, sink))
	require.NoError(t, err)
	require.NoError(t, task.AddChunk([]byte{1}))
	result := runAsync(task, context.Background())
	require.Eventually(t, func() bool { return l.Calls() == 1 }, time.Second, 5*time.Millisecond)

	// when
	task.Cancel()

	// then
	assert.ErrorIs(t, result.wait(t), ErrCancelled)
	assert.Equal(t, 0, sink.Commits())
	assert.Equal(t, StateCancelled, task.State())
}

func TestTask_Run_ShouldPropagateLoaderError(t *testing.T) {
	loadErr := errors.New("broken mesh")
	l := &fakeLoader{err: loadErr}
	sink := &fakeSink{}
	task, err := NewTask(meshParams("x", 1), newDeps(l, sink))
	require.NoError(t, err)
	require.NoError(t, task.AddChunk([]byte{1}))

	_, err = task.Run(context.Background())

	assert.Equal(t, loadErr, err)
	assert.Equal(t, StateErrored, task.State())
	assert.Equal(t, 0, sink.Commits())
}

func TestTask_Run_ShouldTurnLoaderPanicIntoError(t *testing.T) {
	// given
	sink := &fakeSink{}
	task, err := NewTask(meshParams("x", 1), newDeps(&fakeLoader{panics: true}, sink))
	require.NoError(t, err)
	require.NoError(t, task.AddChunk([]byte{1}))

	// when
	err = runAsync(task, context.Background()).wait(t)

	// then
	assert.ErrorIs(t, err, loader.ErrMalformedData)
	assert.True(t, task.Finished())
	assert.Equal(t, StateErrored, task.State())
	assert.Equal(t, 0, sink.Commits())
}

func TestTask_Run_ShouldArchiveCompletedBuffer(t *testing.T) {
	archiver := &fakeArchiver{}
	deps := newDeps(&fakeLoader{}, &fakeSink{})
	deps.Archiver = archiver
	task, err := NewTask(meshParams("abc", 3), deps)
	require.NoError(t, err)
	require.NoError(t, task.AddChunk([]byte{1, 2, 3}))

	_, err = task.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{3}, archiver.sizes)
	assert.Equal(t, &Archived{Path: "uploads/abc", Checksum: "sum"}, task.Archived())
}

func TestTask_Run_ShouldLoadEvenWhenArchiveFails(t *testing.T) {
	deps := newDeps(&fakeLoader{}, &fakeSink{})
	deps.Archiver = &fakeArchiver{err: errors.New("disk full")}
	task, err := NewTask(meshParams("abc", 1), deps)
	require.NoError(t, err)
	require.NoError(t, task.AddChunk([]byte{1}))

	_, err = task.Run(context.Background())

	require.NoError(t, err)
	assert.Nil(t, task.Archived())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "accumulating", StateAccumulating.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateLoading.Terminal())
}
