package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brayns/brayns_server/internal/loader"
	"github.com/brayns/brayns_server/internal/model"
	"github.com/rs/zerolog/log"
)

// The upload and load phases each own half of the progress range.
const (
	uploadWeight = 0.5
	loadStart    = uploadWeight
	loadWeight   = 1 - uploadWeight

	// Buffers grow on demand past this size instead of trusting the declared size up front.
	maxPreallocation = 16 * 1024 * 1024
)

type State int

const (
	StateAccumulating State = iota
	StateComplete
	StateLoading
	StateDone
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateLoading:
		return "loading"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateErrored
}

type ProgressFunc func(operation string, amount float64)

type Registry interface {
	IsSupportedType(typ string) bool
	SuitableLoader(filename, typ, loaderName string) (loader.Loader, error)
}

type Sink interface {
	AddModels(models []*model.Model, params model.Params) []*model.Descriptor
}

// Archived describes where a completed upload was stored.
type Archived struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

type Archiver interface {
	Archive(ctx context.Context, chunksID, name, typ string, data []byte) (*Archived, error)
}

type Deps struct {
	Registry Registry
	Sink     Sink
	// Archiver is optional.
	Archiver Archiver
	Progress ProgressFunc
	Timeout  time.Duration
	MaxSize  uint64
}

type Task struct {
	params  Params
	deps    Deps
	monitor *Monitor
	ctx     context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	buf         []byte
	received    uint64
	state       State
	err         error
	descriptors []*model.Descriptor
	archived    *Archived

	progressMu sync.Mutex
	progress   float64
}

// NewTask validates params and returns a task already accepting chunks.
func NewTask(params Params, deps Deps) (*Task, error) {
	if err := params.validate(deps.Registry, deps.MaxSize); err != nil {
		return nil, err
	}

	prealloc := params.Size
	if prealloc > maxPreallocation {
		prealloc = maxPreallocation
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		params:  params,
		deps:    deps,
		monitor: NewMonitor(),
		ctx:     ctx,
		cancel:  cancel,
		buf:     make([]byte, 0, prealloc),
		state:   StateAccumulating,
	}, nil
}

// AddChunk appends a copy of data. The task completes when the declared size is reached.
func (t *Task) AddChunk(data []byte) error {
	t.mu.Lock()
	switch t.state {
	case StateAccumulating:
	case StateErrored:
		err := t.err
		t.mu.Unlock()
		return err
	default:
		t.mu.Unlock()
		return ErrAlreadyFinished
	}

	received := t.received + uint64(len(data))
	if received > t.params.Size {
		t.state = StateErrored
		t.err = fmt.Errorf("%w: %d bytes received, %d declared", ErrChunkTooLarge, received, t.params.Size)
		t.buf = nil
		err := t.err
		t.mu.Unlock()

		t.monitor.Notify()
		return err
	}

	t.buf = append(t.buf, data...)
	t.received = received
	complete := received == t.params.Size
	if complete {
		t.state = StateComplete
	}
	t.mu.Unlock()

	t.report("Receiving model", uploadWeight*float64(received)/float64(t.params.Size))
	if complete {
		t.monitor.Notify()
	}
	return nil
}

// Run waits for every chunk, loads the buffer and commits the models to the sink.
func (t *Task) Run(ctx context.Context) ([]*model.Descriptor, error) {
	runCtx, cancelRun := context.WithCancel(t.ctx)
	defer cancelRun()
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	waitCtx := runCtx
	if t.deps.Timeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(runCtx, t.deps.Timeout)
		defer cancelWait()
	}
	waitErr := t.monitor.Wait(waitCtx)

	t.mu.Lock()
	switch t.state {
	case StateComplete:
	case StateErrored:
		err := t.err
		t.mu.Unlock()
		return nil, err
	case StateAccumulating:
		if errors.Is(waitErr, context.DeadlineExceeded) && runCtx.Err() == nil {
			t.state = StateErrored
			t.err = fmt.Errorf("%w after %s (%d of %d bytes)", ErrUploadTimeout, t.deps.Timeout, t.received, t.params.Size)
			t.buf = nil
			err := t.err
			t.mu.Unlock()
			return nil, err
		}
		t.state = StateCancelled
		t.err = ErrCancelled
		t.buf = nil
		t.mu.Unlock()
		return nil, ErrCancelled
	default:
		t.mu.Unlock()
		return nil, ErrCancelled
	}

	data := t.buf
	t.buf = nil
	t.state = StateLoading
	t.mu.Unlock()

	t.report("Loading model", loadStart)

	if t.deps.Archiver != nil {
		archived, err := t.deps.Archiver.Archive(runCtx, t.params.ChunksID, t.params.Name, t.params.Type, data)
		if err != nil {
			log.Warn().Err(err).Str("chunksId", t.params.ChunksID).Msg("[UPLOAD] Failed to archive model")
		} else {
			t.mu.Lock()
			t.archived = archived
			t.mu.Unlock()
		}
	}

	l, err := t.deps.Registry.SuitableLoader(t.params.Name, t.params.Type, t.params.LoaderName)
	if err != nil {
		return nil, t.fail(err)
	}

	blob := loader.Blob{Type: t.params.Type, Name: t.params.Name, Data: data}
	models, err := t.importModels(runCtx, l, blob)
	if err != nil {
		if runCtx.Err() != nil {
			t.markCancelled()
			return nil, ErrCancelled
		}
		return nil, t.fail(err)
	}

	t.mu.Lock()
	if t.state != StateLoading || runCtx.Err() != nil {
		t.mu.Unlock()
		t.markCancelled()
		return nil, ErrCancelled
	}
	descriptors := t.deps.Sink.AddModels(models, t.params.Params)
	t.descriptors = descriptors
	t.state = StateDone
	t.mu.Unlock()

	t.report("Done", 1)
	return descriptors, nil
}

// importModels turns a loader panic into ErrMalformedData so the task still
// reaches a terminal state.
func (t *Task) importModels(ctx context.Context, l loader.Loader, blob loader.Blob) (models []*model.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("chunksId", t.params.ChunksID).
				Str("loader", l.Name()).
				Interface("panic", r).
				Msg("[UPLOAD] Loader panicked")
			models, err = nil, fmt.Errorf("%w: loader %s panicked: %v", loader.ErrMalformedData, l.Name(), r)
		}
	}()

	return l.ImportFromBlob(ctx, blob, func(operation string, amount float64) {
		t.report(operation, loadStart+loadWeight*clamp01(amount))
	}, t.params.LoaderProperties)
}

// Cancel releases a blocked Run and discards the buffer. A running load is cancelled cooperatively.
func (t *Task) Cancel() {
	t.markCancelled()
	t.cancel()
	t.monitor.Notify()
}

func (t *Task) Disconnect() {
	log.Debug().Str("chunksId", t.params.ChunksID).Msg("[UPLOAD] Client disconnected, cancelling upload")
	t.Cancel()
}

func (t *Task) markCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateCancelled
	t.err = ErrCancelled
	t.buf = nil
}

func (t *Task) fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Terminal() {
		t.state = StateErrored
		t.err = err
		t.buf = nil
	}
	return err
}

func (t *Task) report(operation string, amount float64) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()

	if amount < t.progress {
		return
	}
	t.progress = amount
	if t.deps.Progress != nil {
		t.deps.Progress(operation, amount)
	}
}

func (t *Task) Params() Params {
	return t.params
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Finished reports whether the task reached a terminal state and can be dropped.
func (t *Task) Finished() bool {
	return t.State().Terminal()
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) Received() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

func (t *Task) Progress() float64 {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return t.progress
}

func (t *Task) Descriptors() []*model.Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.descriptors
}

func (t *Task) Archived() *Archived {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.archived
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
