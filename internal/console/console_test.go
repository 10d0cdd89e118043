package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nnfs/internal/transport"
	"github.com/marmos91/nnfs/pkg/adapter/nnfs"
	"github.com/marmos91/nnfs/pkg/client"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr error
	}{
		{"bind 0.0.0.0:24004", BindCommand{Address: "0.0.0.0", Port: 24004}, nil},
		{"  BIND 127.0.0.1:80  ", BindCommand{Address: "127.0.0.1", Port: 80}, nil},
		{"bind [::1]:9000", BindCommand{Address: "::1", Port: 9000}, nil},
		{"start 4", StartCommand{Workers: 4}, nil},
		{"start 16", StartCommand{Workers: 16}, nil},
		{"stop", StopCommand{}, nil},
		{"status", StatusCommand{}, nil},
		{"help", HelpCommand{}, nil},
		{"quit", QuitCommand{}, nil},
		{"exit", QuitCommand{}, nil},

		{"", nil, ErrUnknownCommand},
		{"listen 1", nil, ErrUnknownCommand},
		{"bind", nil, ErrInvalidArguments},
		{"bind 127.0.0.1", nil, ErrInvalidArguments},
		{"bind localhost:80", nil, ErrInvalidArguments},
		{"bind 300.0.0.1:80", nil, ErrInvalidArguments},
		{"bind 127.0.0.1:0", nil, ErrInvalidArguments},
		{"bind 127.0.0.1:65536", nil, ErrInvalidArguments},
		{"bind 127.0.0.1:http", nil, ErrInvalidArguments},
		{"start", nil, ErrInvalidArguments},
		{"start 0", nil, ErrInvalidArguments},
		{"start 17", nil, ErrInvalidArguments},
		{"start four", nil, ErrInvalidArguments},
		{"stop now", nil, ErrInvalidArguments},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_WorkerRangeMessage(t *testing.T) {
	_, err := Parse("start 20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 16")
}

// syncBuffer is a bytes.Buffer safe for the console's background writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()

	ep, err := transport.Bind("127.0.0.1", 0)
	require.NoError(t, err)
	port := ep.Addr().Port
	require.NoError(t, ep.Close())
	return port
}

// adapterFactory creates real adapters and remembers each one.
type adapterFactory struct {
	mu       sync.Mutex
	adapters []*nnfs.NNFSAdapter
}

func (f *adapterFactory) newTarget() (Target, error) {
	a, err := nnfs.New(nnfs.NNFSConfig{ShutdownTimeout: 2 * time.Second}, nil)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.adapters = append(f.adapters, a)
	f.mu.Unlock()
	return a, nil
}

func (f *adapterFactory) created() []*nnfs.NNFSAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*nnfs.NNFSAdapter(nil), f.adapters...)
}

func fixedTarget(target Target) NewTargetFunc {
	return func() (Target, error) { return target, nil }
}

func TestRun_WithAdapter(t *testing.T) {
	factory := &adapterFactory{}

	script := strings.Join([]string{
		"status",
		"start 2",
		"bind 127.0.0.1:" + strconv.Itoa(freePort(t)),
		"",
		"start 2",
		"status",
		"bogus",
		"quit",
		"status",
	}, "\n")

	var out syncBuffer
	require.NoError(t, Run(context.Background(), strings.NewReader(script), &out, factory.newTarget))

	output := out.String()
	assert.Contains(t, output, "MENU:")
	assert.Contains(t, output, "STATUS: stopped on unbound")
	assert.Contains(t, output, "ERROR: server stopped: "+nnfs.ErrNotBound.Error())
	assert.Contains(t, output, "SUCCESS: bound to 127.0.0.1:")
	assert.Contains(t, output, "SUCCESS: started listening on 127.0.0.1:")
	assert.Contains(t, output, "STATUS: running on 127.0.0.1:")
	assert.Contains(t, output, "workers=2")
	assert.Contains(t, output, "ERROR: invalid user command")
	assert.Contains(t, output, "STATUS: quitting")
	assert.Contains(t, output, "STATUS: server stopped")
	assert.Equal(t, 2, strings.Count(output, "STATUS: stopped on")+strings.Count(output, "STATUS: running on"),
		"lines after quit are not executed")
}

func TestRun_RestartAfterStop(t *testing.T) {
	factory := &adapterFactory{}
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	in, w := io.Pipe()
	defer w.Close()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), in, &out, factory.newTarget) }()

	_, err := io.WriteString(w, "bind "+addr+"\nstart 2\nstop\nstart 2\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		adapters := factory.created()
		if len(adapters) != 2 {
			return false
		}
		select {
		case <-adapters[1].Ready():
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "start after stop serves on a fresh adapter")

	ctx := context.Background()
	c, err := client.Dial(ctx, "127.0.0.1", port, transport.Options{})
	require.NoError(t, err)
	_, err = c.Ping(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	_, err = io.WriteString(w, "status\nquit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after quit")
	}

	output := out.String()
	assert.Equal(t, 2, strings.Count(output, "SUCCESS: started listening on "+addr+" with 2 workers"))
	assert.Contains(t, output, "STATUS: running on "+addr)
	assert.NotContains(t, output, nnfs.ErrStopped.Error())
	assert.NotContains(t, output, "ERROR")
}

func TestRun_BindAfterStop(t *testing.T) {
	factory := &adapterFactory{}
	first := "127.0.0.1:" + strconv.Itoa(freePort(t))
	second := "127.0.0.1:" + strconv.Itoa(freePort(t))

	script := strings.Join([]string{
		"bind " + first,
		"start 1",
		"stop",
		"status",
		"bind " + second,
		"start 1",
		"status",
		"quit",
	}, "\n")

	var out syncBuffer
	require.NoError(t, Run(context.Background(), strings.NewReader(script), &out, factory.newTarget))

	output := out.String()
	assert.Contains(t, output, "STATUS: stopped on")
	assert.Contains(t, output, "SUCCESS: bound to "+second)
	assert.Contains(t, output, "SUCCESS: started listening on "+second)
	assert.Contains(t, output, "STATUS: running on "+second)
	assert.NotContains(t, output, "ERROR")
	assert.Len(t, factory.created(), 2)
}

func TestRun_BindWhileRunning(t *testing.T) {
	target := newFakeTarget()

	var out syncBuffer
	require.NoError(t, Run(context.Background(), strings.NewReader("start 1\nbind 127.0.0.1:80\n"), &out, fixedTarget(target)))

	assert.Contains(t, out.String(), "ERROR: server is running, stop it before binding")
}

func TestRun_FactoryError(t *testing.T) {
	err := Run(context.Background(), strings.NewReader(""), &syncBuffer{}, func() (Target, error) {
		return nil, errors.New("no sockets left")
	})
	assert.ErrorContains(t, err, "no sockets left")
}

// fakeTarget records calls and fails on demand.
type fakeTarget struct {
	bindErr  error
	stops    int
	ready    chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{ready: make(chan struct{}), stopped: make(chan struct{})}
}

func (f *fakeTarget) Bind(string, int) error { return f.bindErr }

func (f *fakeTarget) Start(ctx context.Context, workers int) error {
	close(f.ready)
	select {
	case <-ctx.Done():
	case <-f.stopped:
	}
	return nil
}

func (f *fakeTarget) Stop(context.Context) error {
	f.stops++
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeTarget) Ready() <-chan struct{}      { return f.ready }
func (f *fakeTarget) Addr() string                { return "127.0.0.1:1" }
func (f *fakeTarget) Workers() int                { return 1 }
func (f *fakeTarget) GetActiveConnections() int32 { return 0 }
func (f *fakeTarget) PendingJobs() int            { return 0 }
func (f *fakeTarget) IdleWorkers() int            { return 1 }

func TestRun_BindError(t *testing.T) {
	target := newFakeTarget()
	target.bindErr = errors.New("address already in use")

	var out syncBuffer
	require.NoError(t, Run(context.Background(), strings.NewReader("bind 127.0.0.1:80\n"), &out, fixedTarget(target)))

	assert.Contains(t, out.String(), "ERROR: error binding: address already in use")
}

func TestRun_StopCommand(t *testing.T) {
	target := newFakeTarget()

	var out syncBuffer
	require.NoError(t, Run(context.Background(), strings.NewReader("stop\nstart 1\nstop\nstop\n"), &out, fixedTarget(target)))

	output := out.String()
	assert.Contains(t, output, "ERROR: server is not running")
	assert.Contains(t, output, "STATUS: server stopped")
	assert.Equal(t, 1, target.stops, "end of input does not stop twice")
}

func TestRun_EndOfInputStopsServer(t *testing.T) {
	target := newFakeTarget()

	var out syncBuffer
	require.NoError(t, Run(context.Background(), strings.NewReader("start 1\n"), &out, fixedTarget(target)))

	assert.Equal(t, 1, target.stops)
}

func TestRun_ContextCancel(t *testing.T) {
	target := newFakeTarget()

	ctx, cancel := context.WithCancel(context.Background())
	in, w := io.Pipe()
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, in, &syncBuffer{}, fixedTarget(target)) }()

	_, err := w.Write([]byte("start 1\n"))
	require.NoError(t, err)
	<-target.ready

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
