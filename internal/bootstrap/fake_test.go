package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kuuji/policygate/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fake locator ---

// fakeLocator reports the interface as found from the foundAt-th call on.
// foundAt <= 0 means never.
type fakeLocator struct {
	name    string
	foundAt int
	err     error
	calls   int
}

func (l *fakeLocator) Locate() (string, bool, error) {
	l.calls++
	if l.err != nil {
		return "", false, l.err
	}
	if l.foundAt > 0 && l.calls >= l.foundAt {
		return l.name, true, nil
	}
	return "", false, nil
}

// --- Fake runner ---

// fakeRunner records every argv and answers with a per-command exit code
// keyed by the joined argv.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	exit  map[string]int
	fail  map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, argv ...string) (executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := strings.Join(argv, " ")
	r.calls = append(r.calls, line)
	if err := r.fail[line]; err != nil {
		return executor.Result{Argv: argv, ExitCode: -1}, err
	}
	return executor.Result{Argv: argv, ExitCode: r.exit[line]}, nil
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// --- Fake sleeper ---

type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slept = append(s.slept, d)
	return nil
}

// --- Fake NAT ---

type fakeNAT struct {
	exists    bool
	existsErr error
	addErr    error
	added     []string
}

func (n *fakeNAT) Exists(ctx context.Context, iface string) (bool, error) {
	return n.exists, n.existsErr
}

func (n *fakeNAT) Add(ctx context.Context, iface string) error {
	if n.addErr != nil {
		return n.addErr
	}
	n.added = append(n.added, iface)
	n.exists = true
	return nil
}

var errNotPermitted = errors.New("operation not permitted")
