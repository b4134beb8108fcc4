package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kuuji/policygate/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fake host ---

// fakeHost models the host's policy rules and FORWARD chain well enough to
// check idempotence. Deleting a missing rule exits 2, like ip(8) and
// iptables(8) do; adding a duplicate routing rule succeeds, as the kernel
// allows duplicate "from X table Y" rules.
type fakeHost struct {
	mu       sync.Mutex
	calls    [][]string
	rules    []string // "from <ip> table <t>"
	forward  []string // "-s <ip> -d <net> -j DROP", head first
	failWith error    // returned for every call when set
}

func (h *fakeHost) Run(ctx context.Context, argv ...string) (executor.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, append([]string(nil), argv...))
	if h.failWith != nil {
		return executor.Result{Argv: argv, ExitCode: -1}, h.failWith
	}

	res := executor.Result{Argv: argv}
	switch {
	case len(argv) == 7 && argv[0] == "ip" && argv[1] == "rule":
		rule := strings.Join(argv[3:], " ")
		switch argv[2] {
		case "add":
			h.rules = append(h.rules, rule)
		case "del":
			var ok bool
			h.rules, ok = remove(h.rules, rule)
			if !ok {
				res.ExitCode = 2
				res.Stderr = "RTNETLINK answers: No such file or directory"
			}
		}
	case len(argv) == 9 && argv[0] == "iptables" && argv[2] == "FORWARD":
		rule := strings.Join(argv[3:], " ")
		switch argv[1] {
		case "-I":
			h.forward = append([]string{rule}, h.forward...)
		case "-A":
			h.forward = append(h.forward, rule)
		case "-D":
			var ok bool
			h.forward, ok = remove(h.forward, rule)
			if !ok {
				res.ExitCode = 1
				res.Stderr = "iptables: Bad rule (does a matching rule exist in that chain?)."
			}
		}
	default:
		res.ExitCode = 127
	}
	return res, nil
}

func (h *fakeHost) commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	for i, c := range h.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

func (h *fakeHost) state() (rules, forward []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.rules...), append([]string(nil), h.forward...)
}

// remove deletes the first occurrence of s.
func remove(list []string, s string) ([]string, bool) {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}

var errBinaryMissing = errors.New(`exec: "sudo": executable file not found in $PATH`)
