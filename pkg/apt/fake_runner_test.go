package apt

import (
	"context"
	"strings"
	"sync"
)

type runResult struct {
	out string
	err error
}

// fakeRunner answers commands by the prefix of their joined command line. Scripted results
// for one prefix are consumed in order; the last one repeats.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	envs    [][]string
	results map[string][]runResult
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string][]runResult{}}
}

func (f *fakeRunner) on(prefix string, out string, err error) *fakeRunner {
	f.results[prefix] = append(f.results[prefix], runResult{out: out, err: err})
	return f
}

func (f *fakeRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, line)
	f.envs = append(f.envs, env)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	best := ""
	for prefix := range f.results {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	queue := f.results[best]
	if len(queue) == 0 {
		return nil, nil
	}
	r := queue[0]
	if len(queue) > 1 {
		f.results[best] = queue[1:]
	}
	return []byte(r.out), r.err
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
