package orchestrator

import (
	"os"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/moby/term"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	xterm "golang.org/x/term"

	"github.com/replicate/buildahutil/pkg/metrics"
)

// progressBars renders one mpb bar per stage, left pending until
// runStageOuter reports an outcome. Only constructed when stdout is a
// terminal; otherwise the outer loop falls back to the plain per-stage
// log files spec.md §4.H already produces. Each bar's trailing label is
// backed by an atomic.Value rather than a plain string field since mpb
// renders decorators from its own goroutine while finished is called
// from the outer dispatch loop.
type progressBars struct {
	p      *mpb.Progress
	bars   map[string]*mpb.Bar
	labels map[string]*atomic.Value
}

func newProgress(stages []string) (*progressBars, bool) {
	if !isTerminal() || len(stages) == 0 {
		return nil, false
	}

	p := mpb.New(mpb.WithWidth(terminalWidth()), mpb.WithOutput(os.Stderr))
	bars := make(map[string]*mpb.Bar, len(stages))
	labels := make(map[string]*atomic.Value, len(stages))
	for _, name := range stages {
		label := &atomic.Value{}
		label.Store("pending")
		labels[name] = label
		bars[name] = p.New(1,
			mpb.BarStyle().Rbound("|"),
			mpb.PrependDecorators(decor.Name(name+" ")),
			mpb.AppendDecorators(decor.Any(func(decor.Statistics) string {
				return label.Load().(string)
			})),
		)
	}
	return &progressBars{p: p, bars: bars, labels: labels}, true
}

// finished relabels name's bar with outcome and marks it complete.
func (b *progressBars) finished(name string, outcome metrics.Outcome) {
	bar, ok := b.bars[name]
	if !ok {
		return
	}
	if label, ok := b.labels[name]; ok {
		label.Store(string(outcome))
	}
	bar.SetCurrent(1)
}

func (b *progressBars) wait() {
	b.p.Wait()
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// terminalWidth tries moby/term first, falling back to
// golang.org/x/term for platforms or fds moby/term's ioctl path misses,
// and to 80 columns when neither reports a width.
func terminalWidth() int {
	fd := os.Stderr.Fd()
	if ws, err := term.GetWinsize(fd); err == nil && ws.Width > 0 {
		return int(ws.Width)
	}
	if w, _, err := xterm.GetSize(int(fd)); err == nil && w > 0 {
		return w
	}
	return 80
}
