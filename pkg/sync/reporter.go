package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Reporter narrates sync progress to structured logs. Kinds map to
// log levels so one run reads as a coherent sequence in the output.
type Reporter struct {
	log *slog.Logger
}

func NewReporter(log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}

	return &Reporter{log: log}
}

func (r *Reporter) Heading(s string) {
	r.log.Info(s, "kind", "heading")
}

func (r *Reporter) Progress(s string, args ...any) {
	r.log.Info(fmt.Sprintf(s, args...), "kind", "progress")
}

func (r *Reporter) Success(s string, args ...any) {
	r.log.Info(fmt.Sprintf(s, args...), "kind", "success")
}

func (r *Reporter) Failure(s string, args ...any) {
	r.log.Error(fmt.Sprintf(s, args...), "kind", "failure")
}

type Result struct {
	Success string
	Failure string
}

// Result sends a failure progress if err is not nil, else a success.
func (r *Reporter) Result(err error, result Result) {
	if err != nil {
		r.Failure("%s", result.Failure)
	} else {
		r.Success("%s", result.Success)
	}
}

// ProcessReporter periodically reports throughput over a counted
// batch, for long full-index runs over large repos.
type ProcessReporter struct {
	*Reporter
	TotalCount int
	Template   ProcessTemplate

	period time.Duration
	count  atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

type ProcessReporterOptions struct {
	ReportPeriod time.Duration
	Template     ProcessTemplate
	TotalCount   int
}

type ProcessTemplate struct {
	PresentAction string // Present tense of the action e.g. "indexing"
	PastAction    string // Past tense of the action e.g. "indexed"
	Subject       string // The subject being processed in plural form e.g. "templates"
}

func (r *Reporter) NewProcess(opts *ProcessReporterOptions) *ProcessReporter {
	period := opts.ReportPeriod
	if period <= 0 {
		period = 5 * time.Second
	}

	return &ProcessReporter{
		Reporter:   r,
		TotalCount: opts.TotalCount,
		Template:   opts.Template,
		period:     period,
	}
}

// StartProcess builds a ProcessReporter and starts its periodic
// reporting in one call.
func (r *Reporter) StartProcess(ctx context.Context, total int, tpl ProcessTemplate) *ProcessReporter {
	p := r.NewProcess(&ProcessReporterOptions{TotalCount: total, Template: tpl})
	p.Start(ctx)

	return p
}

func (p *ProcessReporter) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	p.Progress("%s %d %s", p.Template.PresentAction, p.TotalCount, p.Template.Subject)
	ticker := time.NewTicker(p.period)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.sendProgress()
			case <-ctx.Done():
				p.sendProgress() // Send final processed count
				close(p.done)
				return
			}
		}
	}()
}

func (p *ProcessReporter) Done() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Increment is safe from any goroutine, including before Start.
func (p *ProcessReporter) Increment(delta int) {
	p.count.Add(int64(delta))
}

// Count is the number of items processed so far.
func (p *ProcessReporter) Count() int {
	return int(p.count.Load())
}

func (p *ProcessReporter) sendProgress() {
	p.Progress("%s %d/%d %s", p.Template.PastAction, p.Count(), p.TotalCount, p.Template.Subject)
}
