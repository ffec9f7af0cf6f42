package framework

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

func nameOf(r Runnable, index int) string {
	if named, ok := r.(Named); ok {
		return named.Name()
	}
	return strconv.Itoa(index)
}

type exit struct {
	name string
	err  error
}

// Runner runs the long-lived tasks of a process, e.g. the device loop and
// the companion link. The first task failing stops the others and Wait
// reports every failure prefixed with the task name.
type Runner struct {
	Context context.Context
	Runners []Runnable

	cancel context.CancelFunc
	exits  chan exit
	exitCh chan struct{}
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner with a specified context.
func NewRunnerWith(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		Context: ctx,
		cancel:  cancel,
		exits:   make(chan exit),
		exitCh:  make(chan struct{}),
	}
}

// HandleSignals stops the tasks on CtrlC or SIGTERM. A second signal makes
// Wait return without waiting.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Infof("%v: stopping", sig)
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}()
	return r
}

// Go spawns Runnables with the runner context.
func (r *Runner) Go(runners ...Runnable) *Runner {
	return r.GoWith(r.Context, runners...)
}

// GoWith spawns Runnables with a specified context. Failures still stop the
// tasks started with Go.
func (r *Runner) GoWith(ctx context.Context, runners ...Runnable) *Runner {
	for _, runner := range runners {
		name := nameOf(runner, len(r.Runners))
		r.Runners = append(r.Runners, runner)
		go func(runner Runnable, name string) {
			glog.V(4).Infof("%s started", name)
			r.exits <- exit{name: name, err: runner.Run(ctx)}
		}(runner, name)
	}
	return r
}

// Wait waits until all Runnables stop. Tasks ending with context.Canceled
// are not failures.
func (r *Runner) Wait() error {
	defer r.cancel()
	var errs AggregatedError
	for range r.Runners {
		var e exit
		select {
		case <-r.exitCh:
			return ErrForcedExit
		case e = <-r.exits:
		}
		switch {
		case e.err == nil:
			glog.V(4).Infof("%s stopped", e.name)
		case errors.Is(e.err, context.Canceled):
			glog.V(4).Infof("%s canceled", e.name)
		default:
			glog.Errorf("%s failed: %v", e.name, e.err)
			errs.Add(fmt.Errorf("%s: %w", e.name, e.err))
			r.cancel()
		}
	}
	return errs.Aggregate()
}

// RunWithContextCancel runs a blocking func which doesn't accept a context,
// e.g. http.Server.ListenAndServe. onCancel is called only when ctx is done
// and must make fn return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return context.Canceled
	case err := <-errCh:
		return err
	}
}
