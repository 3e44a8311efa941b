package sched

import (
	"log"
	"time"

	"github.com/fatih/color"

	"github.com/cortexbench/cortex/internal/clock"
	"github.com/cortexbench/cortex/internal/kernel"
	"github.com/cortexbench/cortex/internal/replay"
	"github.com/cortexbench/cortex/internal/telemetry"
	"github.com/cortexbench/cortex/internal/window"
	"github.com/cortexbench/cortex/internal/wire"
)

// defaultFailureThreshold is the consecutive-window-failure count at which a
// kernel is demoted to disabled for the remainder of the run.
const defaultFailureThreshold = 8

// kind distinguishes the two placement flavors for failure-handling
// purposes: a Local failure is an ABI contract violation (terminate the
// process), a Remote failure is an ordinary per-window or per-run wire
// error (log and continue, or disable the kernel).
type kind int

const (
	kindLocal kind = iota
	kindRemote
)

type kernelRuntime struct {
	name                string
	kind                kind
	placement           Placement
	outputW, outputC    uint32
	capabilities        uint32
	consecutiveFailures int
	disabled            bool
	nextSequence        uint32 // wire sequence of the next dispatch; not reset between repeats
}

// Name reports the kernel's configured name.
func (kr *kernelRuntime) Name() string { return kr.name }

// Disabled reports whether this kernel has been demoted for the remainder
// of the run.
func (kr *kernelRuntime) Disabled() bool { return kr.disabled }

// Scheduler is the per-run, per-window orchestrator. It owns
// one window.Assembler, drives one replay.Replayer per repeat, and holds a
// homogeneous list of kernelRuntime placements. Window dispatch is
// deliberately single-threaded, since worker parallelism would invalidate
// the latency distributions being measured: each repeat's Replayer runs on
// its own goroutine and calls the assembly callback synchronously, so every
// window is dispatched to every kernel, one at a time, on that goroutine,
// while the goroutine that called RunOnce only watches the repeat's duration
// and the shutdown flag.
type Scheduler struct {
	spec      window.Spec
	assembler *window.Assembler
	shutdown  *clock.Flag
	sink      *telemetry.Sink
	metrics   *telemetry.Metrics
	runID     string

	deadlineOverrideNS uint64 // 0 means "use spec.DeadlineSeconds()"
	warmupWindows      int
	windowTimeout      time.Duration
	failureThreshold   int

	kernels []*kernelRuntime
}

// New builds a Scheduler for one run. warmupSeconds and windowTimeout follow
// the warm-up and per-window timeout policies; deadlineOverrideNS is the optional
// explicit deadline_ms override from the config record (0 disables it).
func New(spec window.Spec, shutdown *clock.Flag, sink *telemetry.Sink, metrics *telemetry.Metrics, runID string, warmupSeconds float64, deadlineOverrideNS uint64, windowTimeout time.Duration, failureThreshold int) *Scheduler {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	return &Scheduler{
		spec:               spec,
		assembler:          window.NewAssembler(spec),
		shutdown:           shutdown,
		sink:               sink,
		metrics:            metrics,
		runID:              runID,
		deadlineOverrideNS: deadlineOverrideNS,
		warmupWindows:      spec.WarmupWindows(warmupSeconds),
		windowTimeout:      windowTimeout,
		failureThreshold:   failureThreshold,
	}
}

// AddLocalKernel registers an already-init'd local kernel instance.
func (s *Scheduler) AddLocalKernel(name string, inst *kernel.Instance) {
	outputW, outputC, caps := inst.OutputShape()
	s.addKernel(name, kindLocal, &Local{Instance: inst}, outputW, outputC, caps)
}

// AddRemoteKernel registers a handshaken remote session.
func (s *Scheduler) AddRemoteKernel(name string, sess *wire.HostSession, outputW, outputC, capabilities uint32) {
	s.addKernel(name, kindRemote, &Remote{Session: sess}, outputW, outputC, capabilities)
}

func (s *Scheduler) addKernel(name string, k kind, placement Placement, outputW, outputC, capabilities uint32) {
	s.kernels = append(s.kernels, &kernelRuntime{
		name:         name,
		kind:         k,
		placement:    placement,
		outputW:      outputW,
		outputC:      outputC,
		capabilities: capabilities,
	})
}

func (s *Scheduler) deadlineOffsetNS() uint64 {
	if s.deadlineOverrideNS != 0 {
		return s.deadlineOverrideNS
	}
	return uint64(s.spec.DeadlineSeconds() * 1e9)
}

// RunOnce executes one measured repeat: it resets the
// window assembler (repeats don't carry assembler state), feeds
// datasetPath through the Replayer for durationSeconds, dispatches every
// assembled window to every active kernel, and returns once the repeat's
// duration has elapsed or the run-wide shutdown flag is observed.
//
// A repeat's own duration-elapsed stop is local to this call: it must not
// leak into s.shutdown, or every subsequent repeat would see shutdown
// already set and exit immediately. A real shutdown request (s.shutdown set
// by InstallSignalHandler) is still honored: it is mirrored into the local
// stop flag so the in-flight repeat winds down too.
func (s *Scheduler) RunOnce(datasetPath string, repeatIndex int, durationSeconds float64) (replay.Stats, error) {
	s.assembler.Reset()
	deadlineOffset := s.deadlineOffsetNS()

	stop := &clock.Flag{}
	cb := func(hop []byte) {
		win, idx, ok := s.assembler.PushHop(hop)
		if !ok {
			return
		}
		s.processWindow(win, idx, repeatIndex, deadlineOffset)
	}

	r := replay.New(datasetPath, s.spec, stop, cb)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	stopAt := clock.NowNS() + uint64(durationSeconds*1e9)
	for clock.NowNS() < stopAt {
		if s.shutdown.Get() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	stop.Set()

	return r.Stats(), <-done
}

// processWindow dispatches one window to every non-disabled kernel and
// appends one TelemetryRecord per kernel.
func (s *Scheduler) processWindow(win []byte, windowIndex, repeatIndex int, deadlineOffsetNS uint64) {
	releaseNS := clock.NowNS()
	deadlineNS := releaseNS + deadlineOffsetNS
	warmup := windowIndex < s.warmupWindows

	for _, kr := range s.kernels {
		if kr.disabled {
			continue
		}

		startNS := clock.NowNS()
		_, err := kr.placement.Process(win, kr.nextSequence, s.windowTimeout)
		endNS := clock.NowNS()
		kr.nextSequence++

		if err != nil && kr.kind == kindLocal {
			// Local process is contractually infallible; an observed failure is an unchecked programming error,
			// not a measurable outcome.
			log.Fatalf("cortex: kernel %q process crashed (contractually infallible): %+v", kr.name, err)
		}

		rec := telemetry.Record{
			RunID:       s.runID,
			KernelName:  kr.name,
			WindowIndex: windowIndex,
			RepeatIndex: repeatIndex,
			Warmup:      warmup,
			ReleaseNS:   releaseNS,
			DeadlineNS:  deadlineNS,
			StartNS:     startNS,
			EndNS:       endNS,
			W:           s.spec.W,
			H:           s.spec.H,
			C:           s.spec.C,
			Fs:          s.spec.Fs,
		}

		if err != nil {
			rec.ErrorCode = errorCodeOf(err)
			rec.DeadlineMissed = true
			s.recordRemoteFailure(kr, err)
		} else {
			rec.DeadlineMissed = endNS > deadlineNS
			kr.consecutiveFailures = 0
		}

		s.sink.Append(rec)
		if s.metrics != nil {
			s.metrics.Observe(rec)
		}
	}
}

// recordRemoteFailure applies the remote-kernel failure policy:
// ADAPTER_CRASH and SESSION_MISMATCH end a kernel's participation in the run
// immediately; any other error only counts toward the consecutive-failure
// disablement threshold.
func (s *Scheduler) recordRemoteFailure(kr *kernelRuntime, err error) {
	if wire.IsKind(err, wire.AdapterCrash) || wire.IsKind(err, wire.SessionMismatch) {
		kr.disabled = true
		color.Red("cortex: kernel %q terminated: %v", kr.name, err)
		return
	}
	kr.consecutiveFailures++
	if kr.consecutiveFailures >= s.failureThreshold {
		kr.disabled = true
		color.Red("cortex: kernel %q disabled after %d consecutive window failures", kr.name, kr.consecutiveFailures)
	}
}

// errorCodeOf renders a wire error (or any other error) as the telemetry
// record's error_code string.
func errorCodeOf(err error) string {
	if we, ok := err.(*wire.Error); ok {
		return we.Kind.String()
	}
	return err.Error()
}

// Kernels returns the current kernel runtimes, exposed for summary reporting
// (miss-rate per kernel, disablement status) by cmd/cortex-host.
func (s *Scheduler) Kernels() []*kernelRuntime {
	return s.kernels
}

// Teardown releases every registered kernel's placement,
// local or remote, regardless of whether it was later disabled mid-run.
// Called once, after the last repeat, before the process exits.
func (s *Scheduler) Teardown() {
	for _, kr := range s.kernels {
		kr.placement.Teardown()
	}
}
