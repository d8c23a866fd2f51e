package supervisor

import (
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/core-tools/hsu-sandbox/pkg/logging"
)

// DefaultGrace is how long the supervisor waits after the first group kill
// before killing again.
const DefaultGrace = 1 * time.Second

type State string

const (
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateCompleted   State = "completed"
	StateTimedOut    State = "timed_out"
)

// Process is the view of a launched target the supervisor drives.
// *process.Handle implements it.
type Process interface {
	PID() int
	PGID() int
	// Done is closed once the target is reaped.
	Done() <-chan struct{}
	Wait() error
	KillGroup() error
	// DrainGroup reaps and kills leftover group members until the group is gone.
	DrainGroup() error
}

type Config struct {
	Grace time.Duration `yaml:"grace,omitempty"`
}

// Outcome is the supervisor's account of one execution.
type Outcome struct {
	State State
	// Transitions lists every state entered, in order.
	Transitions []State
	TimedOut    bool
	// Escalated is set when the first group kill did not end the target
	// within the grace period.
	Escalated bool
	Elapsed   time.Duration
	// WaitErr is a failure to reap, never the target's own exit status.
	WaitErr error
	// CleanupErr aggregates kill and drain failures.
	CleanupErr error
}

type Supervisor struct {
	config Config
	logger logging.Logger

	mutex  sync.Mutex
	active map[int]State
}

func NewSupervisor(config Config, logger logging.Logger) *Supervisor {
	if config.Grace <= 0 {
		config.Grace = DefaultGrace
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Supervisor{
		config: config,
		logger: logging.Component(logger, "supervisor"),
		active: make(map[int]State),
	}
}

// Supervise races the target's exit against wallClock. On expiry the
// target's process group is killed, and killed again after the grace
// period if the target is still not reaped; the wait after that is
// unbounded. In every case the group is drained before returning, so no
// member outlives the call.
func (s *Supervisor) Supervise(process Process, wallClock time.Duration) Outcome {
	outcome := Outcome{}
	start := time.Now()
	s.enter(process, &outcome, StateRunning)
	defer s.forget(process)

	go func() {
		_ = process.Wait()
	}()

	deadline := time.NewTimer(wallClock)
	defer deadline.Stop()

	select {
	case <-process.Done():
		s.complete(process, &outcome)
	case <-deadline.C:
		select {
		case <-process.Done():
			// Exit and deadline raced; the exit wins.
			s.complete(process, &outcome)
		default:
			s.terminate(process, &outcome, wallClock)
		}
	}
	outcome.Elapsed = time.Since(start)

	if err := process.DrainGroup(); err != nil {
		s.logger.Warnf("Process group not fully drained, PGID: %d, error: %v", process.PGID(), err)
		outcome.CleanupErr = multierr.Append(outcome.CleanupErr, err)
	}
	return outcome
}

// ActiveState reports the state of a supervised target by PID.
func (s *Supervisor) ActiveState(pid int) (State, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	state, ok := s.active[pid]
	return state, ok
}

func (s *Supervisor) complete(process Process, outcome *Outcome) {
	outcome.WaitErr = process.Wait()
	s.enter(process, outcome, StateCompleted)
	s.logger.Debugf("Process completed, PID: %d", process.PID())
}

func (s *Supervisor) terminate(process Process, outcome *Outcome, wallClock time.Duration) {
	outcome.TimedOut = true
	s.enter(process, outcome, StateTerminating)
	s.logger.Warnf("Wall clock limit of %s exceeded, killing process group, PID: %d, PGID: %d",
		wallClock, process.PID(), process.PGID())

	if err := process.KillGroup(); err != nil {
		outcome.CleanupErr = multierr.Append(outcome.CleanupErr, err)
	}

	grace := time.NewTimer(s.config.Grace)
	defer grace.Stop()

	select {
	case <-process.Done():
	case <-grace.C:
		outcome.Escalated = true
		s.logger.Warnf("Process still running %s after kill, killing again, PGID: %d", s.config.Grace, process.PGID())
		if err := process.KillGroup(); err != nil {
			outcome.CleanupErr = multierr.Append(outcome.CleanupErr, err)
		}
		<-process.Done()
	}

	outcome.WaitErr = process.Wait()
	s.enter(process, outcome, StateTimedOut)
}

func (s *Supervisor) enter(process Process, outcome *Outcome, state State) {
	outcome.State = state
	outcome.Transitions = append(outcome.Transitions, state)

	s.mutex.Lock()
	s.active[process.PID()] = state
	s.mutex.Unlock()
}

func (s *Supervisor) forget(process Process) {
	s.mutex.Lock()
	delete(s.active, process.PID())
	s.mutex.Unlock()
}
