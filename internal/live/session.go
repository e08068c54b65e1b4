package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/playback"
	liveprov "github.com/MrWong99/heroai/pkg/provider/live"
)

// Session is the aggregate of one live conversation: its identity, the
// resources it acquired and the scheduler that owns the playback cursor.
// It is created by [Controller.Start] and discarded on teardown.
type Session struct {
	// ID uniquely identifies the session in logs and the control surface.
	ID string

	// StartedAt is when Start was called.
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group
	tuning Tuning
	queue  *outbound

	// lastTicket is closed once the most recently received audio payload
	// has been scheduled. Only the event loop touches it.
	lastTicket chan struct{}

	mu        sync.Mutex
	stream    audio.CaptureStream
	output    playback.OutputDevice
	scheduler *playback.Scheduler
	remote    liveprov.Session
	loopDone  chan struct{}
	opened    bool
	active    bool // counted in the active sessions gauge
	tornDown  bool
	done      chan struct{}
}

func newSession(parent context.Context, tuning Tuning) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	first := make(chan struct{})
	close(first)
	return &Session{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		tuning:     tuning,
		queue:      newOutbound(tuning.OutboundDepth),
		lastTicket: first,
		done:       make(chan struct{}),
	}
}

// Done is closed when the session has been fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Scheduler returns the session's playback scheduler, or nil before an
// output device was attached.
func (s *Session) Scheduler() *playback.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler
}

func (s *Session) attachStream(stream audio.CaptureStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.stream = stream
	return true
}

// attachOutput stores out and builds the scheduler on it. Devices with their
// own clock loop (such as [playback.Renderer]) are run in the session group.
func (s *Session) attachOutput(out playback.OutputDevice) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.output = out
	s.scheduler = playback.NewScheduler(out)
	if r, ok := out.(runner); ok {
		s.g.Go(func() error { return ignoreCanceled(r.Run(s.ctx)) })
	}
	return true
}

func (s *Session) attachRemote(remote liveprov.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.remote = remote
	s.loopDone = make(chan struct{})
	return true
}

// spawn runs fn in the session group unless teardown already started.
func (s *Session) spawn(fn func() error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.g.Go(fn)
	return true
}

// markOpened records the open event once. It reports false on a repeated
// open or after teardown began.
func (s *Session) markOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown || s.opened {
		return false
	}
	s.opened = true
	return true
}

// markActive records that the session entered [StateOpen] and was counted
// as active. It reports false once teardown began.
func (s *Session) markActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.active = true
	return true
}

type resources struct {
	stream    audio.CaptureStream
	output    playback.OutputDevice
	scheduler *playback.Scheduler
	remote    liveprov.Session
	loopDone  chan struct{}
	active    bool
}

// beginTeardown flags the session as torn down and hands back everything it
// acquired. Only the first caller gets ok == true.
func (s *Session) beginTeardown() (res resources, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return resources{}, false
	}
	s.tornDown = true
	return resources{
		stream:    s.stream,
		output:    s.output,
		scheduler: s.scheduler,
		remote:    s.remote,
		loopDone:  s.loopDone,
		active:    s.active,
	}, true
}

type runner interface {
	Run(ctx context.Context) error
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
