package slideshow

import (
	"sync"

	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/protocol"
	"github.com/benbjohnson/clock"
)

// Sender receives the commands produced by the slideshow.
type Sender interface {
	Send(cmd protocol.Command)
}

// AdvanceHandler is invoked once per tick with the page that has just been sent.
type AdvanceHandler func(page Page)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used to arm tick timers. Defaults to the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger sets the logger of the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAdvanceHandler registers a handler invoked after every tick.
func WithAdvanceHandler(h AdvanceHandler) Option {
	return func(s *Scheduler) {
		if h != nil {
			s.advanceHandlers = append(s.advanceHandlers, h)
		}
	}
}

// Scheduler presents pages one after another on a timer.
type Scheduler struct {
	sender          Sender
	clock           clock.Clock
	logger          logger.Logger
	advanceHandlers []AdvanceHandler

	mu      sync.Mutex
	pages   []Page
	index   int
	timer   *clock.Timer
	gen     uint64
	running bool
}

// NewScheduler creates a stopped Scheduler for pages. The page list is copied.
func NewScheduler(pages []Page, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		sender: sender,
		clock:  clock.New(),
		logger: logger.GetLogger(),
		pages:  append([]Page(nil), pages...),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start starts the slideshow from the first page, cancelling a running cycle first.
//
// The first page is sent before Start returns. With an empty page list Start does
// nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.stopLocked()

	if len(s.pages) == 0 {
		s.mu.Unlock()
		s.logger.Debug("slideshow has no pages, ignore start")

		return
	}

	s.running = true
	s.gen++
	page := s.advanceLocked(s.gen)
	s.mu.Unlock()

	s.logger.Debug("slideshow started", "pages", len(s.pages))
	s.show(page)
}

// Stop cancels the slideshow. It is safe to call Stop on a stopped Scheduler.
//
// A tick that already fired when Stop is called may still deliver its page; no tick
// fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("slideshow stopped")
	}
	s.stopLocked()
}

// Running reports whether the slideshow has an armed timer.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Index returns the index of the page the next tick will show.
func (s *Scheduler) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.index
}

// Pages returns a copy of the page list.
func (s *Scheduler) Pages() []Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Page(nil), s.pages...)
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	page := s.advanceLocked(gen)
	s.mu.Unlock()

	s.show(page)
}

// advanceLocked arms the timer for the current page and moves the index forward.
// The timer is armed before the page is sent; a Stop caused by sending bumps the
// generation and the armed tick becomes a no-op.
func (s *Scheduler) advanceLocked(gen uint64) Page {
	page := s.pages[s.index]

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(page.DisplayDuration(), func() { s.tick(gen) })

	s.index = (s.index + 1) % len(s.pages)

	return page
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.running = false
	s.index = 0
	s.gen++
}

func (s *Scheduler) show(page Page) {
	s.logger.Debug("slideshow page", "name", page.Name, "zoom", page.ZoomFactor(), "duration", page.DisplayDuration())

	s.sender.Send(protocol.SendURL{URL: page.Name})
	s.sender.Send(protocol.SetZoom{Factor: page.ZoomFactor()})

	for _, h := range s.advanceHandlers {
		h(page)
	}
}
