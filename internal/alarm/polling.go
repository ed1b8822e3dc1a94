package alarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dailyrise/internal/challenge"
	"dailyrise/internal/domain"
	"dailyrise/internal/logging"
	"dailyrise/internal/metrics"
)

// Options configure a PollingSession.
type Options struct {
	UserID   string
	Gateway  Gateway
	Ledger   Ledger
	Notifier Notifier
	Timings  Timings
	Machine  challenge.Machine
	Now      func() time.Time
	Log      *zerolog.Logger
}

type commandKind int

const (
	cmdAcknowledge commandKind = iota
	cmdSkip
)

type command struct {
	kind  commandKind
	reply chan error
}

type fetchResult struct {
	snap Snapshot
	err  error
}

type finalizeResult struct {
	challenge domain.Challenge
	err       error
}

// PollingSession is the alarm client for one user. Create it with
// NewPollingSession, run it with Start or Serve, end it with Stop.
type PollingSession struct {
	userID    string
	gw        Gateway
	notifier  Notifier
	timings   Timings
	poller    *Poller
	scheduler *Scheduler
	completer Completer
	clock     func() time.Time
	log       zerolog.Logger

	cmds      chan command
	fetched   chan fetchResult
	finalized chan finalizeResult

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup

	// owned by the loop goroutine
	accepted   []domain.Challenge
	session    *Session
	inFlight   bool
	pollFailed bool
	ringTicker *time.Ticker
	beepTicker *time.Ticker
}

func NewPollingSession(opts Options) *PollingSession {
	timings := opts.Timings.withDefaults()
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	log := logging.Component("alarm").With().Str("user_id", opts.UserID).Logger()
	if opts.Log != nil {
		log = *opts.Log
	}
	poller := NewPoller(opts.Gateway, opts.UserID)
	poller.now = clock
	return &PollingSession{
		userID:    opts.UserID,
		gw:        opts.Gateway,
		notifier:  notifier,
		timings:   timings,
		poller:    poller,
		scheduler: NewScheduler(timings.GraceWindow, timings.SkipCooldown),
		completer: Completer{
			Gateway: opts.Gateway,
			Ledger:  opts.Ledger,
			Machine: opts.Machine,
			UserID:  opts.UserID,
			Now:     clock,
			Log:     log,
		},
		clock:     clock,
		log:       log,
		cmds:      make(chan command),
		fetched:   make(chan fetchResult, 1),
		finalized: make(chan finalizeResult, 1),
	}
}

func (p *PollingSession) String() string {
	return "alarm(" + p.userID + ")"
}

// Start launches the loop. It fails if the session is already running.
func (p *PollingSession) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("polling session already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	p.wg.Add(1)
	go p.run(ctx, p.loopDone)
	return nil
}

// Stop cancels the loop and in-flight requests and waits for them. No
// notifier callback happens after Stop returns.
func (p *PollingSession) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// Serve runs the session until ctx is done. It satisfies suture.Service.
func (p *PollingSession) Serve(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// Acknowledge is the user's "I did it" on the ringing alarm. The alarm stops
// immediately; the win is recorded in the background.
func (p *PollingSession) Acknowledge() error {
	return p.send(cmdAcknowledge)
}

// Skip dismisses the ringing alarm without recording anything.
func (p *PollingSession) Skip() error {
	return p.send(cmdSkip)
}

// Respond accepts or declines an incoming challenge and re-arms the incoming
// notification.
func (p *PollingSession) Respond(ctx context.Context, id string, status domain.ChallengeStatus) (domain.Challenge, error) {
	c, err := p.gw.UpdateChallengeStatus(ctx, id, status, "")
	p.poller.ResetWatermark()
	if err != nil {
		return domain.Challenge{}, unavailable("respond to challenge", err)
	}
	return c, nil
}

func (p *PollingSession) send(kind commandKind) error {
	p.mu.Lock()
	done := p.loopDone
	running := p.cancel != nil
	p.mu.Unlock()
	if !running || done == nil {
		return ErrNotRunning
	}
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case p.cmds <- cmd:
	case <-done:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-done:
		return ErrNotRunning
	}
}

func (p *PollingSession) run(ctx context.Context, done chan struct{}) {
	defer p.wg.Done()
	defer close(done)
	defer p.stopRinging()
	p.reset()

	poll := time.NewTicker(p.timings.PollInterval)
	defer poll.Stop()
	check := time.NewTicker(p.timings.CheckInterval)
	defer check.Stop()

	p.startFetch(ctx)
	for {
		var ringC, beepC <-chan time.Time
		if p.ringTicker != nil {
			ringC = p.ringTicker.C
		}
		if p.beepTicker != nil {
			beepC = p.beepTicker.C
		}
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			p.startFetch(ctx)
		case res := <-p.fetched:
			p.inFlight = false
			p.applyFetch(res)
		case <-check.C:
			p.evaluate(p.clock())
		case <-ringC:
			p.tickCountdown(time.Second)
		case <-beepC:
			if p.session != nil && p.session.Ringing() {
				p.notifier.AlarmBeep(p.session.Challenge, p.session.Remaining())
			}
		case cmd := <-p.cmds:
			finish, err := p.handle(cmd.kind)
			cmd.reply <- err
			if finish != nil {
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					res := finish(ctx)
					select {
					case p.finalized <- res:
					case <-ctx.Done():
					}
				}()
			}
		case res := <-p.finalized:
			p.applyFinalize(res)
		}
	}
}

// reset clears what a previous run left behind. Stop has waited for every
// goroutine of that run, so the channels hold at most one result each.
func (p *PollingSession) reset() {
	p.inFlight = false
	p.session = nil
	p.pollFailed = false
	select {
	case <-p.fetched:
	default:
	}
	select {
	case res := <-p.finalized:
		p.applyFinalize(res)
	default:
	}
}

// startFetch keeps at most one fetch in flight.
func (p *PollingSession) startFetch(ctx context.Context) {
	if p.inFlight {
		return
	}
	p.inFlight = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		snap, err := p.poller.Fetch(ctx)
		select {
		case p.fetched <- fetchResult{snap: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (p *PollingSession) applyFetch(res fetchResult) {
	if res.err != nil {
		if IsSilent(res.err) {
			return
		}
		p.log.Warn().Err(res.err).Msg("poll failed")
		if !p.pollFailed {
			p.pollFailed = true
			p.notifier.Error(res.err)
		}
		return
	}
	p.pollFailed = false
	pr, err := p.poller.Apply(res.snap)
	if errors.Is(err, ErrStaleRead) {
		p.log.Debug().Uint64("seq", res.snap.Seq).Msg("dropping stale snapshot")
		return
	}
	if pr.Incoming != nil {
		p.notifier.IncomingChallenge(*pr.Incoming)
	}
	p.accepted = pr.Accepted
	for _, c := range pr.Completed {
		p.scheduler.MarkDone(c.ID)
		if p.session == nil || !p.session.Ringing() || p.session.Challenge.ID != c.ID {
			continue
		}
		if c.WinnerID != nil && *c.WinnerID == p.userID {
			continue
		}
		// the peer was faster
		_ = p.session.Resolve(OutcomeLost)
		p.stopRinging()
		metrics.AlarmOutcomes.WithLabelValues(string(OutcomeLost)).Inc()
		p.notifier.AlarmStopped(c, OutcomeLost)
	}
}

func (p *PollingSession) ringing() bool {
	return p.session != nil && p.session.Ringing()
}

func (p *PollingSession) evaluate(now time.Time) {
	d := p.scheduler.Evaluate(now, p.accepted, p.ringing())
	for _, c := range d.Missed {
		metrics.AlarmFired.WithLabelValues("missed").Inc()
		p.log.Info().Str("challenge_id", c.ID).Time("scheduled_at", c.ScheduledAt).Msg("alarm missed")
		p.notifier.AlarmMissed(c)
	}
	if d.Fire == nil {
		return
	}
	s := NewSession(*d.Fire, p.timings.Countdown)
	if err := s.Start(now); err != nil {
		p.log.Error().Err(err).Msg("start alarm session")
		return
	}
	p.session = s
	p.startRinging()
	metrics.AlarmFired.WithLabelValues("on_time").Inc()
	p.log.Info().Str("challenge_id", s.Challenge.ID).Msg("alarm fired")
	p.notifier.AlarmStarted(s.Challenge)
}

func (p *PollingSession) tickCountdown(step time.Duration) {
	if !p.ringing() {
		return
	}
	if _, expired := p.session.Tick(step); !expired {
		return
	}
	p.stopRinging()
	p.scheduler.Skip(p.session.Challenge.ID, p.clock())
	metrics.AlarmOutcomes.WithLabelValues(string(OutcomeExpired)).Inc()
	p.notifier.AlarmStopped(p.session.Challenge, OutcomeExpired)
}

// handle runs a user command on the loop. For an acknowledgement it returns
// the write to perform off-loop.
func (p *PollingSession) handle(kind commandKind) (func(context.Context) finalizeResult, error) {
	if !p.ringing() {
		return nil, ErrNoActiveAlarm
	}
	s := p.session
	switch kind {
	case cmdAcknowledge:
		_ = s.Resolve(OutcomeSuccess)
		p.stopRinging()
		p.scheduler.MarkDone(s.Challenge.ID)
		metrics.AlarmOutcomes.WithLabelValues(string(OutcomeSuccess)).Inc()
		p.notifier.AlarmStopped(s.Challenge, OutcomeSuccess)
		ch := s.Challenge
		return func(ctx context.Context) finalizeResult {
			updated, err := p.completer.Finish(ctx, ch)
			if updated.ID == "" {
				updated = ch
			}
			return finalizeResult{challenge: updated, err: err}
		}, nil
	case cmdSkip:
		_ = s.Resolve(OutcomeSkipped)
		p.stopRinging()
		p.scheduler.Skip(s.Challenge.ID, p.clock())
		metrics.AlarmOutcomes.WithLabelValues(string(OutcomeSkipped)).Inc()
		p.notifier.AlarmStopped(s.Challenge, OutcomeSkipped)
		return nil, nil
	}
	return nil, errors.New("unknown command")
}

func (p *PollingSession) applyFinalize(res finalizeResult) {
	switch {
	case res.err == nil:
	case IsSilent(res.err):
		p.log.Debug().Err(res.err).Str("challenge_id", res.challenge.ID).Msg("completion not recorded")
	default:
		p.log.Error().Err(res.err).Str("challenge_id", res.challenge.ID).Msg("completion failed")
		p.notifier.Error(res.err)
	}
	// the claim can hold even when a later effect failed
	c := res.challenge
	if c.Status != domain.StatusCompleted || c.WinnerID == nil || *c.WinnerID != p.userID {
		return
	}
	p.poller.MarkCompleted(c)
	p.notifier.ChallengeWon(c)
}

func (p *PollingSession) startRinging() {
	p.stopRinging()
	p.ringTicker = time.NewTicker(time.Second)
	p.beepTicker = time.NewTicker(p.timings.BeepInterval)
}

func (p *PollingSession) stopRinging() {
	if p.ringTicker != nil {
		p.ringTicker.Stop()
		p.ringTicker = nil
	}
	if p.beepTicker != nil {
		p.beepTicker.Stop()
		p.beepTicker = nil
	}
}
