// Package turn implements the half-duplex turn-taking controller used by the
// live voice sessions. It tracks whose turn it is, commits the user's turn
// after a silence window, holds a short grace window for continuations, and
// interrupts agent playback when the user barges in.
package turn

import (
	"sync"
	"time"
)

// State is the controller's position in the turn cycle.
type State int

const (
	// StateListening means the user holds the floor and audio is being buffered.
	StateListening State = iota
	// StateCommitting means the user's turn was committed and the grace window
	// is open for a continuation.
	StateCommitting
	// StateSpeaking means the agent holds the floor and is streaming a reply.
	StateSpeaking
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateCommitting:
		return "COMMITTING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// InterruptReason describes why agent playback was cut short.
type InterruptReason string

const (
	// InterruptBargeIn means the user started speaking over the agent.
	InterruptBargeIn InterruptReason = "barge_in"
	// InterruptContinuation means the user continued during the grace window.
	InterruptContinuation InterruptReason = "continuation"
	// InterruptShutdown means the session is closing.
	InterruptShutdown InterruptReason = "shutdown"
)

// Config controls the controller's timing.
type Config struct {
	// SilenceCommit is how long the mic must be quiet before the buffered
	// user turn is committed.
	SilenceCommit time.Duration
	// GraceWindow is how long after a commit the user can keep talking and
	// have the new speech treated as part of the same turn.
	GraceWindow time.Duration
	// BargeIn allows user speech to interrupt agent playback. When false the
	// controller drops user audio while the agent is speaking.
	BargeIn bool
	// MinBargeInBytes is how much audio must arrive while the agent speaks
	// before the controller treats it as a real barge-in rather than noise.
	MinBargeInBytes int
}

// Controller is a half-duplex turn-taking state machine. All methods are safe
// for concurrent use.
type Controller struct {
	cfg Config

	mu           sync.Mutex
	state        State
	turnSeq      uint64
	buffered     int
	bargeBytes   int
	graceOpen    bool
	closed       bool
	silenceTimer *time.Timer
	graceTimer   *time.Timer

	onCommit    func(turn uint64)
	onResume    func(turn uint64)
	onInterrupt func(reason InterruptReason)
	onDebug     func(category, message string)
}

// New creates a controller in the listening state. Callbacks must be set with
// SetCallbacks before audio is fed in.
func New(cfg Config) *Controller {
	if cfg.SilenceCommit <= 0 {
		cfg.SilenceCommit = 800 * time.Millisecond
	}
	if cfg.GraceWindow < 0 {
		cfg.GraceWindow = 0
	}
	return &Controller{cfg: cfg, state: StateListening}
}

// SetCallbacks registers the event callbacks.
//
// onCommit fires when the silence window elapses and the user's turn is
// committed; the argument is the turn sequence number. onResume fires when
// the user continues during the grace window and the same turn reopens.
// onInterrupt fires when agent playback must stop.
func (c *Controller) SetCallbacks(
	onCommit func(turn uint64),
	onResume func(turn uint64),
	onInterrupt func(reason InterruptReason),
	onDebug func(category, message string),
) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = onCommit
	c.onResume = onResume
	c.onInterrupt = onInterrupt
	c.onDebug = onDebug
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turn returns the current turn sequence number.
func (c *Controller) Turn() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnSeq
}

// AudioReceived reports n bytes of user audio to the controller. It returns
// true if the audio should be forwarded upstream, false if it should be
// dropped (agent speaking with barge-in disabled, or closed).
func (c *Controller) AudioReceived(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || n <= 0 {
		return false
	}

	switch c.state {
	case StateListening:
		c.buffered += n
		c.armSilenceLocked()
		return true

	case StateCommitting:
		if !c.graceOpen {
			// Window closed but the agent has not started playing yet.
			// Treat the speech as a fresh turn and abandon the in-flight
			// request.
			c.turnSeq++
			c.state = StateListening
			c.buffered = n
			c.armSilenceLocked()
			c.debugLocked("TURN", "speech after grace window, new turn started")
			if c.onInterrupt != nil {
				go c.onInterrupt(InterruptBargeIn)
			}
			return true
		}
		// User continued during the grace window. Reopen the same turn and
		// tell the session to abandon the in-flight agent request.
		c.stopGraceLocked()
		c.state = StateListening
		c.buffered += n
		c.armSilenceLocked()
		c.debugLocked("TURN", "continuation during grace window, turn reopened")
		if c.onInterrupt != nil {
			go c.onInterrupt(InterruptContinuation)
		}
		if c.onResume != nil {
			go c.onResume(c.turnSeq)
		}
		return true

	case StateSpeaking:
		if !c.cfg.BargeIn {
			return false
		}
		c.bargeBytes += n
		if c.bargeBytes < c.cfg.MinBargeInBytes {
			return false
		}
		c.bargeBytes = 0
		c.turnSeq++
		c.state = StateListening
		c.buffered = n
		c.armSilenceLocked()
		c.debugLocked("TURN", "barge-in, agent playback interrupted")
		if c.onInterrupt != nil {
			go c.onInterrupt(InterruptBargeIn)
		}
		return true
	}
	return false
}

// AgentSpeaking moves the controller into the speaking state. Call it when
// the first agent output chunk is ready to play. It is a no-op if the turn
// was reopened before the agent started.
func (c *Controller) AgentSpeaking(turn uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || turn != c.turnSeq || c.state != StateCommitting {
		return false
	}
	c.stopGraceLocked()
	c.bargeBytes = 0
	c.state = StateSpeaking
	c.debugLocked("TURN", "agent speaking")
	return true
}

// AgentDone returns the floor to the user after the agent finishes a reply.
func (c *Controller) AgentDone(turn uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || turn != c.turnSeq || c.state != StateSpeaking {
		return
	}
	c.turnSeq++
	c.state = StateListening
	c.buffered = 0
	c.debugLocked("TURN", "agent done, listening")
}

// Close stops all timers and interrupts any active playback.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopSilenceLocked()
	c.stopGraceLocked()
	wasSpeaking := c.state == StateSpeaking
	cb := c.onInterrupt
	c.mu.Unlock()

	if wasSpeaking && cb != nil {
		cb(InterruptShutdown)
	}
}

// armSilenceLocked (re)starts the silence-commit timer. Caller holds mu.
func (c *Controller) armSilenceLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
	}
	turn := c.turnSeq
	c.silenceTimer = time.AfterFunc(c.cfg.SilenceCommit, func() {
		c.commitTurn(turn)
	})
}

func (c *Controller) commitTurn(turn uint64) {
	c.mu.Lock()
	if c.closed || turn != c.turnSeq || c.state != StateListening || c.buffered == 0 {
		c.mu.Unlock()
		return
	}
	c.state = StateCommitting
	c.buffered = 0
	cb := c.onCommit
	c.debugLocked("TURN", "silence window elapsed, turn committed")
	if c.cfg.GraceWindow > 0 {
		c.graceOpen = true
		if c.graceTimer != nil {
			c.graceTimer.Stop()
		}
		c.graceTimer = time.AfterFunc(c.cfg.GraceWindow, func() {
			c.mu.Lock()
			if c.turnSeq == turn {
				c.graceOpen = false
			}
			c.mu.Unlock()
		})
	}
	c.mu.Unlock()

	if cb != nil {
		cb(turn)
	}
}

func (c *Controller) stopSilenceLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}

func (c *Controller) stopGraceLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.graceOpen = false
}

func (c *Controller) debugLocked(category, message string) {
	if c.onDebug != nil {
		go c.onDebug(category, message)
	}
}
