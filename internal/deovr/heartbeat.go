// Package deovr reconstructs play/pause/time events for the DeoVR VR
// player, which issues no explicit playback control messages — only a
// stream of blind byte-range requests. Modeled on the teacher's deck 3/4
// auto-hide timers (internal/handlers/handlers.go: deckHideTimer,
// updateDeckVisibility): a mutex-guarded map of per-key state, each
// entry owning its own set of time.Timer/time.Ticker handles that get
// cancelled and rearmed as events arrive.
package deovr

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jota2rz/mediaviewer/internal/metrics"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

const (
	fps                    = 30
	publishMinMs           = 750
	instantPauseDebounceMs = 125
	idlePauseMs            = 650
	tickInterval           = 1000 * time.Millisecond
	forgetAfter            = 60_000 * time.Millisecond
	forgetSweepInterval    = 5 * time.Second
)

type key struct {
	sessionID string
	clientID  string
}

type streamState struct {
	mu sync.Mutex

	mediaID      string
	startedAtMs  int64 // wall time such that lastTimeMs = now - startedAtMs while playing
	lastTimeMs   int64
	paused       bool
	inFlight     int
	lastDataAtMs int64
	lastSeenMs   int64
	lastPublish  int64

	pauseDebounce *time.Timer
	tick          *time.Ticker
	idle          *time.Ticker
	stopTimers    chan struct{}
}

// Inferrer owns all live DeoVR stream states and publishes derived
// session updates to the sync store.
type Inferrer struct {
	state *syncstate.State
	hub   *syncstate.Hub
	now   func() int64

	mu       sync.Mutex
	streams  map[key]*streamState
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an Inferrer bound to the session store and broadcast hub.
func New(state *syncstate.State, hub *syncstate.Hub) *Inferrer {
	inf := &Inferrer{
		state:   state,
		hub:     hub,
		now:     func() int64 { return time.Now().UnixMilli() },
		streams: make(map[key]*streamState),
		done:    make(chan struct{}),
	}
	go inf.forgetLoop()
	return inf
}

// Close stops the background forget sweep and tears down all timers.
func (inf *Inferrer) Close() {
	inf.stopOnce.Do(func() { close(inf.done) })
	inf.mu.Lock()
	defer inf.mu.Unlock()
	for k, st := range inf.streams {
		st.stopAllTimers()
		delete(inf.streams, k)
	}
	metrics.DeoVRActiveStreams.Set(0)
}

// OnStreamRequest is called when a VR-UA Range request begins. It returns
// a callback to invoke on response close/finish.
func (inf *Inferrer) OnStreamRequest(sessionID, clientID, mediaID string) func() {
	k := key{sessionID, clientID}
	now := inf.now()

	inf.mu.Lock()
	st, ok := inf.streams[k]
	if ok && st.mediaID != mediaID {
		st.stopAllTimers()
		delete(inf.streams, k)
		ok = false
	}
	if !ok {
		st = &streamState{mediaID: mediaID, startedAtMs: now, stopTimers: make(chan struct{})}
		inf.streams[k] = st
		metrics.DeoVRActiveStreams.Set(float64(len(inf.streams)))
		inf.mu.Unlock()

		st.mu.Lock()
		st.lastSeenMs = now
		st.lastDataAtMs = now
		inf.armTick(k, st)
		inf.armIdle(k, st)
		st.mu.Unlock()

		inf.publish(sessionID, clientID, st, true)
		return func() { inf.onStreamClose(k) }
	}
	inf.mu.Unlock()

	st.mu.Lock()
	if st.pauseDebounce != nil {
		st.pauseDebounce.Stop()
		st.pauseDebounce = nil
	}
	st.inFlight++
	st.lastSeenMs = now
	mediaChanged := false
	if st.paused {
		st.startedAtMs = now - st.lastTimeMs
		st.paused = false
	}
	st.lastTimeMs = now - st.startedAtMs
	shouldPublish := mediaChanged || now-st.lastPublish >= publishMinMs
	st.mu.Unlock()

	if shouldPublish {
		inf.publish(sessionID, clientID, st, false)
	}
	return func() { inf.onStreamClose(k) }
}

// OnData is called when bytes are written to a VR-UA response; it refreshes
// the idle clock and resumes a previously network-stalled stream.
func (inf *Inferrer) OnData(sessionID, clientID string) {
	k := key{sessionID, clientID}
	inf.mu.Lock()
	st, ok := inf.streams[k]
	inf.mu.Unlock()
	if !ok {
		return
	}

	now := inf.now()
	st.mu.Lock()
	st.lastDataAtMs = now
	st.lastSeenMs = now
	wasPaused := st.paused
	if wasPaused {
		st.startedAtMs = now - st.lastTimeMs
		st.paused = false
	}
	st.lastTimeMs = now - st.startedAtMs
	st.mu.Unlock()

	if wasPaused {
		inf.publish(sessionID, clientID, st, false)
	}
}

func (inf *Inferrer) onStreamClose(k key) {
	inf.mu.Lock()
	st, ok := inf.streams[k]
	inf.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if st.inFlight > 0 {
		st.inFlight--
	}
	arm := st.inFlight == 0 && !st.paused
	if arm {
		if st.pauseDebounce != nil {
			st.pauseDebounce.Stop()
		}
		st.pauseDebounce = time.AfterFunc(instantPauseDebounceMs*time.Millisecond, func() {
			inf.firePauseDebounce(k)
		})
	}
	st.mu.Unlock()
}

func (inf *Inferrer) firePauseDebounce(k key) {
	inf.mu.Lock()
	st, ok := inf.streams[k]
	inf.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	if st.inFlight != 0 || st.paused {
		st.mu.Unlock()
		return
	}
	st.paused = true
	st.pauseDebounce = nil
	st.mu.Unlock()

	inf.publish(k.sessionID, k.clientID, st, false)
}

func (inf *Inferrer) armTick(k key, st *streamState) {
	st.tick = time.NewTicker(tickInterval)
	go func(tk *time.Ticker) {
		for {
			select {
			case <-tk.C:
				inf.onTick(k)
			case <-st.stopTimers:
				return
			}
		}
	}(st.tick)
}

func (inf *Inferrer) armIdle(k key, st *streamState) {
	st.idle = time.NewTicker(tickInterval)
	go func(tk *time.Ticker) {
		for {
			select {
			case <-tk.C:
				inf.onIdleCheck(k)
			case <-st.stopTimers:
				return
			}
		}
	}(st.idle)
}

func (inf *Inferrer) onTick(k key) {
	inf.mu.Lock()
	st, ok := inf.streams[k]
	inf.mu.Unlock()
	if !ok {
		return
	}

	now := inf.now()
	st.mu.Lock()
	if st.paused || st.inFlight <= 0 {
		st.mu.Unlock()
		return
	}
	st.lastTimeMs = now - st.startedAtMs
	shouldPublish := now-st.lastPublish >= publishMinMs
	st.mu.Unlock()

	if shouldPublish {
		inf.publish(k.sessionID, k.clientID, st, false)
	}
}

func (inf *Inferrer) onIdleCheck(k key) {
	inf.mu.Lock()
	st, ok := inf.streams[k]
	inf.mu.Unlock()
	if !ok {
		return
	}

	now := inf.now()
	st.mu.Lock()
	if st.paused || st.inFlight <= 0 {
		st.mu.Unlock()
		return
	}
	if now-st.lastDataAtMs < idlePauseMs {
		st.mu.Unlock()
		return
	}
	st.paused = true
	st.mu.Unlock()

	inf.publish(k.sessionID, k.clientID, st, false)
}

func (inf *Inferrer) forgetLoop() {
	ticker := time.NewTicker(forgetSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-inf.done:
			return
		case <-ticker.C:
			inf.sweepForgotten()
		}
	}
}

func (inf *Inferrer) sweepForgotten() {
	now := inf.now()
	inf.mu.Lock()
	for k, st := range inf.streams {
		st.mu.Lock()
		stale := time.Duration(now-st.lastSeenMs)*time.Millisecond > forgetAfter
		st.mu.Unlock()
		if stale {
			st.stopAllTimers()
			delete(inf.streams, k)
			slog.Debug("deovr heartbeat forgot idle stream", "sessionId", k.sessionID, "clientId", k.clientID)
		}
	}
	metrics.DeoVRActiveStreams.Set(float64(len(inf.streams)))
	inf.mu.Unlock()
}

func (st *streamState) stopAllTimers() {
	if st.pauseDebounce != nil {
		st.pauseDebounce.Stop()
	}
	if st.tick != nil {
		st.tick.Stop()
	}
	if st.idle != nil {
		st.idle.Stop()
	}
	close(st.stopTimers)
}

func (inf *Inferrer) publish(sessionID, clientID string, st *streamState, publishNow bool) {
	st.mu.Lock()
	timeMs := st.lastTimeMs
	paused := st.paused
	mediaID := st.mediaID
	st.lastPublish = inf.now()
	st.mu.Unlock()

	frame := int64(math.Floor(float64(timeMs) / 1000 * fps))
	_, err := inf.state.UpsertSession(sessionID, syncstate.Update{
		MediaID:      &mediaID,
		TimeMs:       timeMs,
		Paused:       paused,
		Fps:          fps,
		Frame:        frame,
		FromClientID: "vr:deovr:" + clientID,
	})
	if err != nil {
		slog.Warn("deovr heartbeat publish failed", "error", err)
		return
	}
	if inf.hub != nil {
		inf.hub.Broadcast(map[string]any{
			"type":    "sync:state",
			"state":   inf.state.GetSession(sessionID),
			"clients": inf.state.Presences(),
		}, nil)
	}
}
