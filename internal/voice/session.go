package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/cafevox/internal/cart"
	"github.com/MrWong99/cafevox/internal/observe"
	"github.com/MrWong99/cafevox/internal/prompt"
	"github.com/MrWong99/cafevox/pkg/audio"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
	"github.com/MrWong99/cafevox/pkg/provider/vad"
)

type timerKind int

const (
	timerMaxDuration timerKind = iota
	timerPlayback
	timerRelisten
)

type timerFired struct {
	kind timerKind
	gen  uint64
}

// turnUpdate is sent from a turn goroutine to the session goroutine.
type turnUpdate struct {
	gen    uint64
	state  State
	done   bool
	result turnResult
}

// turnResult is what a finished turn hands back to the session.
type turnResult struct {
	outcome string

	// userTurn and assistantTurn are appended to history when non-empty.
	userTurn      string
	assistantTurn string

	// cart is the refreshed snapshot; nil leaves the last one in place.
	cart []cart.Item

	// speech is the synthesized reply. Nil with ttsFailed set means the
	// reply was final but could not be spoken.
	speech    *tts.Audio
	ttsFailed bool
}

// Session is one client's voice conversation. Create it with
// [Orchestrator.NewSession], start it with [Session.Run] and feed it with
// [Session.Deliver].
type Session struct {
	id     string
	userID string
	orch   *Orchestrator
	sink   Sink
	log    *slog.Logger

	inbox   chan Message
	updates chan turnUpdate
	timers  chan timerFired
	done    chan struct{}

	// emitMu serialises sink writes and turn cancellation, so a cancelled
	// turn can never write after cancelTurn returns.
	emitMu     sync.Mutex
	closed     bool
	turnCancel context.CancelFunc
	turnWG     sync.WaitGroup

	stateMirror atomic.Int32

	// Owned by the Run goroutine.
	state      State
	busy       bool
	continuous bool
	mime       string
	format     audio.Format
	metered    bool
	buf        *audio.Buffer
	vadSess    vad.SessionHandle
	vadCfg     vad.Config
	history    *History
	cart       []cart.Item
	gen        uint64
	timer      *time.Timer
	turnActive bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the id of the user whose cart the session edits.
func (s *Session) UserID() string { return s.userID }

// State returns the current state. Safe to call from any goroutine.
func (s *Session) State() State { return State(s.stateMirror.Load()) }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues msg for the session without blocking. It reports false if
// the message was dropped because the inbox is full or the session ended.
func (s *Session) Deliver(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- msg:
		return true
	case <-s.done:
		return false
	default:
		s.log.Debug("voice: inbox full, message dropped", "type", msg.Type)
		s.orch.metrics.RecordDropped(context.Background(), string(msg.Type))
		return false
	}
}

// Run processes messages until ctx is cancelled, then aborts any running
// turn and releases the session. It always returns nil; disconnects are not
// errors.
func (s *Session) Run(ctx context.Context) error {
	ctx = observe.WithSession(ctx, s.id, s.userID)
	s.orch.active.Add(1)
	s.orch.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		s.teardown()
		s.orch.active.Add(-1)
		s.orch.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}()

	s.log.Info("voice: session started", "continuous", s.continuous)
	if c, err := s.orch.cart.Get(ctx, s.userID); err != nil {
		s.log.Warn("voice: initial cart load failed", "err", err)
	} else {
		s.cart = c.Items
		s.emit(ctx, Event{Type: EventCartUpdated, Data: CartData{Items: c.Items}})
	}
	s.setState(StateIdle)
	s.status(ctx, StatusIdle, "")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("voice: session ended", "state", s.state)
			return nil
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		case u := <-s.updates:
			s.handleUpdate(ctx, u)
		case tf := <-s.timers:
			s.handleTimer(ctx, tf)
		}
	}
}

func (s *Session) teardown() {
	s.emitMu.Lock()
	s.closed = true
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.emitMu.Unlock()

	s.stopTimer()
	s.closeVAD()
	s.buf.Reset()
	close(s.done)
	s.turnWG.Wait()
}

// ─── Client messages ─────────────────────────────────────────────────────────

func (s *Session) handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case MsgStart:
		s.onStart(ctx, msg)
	case MsgAudio:
		s.onAudio(ctx, msg.Audio)
	case MsgLevel:
		s.onLevel(ctx, msg)
	case MsgStop:
		s.onStop(ctx)
	case MsgPlaybackComplete:
		if s.state != StateSpeaking || s.turnActive {
			s.drop(ctx, msg.Type, "not speaking")
			return
		}
		s.afterPlayback(ctx)
	case MsgCancel:
		s.onCancel(ctx)
	case MsgContinuous:
		if msg.Enabled != nil {
			s.continuous = *msg.Enabled
			s.log.Debug("voice: continuous mode changed", "continuous", s.continuous)
		}
	case MsgText:
		s.onText(ctx, msg.Text)
	case MsgTTS:
		s.onSpeak(ctx, msg.Text)
	default:
		s.drop(ctx, msg.Type, "unknown type")
	}
}

func (s *Session) onStart(ctx context.Context, msg Message) {
	if s.busy {
		s.drop(ctx, msg.Type, "busy")
		return
	}
	if msg.Continuous != nil {
		s.continuous = *msg.Continuous
	}

	mime := strings.TrimSpace(msg.MimeType)
	if mime == "" {
		mime = audio.MimeWebM
	}
	format := audio.Format{SampleRate: msg.SampleRate, Channels: msg.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = audio.SpeechFormat.SampleRate
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	metered := audio.IsPCM16(mime)
	if metered && !format.Valid() {
		s.emit(ctx, Event{Type: EventError, Data: ErrorData{
			Message: "unsupported audio format",
			Kind:    ErrorKindProtocol,
		}})
		return
	}
	s.mime, s.format, s.metered = mime, format, metered
	s.startListening(ctx)
}

func (s *Session) onAudio(ctx context.Context, chunk []byte) {
	if s.busy {
		s.drop(ctx, MsgAudio, "busy")
		return
	}
	if s.state != StateListening {
		s.drop(ctx, MsgAudio, "not listening")
		return
	}
	if !s.buf.Append(chunk) {
		s.log.Warn("voice: utterance too large, ending recording", "bytes", s.buf.Len())
		s.finishRecording(ctx, s.shouldDiscard())
		return
	}
	s.emit(ctx, Event{Type: EventAudioReceived, Data: AudioReceivedData{Bytes: s.buf.Len(), Chunks: s.buf.Chunks()}})

	if s.metered {
		s.processLevel(ctx, audio.Level(chunk), s.format.Duration(len(chunk)))
	}
}

func (s *Session) onLevel(ctx context.Context, msg Message) {
	if s.busy {
		s.drop(ctx, msg.Type, "busy")
		return
	}
	if s.state != StateListening {
		s.drop(ctx, msg.Type, "not listening")
		return
	}
	if s.metered {
		// Server-side levels from the PCM itself take precedence.
		return
	}
	s.processLevel(ctx, msg.Level, msg.Duration())
}

func (s *Session) onStop(ctx context.Context) {
	if s.busy {
		s.drop(ctx, MsgStop, "busy")
		return
	}
	if s.state != StateListening || s.buf.Len() == 0 {
		s.drop(ctx, MsgStop, "nothing recorded")
		return
	}
	s.finishRecording(ctx, s.shouldDiscard())
}

func (s *Session) onCancel(ctx context.Context) {
	s.cancelTurn()
	s.stopTimer()
	s.closeVAD()
	s.buf.Reset()
	s.gen++
	if s.turnActive {
		s.turnActive = false
		s.orch.metrics.RecordTurn(ctx, observe.OutcomeCancelled, 0)
	}
	s.log.Debug("voice: cancelled", "state", s.state)
	s.status(ctx, StatusCancelled, "")
	s.goIdle(ctx)
}

func (s *Session) onText(ctx context.Context, text string) {
	if s.busy {
		s.drop(ctx, MsgText, "busy")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.drop(ctx, MsgText, "empty")
		return
	}
	if s.state == StateListening {
		s.stopTimer()
		s.closeVAD()
		s.buf.Reset()
	}
	s.beginTurn(ctx, turnInput{text: text})
}

// onSpeak reads text aloud without a model turn.
func (s *Session) onSpeak(ctx context.Context, text string) {
	if s.busy {
		s.drop(ctx, MsgTTS, "busy")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.drop(ctx, MsgTTS, "empty")
		return
	}
	if utf8.RuneCountInString(text) > MaxSpeakChars {
		s.emit(ctx, Event{Type: EventError, Data: ErrorData{Message: "text too long to speak", Kind: ErrorKindProtocol}})
		return
	}
	if s.state == StateListening {
		s.stopTimer()
		s.closeVAD()
		s.buf.Reset()
	}
	s.beginTurn(ctx, turnInput{speak: text})
}

// ─── Recording ───────────────────────────────────────────────────────────────

func (s *Session) startListening(ctx context.Context) {
	s.stopTimer()
	s.closeVAD()
	s.buf.Reset()

	cfg := s.orch.current.Load().cfg
	vs, err := s.orch.vad.NewSession(cfg.VAD)
	if err != nil {
		s.log.Error("voice: start vad session", "err", err)
		s.emit(ctx, Event{Type: EventError, Data: ErrorData{Message: "could not start listening", Kind: ErrorKindTransport}})
		s.goIdle(ctx)
		return
	}
	s.vadSess = vs
	s.vadCfg = cfg.VAD
	s.gen++
	s.busy = false
	s.setState(StateListening)
	s.startTimer(cfg.VAD.MaxDuration, timerMaxDuration)
	s.status(ctx, StatusListening, "")
}

func (s *Session) processLevel(ctx context.Context, level float64, d time.Duration) {
	if s.vadSess == nil {
		return
	}
	ev, err := s.vadSess.ProcessLevel(level, d)
	if err != nil {
		s.log.Warn("voice: vad", "err", err)
		return
	}
	switch ev.Type {
	case vad.VADSpeechStart:
		s.status(ctx, StatusSpeechDetected, "")
	case vad.VADSpeechEnd:
		s.log.Debug("voice: end of speech", "reason", ev.Reason, "discard", ev.Discard)
		s.finishRecording(ctx, ev.Discard)
	}
}

// shouldDiscard reports whether the current recording lacks evidence of
// speech. Without any level readings speech is unknown and the audio is
// kept.
func (s *Session) shouldDiscard() bool {
	if s.buf.Len() == 0 {
		return true
	}
	if s.vadSess == nil {
		return false
	}
	st := s.vadSess.Stats()
	return st.Elapsed > 0 && st.Speech < s.vadCfg.MinSpeech
}

func (s *Session) finishRecording(ctx context.Context, discard bool) {
	s.stopTimer()
	s.closeVAD()
	data := s.buf.Bytes()
	s.buf.Reset()

	if discard || len(data) == 0 {
		s.orch.metrics.RecordTurn(ctx, observe.OutcomeDiscarded, 0)
		s.status(ctx, StatusNoSpeech, msgTryAgain)
		s.resume(ctx, 0)
		return
	}

	mime := s.mime
	if s.metered {
		data = audio.EncodeWAV(audio.ToSpeechFormat(data, s.format), audio.SpeechFormat)
		mime = audio.MimeWAV
	}
	s.beginTurn(ctx, turnInput{audio: data, mime: mime})
}

// ─── Turns ───────────────────────────────────────────────────────────────────

func (s *Session) beginTurn(ctx context.Context, in turnInput) {
	s.gen++
	s.busy = true
	s.turnActive = true

	turnCtx, cancel := context.WithCancel(ctx)
	s.emitMu.Lock()
	s.turnCancel = cancel
	s.emitMu.Unlock()

	t := &turn{
		s:       s,
		gen:     s.gen,
		st:      s.orch.current.Load(),
		history: s.history.Snapshot(),
		cart:    append([]cart.Item(nil), s.cart...),
		in:      in,
	}
	switch {
	case in.speak != "":
		s.setState(StateSpeaking)
	case in.text == "":
		s.setState(StateTranscribing)
		s.status(ctx, StatusTranscribing, "")
	default:
		s.setState(StateAwaitingModel)
	}

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		res := t.run(turnCtx)
		s.report(turnUpdate{gen: t.gen, done: true, result: res})
	}()
}

// report hands u to the session goroutine unless the session ended.
func (s *Session) report(u turnUpdate) {
	select {
	case s.updates <- u:
	case <-s.done:
	}
}

func (s *Session) handleUpdate(ctx context.Context, u turnUpdate) {
	if u.gen != s.gen || !s.turnActive {
		return
	}
	if !u.done {
		s.setState(u.state)
		return
	}

	s.turnActive = false
	s.cancelTurn()

	res := u.result
	if res.userTurn != "" {
		s.history.Append(prompt.RoleUser, res.userTurn)
	}
	if res.assistantTurn != "" {
		s.history.Append(prompt.RoleAssistant, res.assistantTurn)
	}
	if res.cart != nil {
		s.cart = res.cart
	}

	switch {
	case res.speech != nil:
		s.setState(StateSpeaking)
		s.emit(ctx, Event{Type: EventSpeechReady, Data: SpeechData{Audio: res.speech.Data, Mime: res.speech.MimeType}})
		s.status(ctx, StatusSpeaking, "")
		s.startTimer(s.orch.current.Load().cfg.PlaybackTimeout, timerPlayback)
	case res.ttsFailed:
		s.afterPlayback(ctx)
	default:
		s.resume(ctx, 0)
	}
}

func (s *Session) cancelTurn() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
}

// ─── Transitions ─────────────────────────────────────────────────────────────

func (s *Session) afterPlayback(ctx context.Context) {
	s.stopTimer()
	if !s.continuous {
		s.goIdle(ctx)
		return
	}
	s.resume(ctx, s.orch.current.Load().cfg.RelistenDelay)
}

// resume listens again in continuous mode, after delay if positive, and
// goes idle otherwise.
func (s *Session) resume(ctx context.Context, delay time.Duration) {
	if !s.continuous {
		s.goIdle(ctx)
		return
	}
	if delay <= 0 {
		s.startListening(ctx)
		return
	}
	s.startTimer(delay, timerRelisten)
}

func (s *Session) goIdle(ctx context.Context) {
	s.stopTimer()
	s.closeVAD()
	s.buf.Reset()
	s.busy = false
	s.setState(StateIdle)
	s.status(ctx, StatusIdle, "")
}

func (s *Session) handleTimer(ctx context.Context, tf timerFired) {
	if tf.gen != s.gen {
		return
	}
	switch tf.kind {
	case timerMaxDuration:
		if s.state == StateListening && !s.busy {
			s.log.Debug("voice: max recording duration reached")
			s.finishRecording(ctx, s.shouldDiscard())
		}
	case timerPlayback:
		if s.state == StateSpeaking && !s.turnActive {
			s.log.Warn("voice: no playback-complete before timeout")
			s.afterPlayback(ctx)
		}
	case timerRelisten:
		if s.continuous {
			s.startListening(ctx)
		} else {
			s.goIdle(ctx)
		}
	}
}

func (s *Session) startTimer(d time.Duration, kind timerKind) {
	s.stopTimer()
	tf := timerFired{kind: kind, gen: s.gen}
	s.timer = time.AfterFunc(d, func() {
		select {
		case s.timers <- tf:
		case <-s.done:
		}
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) closeVAD() {
	if s.vadSess != nil {
		_ = s.vadSess.Close()
		s.vadSess = nil
	}
}

func (s *Session) setState(st State) {
	s.state = st
	s.stateMirror.Store(int32(st))
}

// ─── Output ──────────────────────────────────────────────────────────────────

func (s *Session) status(ctx context.Context, state, message string) {
	s.emit(ctx, Event{Type: EventStatus, Data: StatusData{State: state, Message: message}})
}

// emit sends ev from the session goroutine.
func (s *Session) emit(ctx context.Context, ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	if err := s.sink.Send(ctx, ev); err != nil {
		s.log.Debug("voice: send event", "type", ev.Type, "err", err)
	}
}

// emitTurn sends ev on behalf of a turn. It fails once the turn's context
// is cancelled or the session closed.
func (s *Session) emitTurn(ctx context.Context, ev Event) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sink.Send(ctx, ev)
}

func (s *Session) drop(ctx context.Context, typ MessageType, reason string) {
	s.log.Debug("voice: message ignored", "type", typ, "reason", reason, "state", s.state)
	s.orch.metrics.RecordDropped(ctx, string(typ))
}
