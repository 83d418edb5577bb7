// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dht-solution/callbridge/pkg/commons"
	"github.com/dht-solution/callbridge/pkg/utils"

	internal_audio "github.com/dht-solution/callbridge/internal/audio"
	internal_backend "github.com/dht-solution/callbridge/internal/backend"
	internal_session "github.com/dht-solution/callbridge/internal/session"
	internal_vad "github.com/dht-solution/callbridge/internal/vad"
)

// MediaPort is the slice of the RTP transport the pipeline drives: the
// inbound utterance stream and the outbound playback queue.
type MediaPort interface {
	Utterances() <-chan *internal_vad.Utterance
	EnqueuePlayback(frames [][]byte) int
	Interrupt()
	Resume()
}

// apologyText is spoken when the generator fails twice in a row.
const apologyText = "I'm sorry, I'm having trouble answering right now. Could you please repeat that?"

// Options parameterizes the orchestrator.
type Options struct {
	MaxHistoryTurns int
	RequestTimeout  time.Duration
	// ResponseDir, when set, receives one WAV per synthesized reply.
	ResponseDir string
	// GreetingPath, when set, is played as soon as a call goes active.
	GreetingPath string
}

// Orchestrator pumps utterances from each call's media transport through the
// STT, LLM and TTS services. Utterances of one call are processed strictly in
// order so replies reach the playback queue FIFO; calls are independent.
type Orchestrator struct {
	svc    *internal_backend.Services
	opts   Options
	store  *TranscriptStore
	logger commons.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(svc *internal_backend.Services, opts Options, logger commons.Logger) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 20 * time.Second
	}
	if opts.MaxHistoryTurns <= 0 {
		opts.MaxHistoryTurns = 10
	}
	return &Orchestrator{
		svc:    svc,
		opts:   opts,
		store:  NewTranscriptStore(),
		logger: logger.Named("pipeline"),
	}
}

// Transcripts exposes the record store.
func (o *Orchestrator) Transcripts() *TranscriptStore {
	return o.store
}

// Attach starts the per-call worker. It returns once the worker is running;
// the worker exits when the media port's utterance stream closes.
func (o *Orchestrator) Attach(ctx context.Context, call *internal_session.CallSession, media MediaPort) {
	go o.run(ctx, call, media)
}

// PlayGreeting queues the configured greeting on a freshly active call.
func (o *Orchestrator) PlayGreeting(call *internal_session.CallSession, media MediaPort) {
	if o.opts.GreetingPath == "" {
		return
	}
	lpcm, err := internal_audio.ReadWAV(o.opts.GreetingPath)
	if err != nil {
		o.logger.Warn("greeting unavailable", "path", o.opts.GreetingPath, "error", err)
		return
	}
	o.enqueueLPCM(call, media, lpcm)
	o.logger.Info("greeting queued", "call_id", call.ID)
}

func (o *Orchestrator) run(ctx context.Context, call *internal_session.CallSession, media MediaPort) {
	logger := o.logger.Named("worker")
	logger.Info("pipeline attached", "call_id", call.ID)

	history := make([]internal_backend.Turn, 0, o.opts.MaxHistoryTurns*2)
	language := ""

	for u := range media.Utterances() {
		rec := o.process(ctx, call, media, u, &history, &language)
		rec.Latency = time.Since(rec.StartedAt)
		o.store.Append(rec)

		logger.Info("utterance finished",
			"call_id", call.ID,
			"utterance_id", u.ID,
			"status", rec.Status,
			"stage", rec.Stage,
			"latency", rec.Latency,
			"text", utils.Truncate(rec.UserText, 80),
		)
	}
	logger.Info("pipeline detached", "call_id", call.ID)
}

func (o *Orchestrator) process(
	ctx context.Context,
	call *internal_session.CallSession,
	media MediaPort,
	u *internal_vad.Utterance,
	history *[]internal_backend.Turn,
	language *string,
) TranscriptRecord {
	rec := TranscriptRecord{
		CallID:      call.ID,
		UtteranceID: u.ID,
		StartedAt:   time.Now(),
	}

	// The caller spoke over whatever we were playing: stop stale audio now
	// so the reply to this utterance starts clean.
	media.Interrupt()
	defer media.Resume()

	// -- transcribe -----------------------------------------------------
	text, err := o.transcribe(ctx, u, *language)
	if err != nil {
		rec.Status, rec.Stage = StatusFailed, StageTranscribe
		o.logger.Warn("transcription failed", "call_id", call.ID, "utterance_id", u.ID, "error", err)
		return rec
	}
	if utils.IsEmpty(text) {
		// breathing, line noise: nothing to answer
		rec.Status, rec.Stage = StatusDiscarded, StageTranscribe
		return rec
	}
	rec.UserText = text
	if lang := internal_backend.DetectLanguage(text); lang != "" {
		*language = lang
	}
	rec.Language = *language

	// -- generate -------------------------------------------------------
	*history = appendBounded(*history, internal_backend.Turn{
		Role: internal_backend.RoleUser, Content: text,
	}, o.opts.MaxHistoryTurns)

	reply, err := o.generate(ctx, *history)
	if err != nil {
		o.logger.Warn("generation failed twice, using fallback",
			"call_id", call.ID, "utterance_id", u.ID, "error", err)
		reply = apologyText
		rec.Fallback = true
	}
	rec.ReplyText = reply
	*history = appendBounded(*history, internal_backend.Turn{
		Role: internal_backend.RoleAssistant, Content: reply,
	}, o.opts.MaxHistoryTurns)

	// -- synthesize -----------------------------------------------------
	lpcm, err := o.synthesize(ctx, reply)
	if err != nil {
		rec.Status, rec.Stage = StatusFailed, StageSynthesize
		o.logger.Error("synthesis failed, reply stays text-only",
			"call_id", call.ID, "utterance_id", u.ID, "error", err)
		return rec
	}
	o.saveResponse(u.ID, lpcm)

	// -- deliver --------------------------------------------------------
	if call.Terminal() {
		// call ended while we were working; nobody is listening
		rec.Status, rec.Stage = StatusDiscarded, StageDeliver
		return rec
	}
	if err := o.enqueueLPCM(call, media, lpcm); err != nil {
		rec.Status, rec.Stage = StatusFailed, StageDeliver
		o.logger.Warn("playback enqueue failed", "call_id", call.ID, "error", err)
		return rec
	}

	rec.Status = StatusDelivered
	return rec
}

func (o *Orchestrator) transcribe(ctx context.Context, u *internal_vad.Utterance, language string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	return o.svc.Transcriber.Transcribe(tctx, internal_audio.EncodeWAV(u.PCM), language)
}

// generate asks the model once and retries a single time on failure.
func (o *Orchestrator) generate(ctx context.Context, history []internal_backend.Turn) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		gctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
		reply, err := o.svc.Generator.Generate(gctx, history)
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	sctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	return o.svc.Synthesizer.Synthesize(sctx, text)
}

// enqueueLPCM transcodes to the call's codec and queues 20 ms frames.
func (o *Orchestrator) enqueueLPCM(call *internal_session.CallSession, media MediaPort, lpcm []byte) error {
	payload, err := internal_audio.Encode(call.Codec.PayloadType, lpcm)
	if err != nil {
		return err
	}
	frames := internal_audio.Packetize(call.Codec.PayloadType, payload)
	accepted := media.EnqueuePlayback(frames)
	if accepted < len(frames) {
		return fmt.Errorf("playback queue full: %d of %d frames queued", accepted, len(frames))
	}
	return nil
}

func (o *Orchestrator) saveResponse(utteranceID string, lpcm []byte) {
	if o.opts.ResponseDir == "" {
		return
	}
	if err := os.MkdirAll(o.opts.ResponseDir, 0o755); err != nil {
		o.logger.Warn("creating response dir", "error", err)
		return
	}
	path := filepath.Join(o.opts.ResponseDir, utteranceID+".wav")
	if err := internal_audio.WriteWAV(path, lpcm); err != nil {
		o.logger.Warn("writing response file", "path", path, "error", err)
	}
}

func appendBounded(history []internal_backend.Turn, turn internal_backend.Turn, maxTurns int) []internal_backend.Turn {
	history = append(history, turn)
	if limit := maxTurns * 2; len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
