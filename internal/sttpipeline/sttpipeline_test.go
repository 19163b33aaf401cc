package sttpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HassanFazal97/professor/pkg/provider/stt"
	"github.com/HassanFazal97/professor/pkg/provider/stt/mock"
	"github.com/HassanFazal97/professor/pkg/types"
)

func testTiming() Timing {
	return Timing{
		StartGuard:    50 * time.Millisecond,
		ConfirmWindow: 200 * time.Millisecond,
		Debounce:      100 * time.Millisecond,
		EchoCooldown:  200 * time.Millisecond,
		MergeWindow:   100 * time.Millisecond,
	}
}

func newTestPipeline(t *testing.T, cb Callbacks) (*Pipeline, *mock.Session) {
	t.Helper()
	sess := &mock.Session{
		PartialsCh:      make(chan types.Transcript, 4),
		FinalsCh:        make(chan types.Transcript, 4),
		VoiceActivityCh: make(chan struct{}, 4),
	}
	provider := &mock.Provider{Session: sess}
	p := New(provider, stt.StreamConfig{SampleRate: 16000, Channels: 1}, testTiming(), cb)
	return p, sess
}

func TestFinalTranscript_ForwardedWhenNoEcho(t *testing.T) {
	var got string
	p, sess := newTestPipeline(t, Callbacks{
		OnFinalTranscript: func(text string) { got = text },
	})
	require.NoError(t, p.Start(context.Background()))

	sess.FinalsCh <- types.Transcript{Text: "what is two plus two", IsFinal: true}
	waitFor(t, func() bool { return got != "" })

	assert.Equal(t, "what is two plus two", got)
}

func TestFinalTranscript_SuppressedAsSelfEchoDuringCooldown(t *testing.T) {
	var got string
	p, sess := newTestPipeline(t, Callbacks{
		OnFinalTranscript: func(text string) { got = text },
	})
	require.NoError(t, p.Start(context.Background()))

	p.NotifyTTSBegin()
	p.NotifyTTSEnd("the quick brown fox jumps over the lazy dog")

	sess.FinalsCh <- types.Transcript{Text: "the quick brown fox jumps over the lazy dog", IsFinal: true}
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, got)
}

func TestFinalTranscript_NotSuppressedAfterCooldownExpires(t *testing.T) {
	var got string
	p, sess := newTestPipeline(t, Callbacks{
		OnFinalTranscript: func(text string) { got = text },
	})
	require.NoError(t, p.Start(context.Background()))

	p.NotifyTTSBegin()
	p.NotifyTTSEnd("the quick brown fox jumps over the lazy dog")
	time.Sleep(250 * time.Millisecond) // longer than EchoCooldown

	sess.FinalsCh <- types.Transcript{Text: "the quick brown fox jumps over the lazy dog", IsFinal: true}
	waitFor(t, func() bool { return got != "" })

	assert.NotEmpty(t, got)
}

// S6 — echo suppression: SpeechStarted within the start guard, with no
// corroborating interim, never raises an auto-barge.
func TestAutoBarge_SuppressedWithinStartGuard(t *testing.T) {
	var barged bool
	p, sess := newTestPipeline(t, Callbacks{
		OnAutoBarge: func() { barged = true },
	})
	require.NoError(t, p.Start(context.Background()))

	p.NotifyTTSBegin()
	sess.VoiceActivityCh <- struct{}{}
	sess.PartialsCh <- types.Transcript{Text: "wait"}
	time.Sleep(80 * time.Millisecond)

	assert.False(t, barged)
}

func TestAutoBarge_RaisedWhenCorroboratedOutsideStartGuard(t *testing.T) {
	var barged bool
	p, sess := newTestPipeline(t, Callbacks{
		OnAutoBarge: func() { barged = true },
	})
	require.NoError(t, p.Start(context.Background()))

	p.NotifyTTSBegin()
	time.Sleep(80 * time.Millisecond) // past the start guard
	sess.VoiceActivityCh <- struct{}{}
	sess.PartialsCh <- types.Transcript{Text: "wait stop"}

	waitFor(t, func() bool { return barged })
	assert.True(t, barged)
}

func TestAutoBarge_NotRaisedWithoutCorroboratingInterim(t *testing.T) {
	var barged bool
	p, sess := newTestPipeline(t, Callbacks{
		OnAutoBarge: func() { barged = true },
	})
	require.NoError(t, p.Start(context.Background()))

	p.NotifyTTSBegin()
	time.Sleep(80 * time.Millisecond)
	sess.VoiceActivityCh <- struct{}{}
	time.Sleep(250 * time.Millisecond) // past confirm window, no interim arrives

	assert.False(t, barged)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
