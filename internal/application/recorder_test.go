package application

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"webcam-capture/internal/assert"
	"webcam-capture/internal/domain"
)

type finished struct {
	blob    *domain.Blob
	elapsed time.Duration
	err     error
}

func newTestRecorder(t *testing.T, factory *fakeFactory) (*Recorder, clockwork.FakeClock, chan finished) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := NewRecorder(factory, clock, testLogger)
	done := make(chan finished, 4)
	rec.OnFinished = func(blob *domain.Blob, elapsed time.Duration, err error) {
		done <- finished{blob, elapsed, err}
	}
	return rec, clock, done
}

func recordOptions(max time.Duration) RecordOptions {
	return RecordOptions{
		CodecPreference: domain.DefaultCodecPreference,
		MaxDuration:     max,
		WithAudio:       true,
	}
}

func TestRecorderAutoStopsAtMaxDuration(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8,opus")
	factory.final = []byte("tail")
	rec, clock, done := newTestRecorder(t, factory)

	stream := &fakeStream{label: "cam", audio: true}
	assert.NilErr(t, rec.Start(stream, recordOptions(30*time.Second)))
	assert.DeepEqual(t, rec.State(), domain.StateRecording)
	assert.DeepEqual(t, rec.MimeType(), "video/webm;codecs=vp8,opus")

	enc := factory.last()
	enc.chunk([]byte("head"))
	enc.chunk(nil)

	// Пользователь не останавливает запись 31 секунду
	clock.Advance(31 * time.Second)

	res := assert.ChanWritten(t, done)
	assert.NilErr(t, res.err)
	assert.DeepEqual(t, res.elapsed, 30*time.Second)
	assert.DeepEqual(t, string(res.blob.Data), "headtail")
	assert.DeepEqual(t, res.blob.MimeType, "video/webm;codecs=vp8,opus")
	assert.DeepEqual(t, rec.State(), domain.StateIdle)
	assert.DeepEqual(t, enc.stopCount(), 1)
}

func TestRecorderManualStopMatchesAutoStop(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8,opus")
	factory.final = []byte("tail")
	rec, clock, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{audio: true}, recordOptions(30*time.Second)))
	factory.last().chunk([]byte("head"))
	clock.Advance(12 * time.Second)
	assert.NilErr(t, rec.Stop())

	res := assert.ChanWritten(t, done)
	assert.NilErr(t, res.err)
	assert.DeepEqual(t, res.elapsed, 12*time.Second)
	assert.DeepEqual(t, string(res.blob.Data), "headtail")

	// Сработавший позже таймер не должен ничего сделать
	clock.Advance(time.Minute)
	assert.ChanNotWritten(t, done, 50*time.Millisecond)
}

func TestRecorderPauseFreezesCountdown(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8,opus")
	factory.final = []byte("x")
	rec, clock, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{audio: true}, recordOptions(30*time.Second)))
	clock.Advance(10 * time.Second)

	assert.NilErr(t, rec.Pause())
	assert.DeepEqual(t, rec.State(), domain.StatePaused)
	assert.BoolIs(t, factory.last().paused, true)
	clock.Advance(time.Hour)
	assert.ChanNotWritten(t, done, 50*time.Millisecond)
	assert.DeepEqual(t, rec.Elapsed(), 10*time.Second)
	assert.DeepEqual(t, rec.Remaining(), 20*time.Second)

	assert.NilErr(t, rec.Resume())
	assert.DeepEqual(t, rec.State(), domain.StateRecording)
	clock.Advance(19 * time.Second)
	assert.DeepEqual(t, rec.State(), domain.StateRecording)

	clock.Advance(time.Second)
	res := assert.ChanWritten(t, done)
	assert.NilErr(t, res.err)
	assert.DeepEqual(t, res.elapsed, 30*time.Second)
}

func TestRecorderStopFromPaused(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8")
	factory.final = []byte("x")
	rec, _, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	assert.NilErr(t, rec.Pause())
	assert.NilErr(t, rec.Stop())

	res := assert.ChanWritten(t, done)
	assert.NilErr(t, res.err)
	assert.DeepEqual(t, rec.State(), domain.StateIdle)
}

func TestRecorderEmptyCapture(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8")
	rec, _, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	assert.NilErr(t, rec.Stop())

	res := assert.ChanWritten(t, done)
	if res.blob != nil {
		t.Fatalf("unexpected blob of %d bytes", res.blob.Size())
	}
	assert.BoolIs(t, domain.IsKind(res.err, domain.KindEmptyCapture), true)
	assert.DeepEqual(t, domain.UserMessage(res.err), "Видеоданные не были записаны")
	assert.DeepEqual(t, rec.State(), domain.StateIdle)
}

func TestRecorderEncoderErrorReturnsToIdle(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8")
	rec, _, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	enc := factory.last()
	enc.chunk([]byte("data"))

	cause := errors.New("encoder crashed")
	enc.fail(cause)

	res := assert.ChanWritten(t, done)
	assert.BoolIs(t, domain.IsKind(res.err, domain.KindEncoderFailure), true)
	assert.ErrorIs(t, res.err, cause)
	assert.DeepEqual(t, rec.State(), domain.StateIdle)

	// Запоздалые события старого кодировщика игнорируются
	enc.chunk([]byte("late"))
	assert.ChanNotWritten(t, done, 50*time.Millisecond)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	assert.DeepEqual(t, rec.State(), domain.StateRecording)
}

func TestRecorderStopTimeout(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8")
	factory.finishOnStop = false
	rec, clock, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	assert.NilErr(t, rec.Stop())
	assert.DeepEqual(t, rec.State(), domain.StateStopping)

	clock.Advance(DefaultStopTimeout)
	res := assert.ChanWritten(t, done)
	assert.BoolIs(t, domain.IsKind(res.err, domain.KindEncoderFailure), true)
	assert.DeepEqual(t, rec.State(), domain.StateIdle)
}

func TestRecorderInvalidTransitions(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8")
	factory.finishOnStop = false
	rec, _, _ := newTestRecorder(t, factory)

	assert.BoolIs(t, domain.IsKind(rec.Pause(), domain.KindInvalidState), true)
	assert.BoolIs(t, domain.IsKind(rec.Resume(), domain.KindInvalidState), true)
	assert.BoolIs(t, domain.IsKind(rec.Stop(), domain.KindInvalidState), true)
	assert.BoolIs(t, domain.IsKind(rec.Start(nil, recordOptions(time.Second)), domain.KindInvalidState), true)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(time.Second)))
	assert.BoolIs(t, domain.IsKind(rec.Start(&fakeStream{}, recordOptions(time.Second)), domain.KindInvalidState), true)
	assert.BoolIs(t, domain.IsKind(rec.Resume(), domain.KindInvalidState), true)

	rec.Abort()
	assert.DeepEqual(t, rec.State(), domain.StateIdle)
	assert.DeepEqual(t, factory.last().stopCount(), 1)
}

func TestRecorderChunksResetBetweenRecordings(t *testing.T) {
	factory := newFakeFactory("video/webm;codecs=vp8")
	rec, _, done := newTestRecorder(t, factory)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	factory.last().chunk([]byte("first"))
	assert.NilErr(t, rec.Stop())
	first := assert.ChanWritten(t, done)
	assert.NilErr(t, first.err)

	assert.NilErr(t, rec.Start(&fakeStream{}, recordOptions(30*time.Second)))
	factory.last().chunk([]byte("second"))
	assert.NilErr(t, rec.Stop())
	second := assert.ChanWritten(t, done)
	if !bytes.Equal(second.blob.Data, []byte("second")) {
		t.Fatalf("got %q, want only the second recording", second.blob.Data)
	}
}

func TestSelectMimeType(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		def       string
		prefs     []string
		withAudio bool
		want      string
		wantErr   bool
	}{{
		name:      "first supported preference",
		supported: []string{"video/webm;codecs=vp9,opus", "video/webm;codecs=vp8,opus"},
		prefs:     domain.DefaultCodecPreference,
		withAudio: true,
		want:      "video/webm;codecs=vp8,opus",
	}, {
		name:      "audio dropped without microphone",
		supported: []string{"video/webm;codecs=vp8"},
		prefs:     domain.DefaultCodecPreference,
		want:      "video/webm;codecs=vp8",
	}, {
		name:      "encoder default",
		def:       "video/h264",
		prefs:     []string{"video/webm;codecs=vp9,opus"},
		withAudio: true,
		want:      "video/h264",
	}, {
		name:    "nothing available",
		prefs:   domain.DefaultCodecPreference,
		wantErr: true,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			factory := newFakeFactory(tc.supported...)
			factory.def = tc.def
			format, err := SelectMimeType(factory, tc.prefs, tc.withAudio)
			if tc.wantErr {
				assert.BoolIs(t, domain.IsKind(err, domain.KindEncoderUnsupported), true)
				return
			}
			assert.NilErr(t, err)
			assert.DeepEqual(t, format.MimeType, tc.want)
		})
	}
}
