package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"webcam-capture/internal/assert"
	"webcam-capture/internal/domain"
)

func testSession(video string) domain.CaptureSession {
	return domain.CaptureSession{
		VideoDeviceID: video,
		AudioEnabled:  true,
		Quality:       domain.QualityMedium,
		MaxDuration:   30 * time.Second,
	}
}

func TestStreamInitializerReleasesBeforeAcquire(t *testing.T) {
	manager := newFakeManager(cameraA, cameraB)
	preview := &fakePreview{}
	s := NewStreamInitializer(manager, preview, testLogger)
	ctx := context.Background()

	first, err := s.Initialize(ctx, testSession(cameraA.ID))
	assert.NilErr(t, err)
	assert.NilErr(t, s.WaitReady(ctx))

	_, err = s.Initialize(ctx, testSession(cameraB.ID))
	assert.NilErr(t, err)
	assert.BoolIs(t, first.(*fakeStream).isClosed(), true)
	assert.DeepEqual(t, manager.openedWhileLive, 0)

	assert.NilErr(t, s.WaitReady(ctx))
	stream, ready := s.Stream()
	assert.BoolIs(t, ready, true)
	assert.DeepEqual(t, stream.Label(), cameraB.ID)

	req := manager.requests[1]
	assert.DeepEqual(t, req.Video.Width, 1280)
	assert.BoolIs(t, req.Audio.EchoCancellation, true)
	assert.BoolIs(t, req.Audio.NoiseSuppression, true)

	assert.Eventually(t, func() bool {
		started, stopped := preview.counts()
		return started == 2 && stopped >= 1
	})
}

func TestStreamInitializerReadyAfterFirstFrame(t *testing.T) {
	manager := newFakeManager(cameraA)
	manager.newStream = func(req domain.StreamRequest) *fakeStream {
		return &fakeStream{label: req.VideoDeviceID, emptyFirst: 3}
	}
	s := NewStreamInitializer(manager, nil, testLogger)

	_, err := s.Initialize(context.Background(), testSession(cameraA.ID))
	assert.NilErr(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NilErr(t, s.WaitReady(ctx))
	assert.BoolIs(t, s.Ready(), true)
}

func TestStreamInitializerNeverReadyWithoutFrames(t *testing.T) {
	manager := newFakeManager(cameraA)
	manager.newStream = func(req domain.StreamRequest) *fakeStream {
		return &fakeStream{snapErr: errors.New("no frames")}
	}
	s := NewStreamInitializer(manager, nil, testLogger)

	_, err := s.Initialize(context.Background(), testSession(cameraA.ID))
	assert.NilErr(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitReady(ctx), context.DeadlineExceeded)
	_, ready := s.Stream()
	assert.BoolIs(t, ready, false)
}

func TestStreamInitializerClassifiesErrors(t *testing.T) {
	manager := newFakeManager(cameraA)
	s := NewStreamInitializer(manager, nil, testLogger)

	manager.openErr = domain.NewError(domain.KindHardwareBusy, "open stream", nil)
	_, err := s.Initialize(context.Background(), testSession(cameraA.ID))
	assert.BoolIs(t, domain.IsKind(err, domain.KindHardwareBusy), true)

	cause := errors.New("driver exploded")
	manager.openErr = cause
	_, err = s.Initialize(context.Background(), testSession(cameraA.ID))
	assert.DeepEqual(t, domain.KindOf(err), domain.KindOther)
	assert.ErrorIs(t, err, cause)

	_, ready := s.Stream()
	assert.BoolIs(t, ready, false)
}

func TestStreamInitializerReleaseIsIdempotent(t *testing.T) {
	manager := newFakeManager(cameraA)
	s := NewStreamInitializer(manager, nil, testLogger)

	stream, err := s.Initialize(context.Background(), testSession(cameraA.ID))
	assert.NilErr(t, err)

	s.Release()
	s.Release()
	assert.BoolIs(t, stream.(*fakeStream).isClosed(), true)
	assert.BoolIs(t, s.Ready(), false)
	assert.BoolIs(t, domain.IsKind(s.WaitReady(context.Background()), domain.KindInvalidState), true)
}
