package camera

import (
	"testing"

	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/codec/x264"

	"webcam-capture/internal/assert"
	"webcam-capture/internal/domain"
)

func videoBitRates(t *testing.T, r *CodecRegistry) (vp8, vp9, h264, audio int) {
	t.Helper()
	return r.video["vp8"].(*vpx.VP8Params).BitRate,
		r.video["vp9"].(*vpx.VP9Params).BitRate,
		r.video["h264"].(*x264.Params).BitRate,
		r.audio["opus"].(*opus.Params).BitRate
}

func TestCodecRegistryUsesQualityLimits(t *testing.T) {
	r, err := NewCodecRegistry(domain.QualityLow.Constraints())
	assert.NilErr(t, err)
	assert.DeepEqual(t, r.VideoCodecs(), []string{"vp8", "vp9", "h264"})
	assert.BoolIs(t, r.Supports("OPUS"), true)
	assert.BoolIs(t, r.Supports("av1"), false)

	vp8, vp9, h264, audio := videoBitRates(t, r)
	assert.DeepEqual(t, []int{vp8, vp9, h264, audio}, []int{500_000, 500_000, 500_000, 64_000})
	assert.DeepEqual(t, r.video["vp8"].(*vpx.VP8Params).KeyFrameInterval, 15)
	assert.DeepEqual(t, r.video["h264"].(*x264.Params).KeyFrameInterval, 30)
}

func TestCodecRegistryWithLimits(t *testing.T) {
	r, err := NewCodecRegistry(domain.QualityMedium.Constraints())
	assert.NilErr(t, err)

	same, err := r.WithLimits(domain.QualityMedium.Constraints())
	assert.NilErr(t, err)
	if same != r {
		t.Fatal("unchanged limits must reuse the registry")
	}

	high, err := r.WithLimits(domain.QualityHigh.Constraints())
	assert.NilErr(t, err)
	assert.DeepEqual(t, high.Limits(), domain.QualityHigh.Constraints())
	vp8, vp9, h264, audio := videoBitRates(t, high)
	assert.DeepEqual(t, []int{vp8, vp9, h264, audio}, []int{4_000_000, 4_000_000, 4_000_000, 128_000})

	// Исходный набор не меняется
	vp8, _, _, audio = videoBitRates(t, r)
	assert.DeepEqual(t, []int{vp8, audio}, []int{1_500_000, 96_000})
}
