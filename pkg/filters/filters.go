// Package filters holds the audio filter value objects accepted by a
// Lavalink node. They are pure configuration: validated on construction,
// compared by value, and serialized into the node's filter payloads by the
// host. No playback state lives here.
package filters

import "fmt"

// BandCount is the number of equalizer bands a node exposes
const BandCount = 15

const (
	minGain = -0.25
	maxGain = 1.0
)

// Volume is a playback volume multiplier. 1.0 is unchanged.
type Volume struct {
	value float64
}

// NewVolume creates a volume filter. Negative values are invalid.
func NewVolume(value float64) (Volume, error) {
	if value < 0 {
		return Volume{}, fmt.Errorf("volume must be zero or greater, got %v", value)
	}
	return Volume{value: value}, nil
}

// DefaultVolume returns the neutral volume.
func DefaultVolume() Volume {
	return Volume{value: 1.0}
}

// Value returns the multiplier.
func (v Volume) Value() float64 { return v.value }

// Changed reports whether the volume differs from the default.
func (v Volume) Changed() bool { return v.value != 1.0 }

// Band is a single equalizer band setting
type Band struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

// Equalizer is a 15-band equalizer configuration.
type Equalizer struct {
	name  string
	bands [BandCount]float64
}

// NewEqualizer builds an equalizer from explicit band settings. Bands not
// listed stay at zero gain.
func NewEqualizer(name string, levels []Band) (*Equalizer, error) {
	eq := &Equalizer{name: name}
	if eq.name == "" {
		eq.name = "CustomEqualizer"
	}
	for _, level := range levels {
		if level.Band < 0 || level.Band >= BandCount {
			return nil, fmt.Errorf("band must be between 0 and %d, got %d", BandCount-1, level.Band)
		}
		if level.Gain < minGain || level.Gain > maxGain {
			return nil, fmt.Errorf("gain must be between %v and %v, got %v", minGain, maxGain, level.Gain)
		}
		eq.bands[level.Band] = level.Gain
	}
	return eq, nil
}

// Name returns the equalizer's friendly name.
func (e *Equalizer) Name() string { return e.name }

// Gain returns the gain of a single band, or zero for an invalid band.
func (e *Equalizer) Gain(band int) float64 {
	if band < 0 || band >= BandCount {
		return 0
	}
	return e.bands[band]
}

// Bands returns the full band list in wire order.
func (e *Equalizer) Bands() []Band {
	out := make([]Band, BandCount)
	for i, gain := range e.bands {
		out[i] = Band{Band: i, Gain: gain}
	}
	return out
}

// Changed reports whether any band deviates from flat.
func (e *Equalizer) Changed() bool {
	for _, gain := range e.bands {
		if gain != 0 {
			return true
		}
	}
	return false
}

func mustEqualizer(name string, gains []float64) *Equalizer {
	levels := make([]Band, len(gains))
	for i, gain := range gains {
		levels[i] = Band{Band: i, Gain: gain}
	}
	eq, err := NewEqualizer(name, levels)
	if err != nil {
		panic(err)
	}
	return eq
}

// Flat resets the equalizer to no adjustment.
func Flat() *Equalizer {
	return mustEqualizer("Flat", make([]float64, BandCount))
}

// Boost emphasizes punchy bass and crisp mid-high tones. Not suitable for
// tracks with deep low bass.
func Boost() *Equalizer {
	return mustEqualizer("Boost", []float64{
		-0.075, 0.125, 0.125, 0.1, 0.1, 0.05, 0.075, 0.0, 0.0, 0.0, 0.0, 0.0, 0.125, 0.15, 0.05,
	})
}

// Metal is an experimental metal/rock equalizer. Expect clipping on bassy
// songs.
func Metal() *Equalizer {
	return mustEqualizer("Metal", []float64{
		0.0, 0.1, 0.1, 0.15, 0.13, 0.1, 0.0, 0.125, 0.175, 0.175, 0.125, 0.125, 0.1, 0.075, 0.0,
	})
}

// Piano suits piano tracks or an emphasis on vocals; it also works as a
// bass cutoff.
func Piano() *Equalizer {
	return mustEqualizer("Piano", []float64{
		-0.25, -0.25, -0.125, 0.0, 0.25, 0.25, 0.0, -0.25, -0.25, 0.0, 0.0, 0.5, 0.25, -0.025, 0.0,
	})
}
