package audio

import "encoding/binary"

// ToSpeechFormat converts PCM16 recorded in format src to [SpeechFormat]:
// stereo is downmixed, then the rate is converted. An invalid src returns
// pcm unchanged. A trailing partial frame is dropped.
func ToSpeechFormat(pcm []byte, src Format) []byte {
	if !src.Valid() {
		return pcm
	}
	samples := decode(pcm)
	if src.Channels == 2 {
		samples = downmix(samples)
	}
	return encode(resample(samples, src.SampleRate, SpeechFormat.SampleRate))
}

func decode(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func encode(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// downmix averages interleaved left/right pairs. The int32 sum of two int16
// values cannot overflow, and their mean always fits back into int16.
func downmix(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return out
}

// resample converts mono samples from rate `from` to rate `to` by linear
// interpolation between neighbouring input samples.
func resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 || to <= 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j]) + (float64(in[j+1])-float64(in[j]))*frac)
	}
	return out
}
