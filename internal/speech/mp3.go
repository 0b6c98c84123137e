package speech

import (
	"encoding/binary"
	"errors"
	"time"
)

// MP3Info is what the first frame header says about a clip.
type MP3Info struct {
	Bitrate    int // bits per second
	SampleRate int
	Duration   time.Duration
}

var ErrNoFrame = errors.New("no valid MPEG frame found")

// MPEG audio version/layer/bitrate lookup tables (ISO 11172-3 / 13818-3).
var bitrateTable = [2][3][16]int{
	// MPEG-1
	{
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	// MPEG-2 / MPEG-2.5
	{
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

var sampleRateTable = [3][4]int{
	{44100, 48000, 32000, 0}, // MPEG-1
	{22050, 24000, 16000, 0}, // MPEG-2
	{11025, 12000, 8000, 0},  // MPEG-2.5
}

const probeWindow = 8192

// ProbeMP3 reads the first frame header of an in-memory clip and estimates
// its length from the byte count, assuming a constant bitrate.
func ProbeMP3(audio []byte) (MP3Info, error) {
	offset := 0
	if len(audio) >= 10 && string(audio[:3]) == "ID3" {
		// Synchsafe integer (4 bytes, 7 bits each)
		tagSize := int(audio[6])<<21 | int(audio[7])<<14 | int(audio[8])<<7 | int(audio[9])
		offset = 10 + tagSize
	}
	if offset >= len(audio) {
		return MP3Info{}, ErrNoFrame
	}

	buf := audio[offset:]
	if len(buf) > probeWindow {
		buf = buf[:probeWindow]
	}

	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] != 0xFF || buf[i+1]&0xE0 != 0xE0 {
			continue
		}
		hdr := binary.BigEndian.Uint32(buf[i : i+4])

		versionBits := (hdr >> 19) & 0x03
		layerBits := (hdr >> 17) & 0x03
		bitrateIdx := (hdr >> 12) & 0x0F
		sampleIdx := (hdr >> 10) & 0x03

		if bitrateIdx == 0 || bitrateIdx == 15 || sampleIdx == 3 || layerBits == 0 {
			continue
		}

		// version bits: 0=2.5, 1=reserved, 2=2, 3=1
		var versionIdx, sampleVersion int
		switch versionBits {
		case 3:
			versionIdx, sampleVersion = 0, 0
		case 2:
			versionIdx, sampleVersion = 1, 1
		case 0:
			versionIdx, sampleVersion = 1, 2
		default:
			continue
		}

		// layer bits: 1=III, 2=II, 3=I
		layerIdx := 3 - int(layerBits)

		bitrate := bitrateTable[versionIdx][layerIdx][bitrateIdx] * 1000
		sampleRate := sampleRateTable[sampleVersion][sampleIdx]
		if bitrate == 0 || sampleRate == 0 {
			continue
		}

		audioBits := int64(len(audio)-offset-i) * 8
		return MP3Info{
			Bitrate:    bitrate,
			SampleRate: sampleRate,
			Duration:   time.Duration(audioBits * int64(time.Second) / int64(bitrate)),
		}, nil
	}

	return MP3Info{}, ErrNoFrame
}
