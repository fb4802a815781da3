package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Defaults for microphone capture and transport.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	DefaultBitDepth   = 16

	headerSize = 44
)

var ErrInvalidWAV = errors.New("invalid wav data")

// Info describes the format carried in a WAV header.
type Info struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	DataSize    int
	SampleCount int
}

// EncodeWAV converts normalized float samples in [-1,1] into a complete,
// standalone WAV buffer (44-byte header + little-endian PCM16; the output is
// always 16-bit). Samples outside [-1,1] are clamped, never wrapped. An empty
// sample slice produces a valid zero-sample WAV, used as the "nothing
// recorded" sentinel.
func EncodeWAV(samples []float64, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(math.Round(s * 32768))
		} else {
			v = int16(math.Round(s * 32767))
		}
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(v))
	}
	return EncodePCM16(pcm, sampleRate, channels)
}

// EncodePCM16 wraps raw PCM16LE audio bytes in a WAV container.
func EncodePCM16(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(pcm))
	// Writes to bytes.Buffer never fail.
	_ = WritePCM16To(&buf, pcm, sampleRate, channels)
	return buf.Bytes()
}

// WritePCM16To writes raw PCM16LE audio bytes to out as a WAV stream.
func WritePCM16To(out io.Writer, pcm []byte, sampleRate, channels int) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(channels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeInfo parses a WAV header and returns the carried format. Only PCM16
// is accepted since that is the only format the transport produces.
func DecodeInfo(data []byte) (Info, error) {
	info, _, err := decode(data)
	return info, err
}

// DecodePCM16 parses a WAV buffer and returns its format plus the raw PCM16LE
// payload of the data chunk.
func DecodePCM16(data []byte) (Info, []byte, error) {
	return decode(data)
}

func decode(data []byte) (Info, []byte, error) {
	if len(data) < 12 {
		return Info{}, nil, fmt.Errorf("%w: too short", ErrInvalidWAV)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidWAV)
	}

	var (
		haveFmt  bool
		haveData bool
		info     Info
		pcm      []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return Info{}, nil, fmt.Errorf("%w: chunk size out of range", ErrInvalidWAV)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return Info{}, nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if format := binary.LittleEndian.Uint16(chunk[0:2]); format != 1 {
				return Info{}, nil, fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidWAV, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			info.BitDepth = int(binary.LittleEndian.Uint16(chunk[14:16]))
			haveFmt = true
		case "data":
			pcm = chunk
			info.DataSize = size
			haveData = true
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return Info{}, nil, fmt.Errorf("%w: fmt chunk missing", ErrInvalidWAV)
	}
	if !haveData {
		return Info{}, nil, fmt.Errorf("%w: data chunk missing", ErrInvalidWAV)
	}
	if info.BitDepth != 16 {
		return Info{}, nil, fmt.Errorf("%w: bits_per_sample %d unsupported", ErrInvalidWAV, info.BitDepth)
	}
	if info.Channels <= 0 {
		return Info{}, nil, fmt.Errorf("%w: channels=0", ErrInvalidWAV)
	}
	if info.SampleRate <= 0 {
		return Info{}, nil, fmt.Errorf("%w: sample_rate=0", ErrInvalidWAV)
	}
	info.SampleCount = info.DataSize / (info.Channels * 2)
	return info, pcm, nil
}
