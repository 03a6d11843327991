// Package audio derives playback duration from synthesized audio bytes.
// Duration is parsed from the container whenever the format has one, so
// usage metering reflects real audio seconds rather than byte-count guesses.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DurationSeconds returns the duration of the audio data for the given
// format ("wav", "mp3"). Formats without a structural parser return
// ErrUnsupportedFormat; callers fall back to EstimateSeconds.
func DurationSeconds(data []byte, format string) (float64, error) {
	switch strings.ToLower(format) {
	case "wav", "wave", "riff":
		return wavDuration(data)
	case "mp3", "mpeg":
		return mp3Duration(data)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// EstimateSeconds approximates duration from the byte length and an assumed
// constant bitrate in kbit/s. Last resort when no parser exists.
func EstimateSeconds(byteLen int, bitrateKbps int) float64 {
	if bitrateKbps <= 0 {
		bitrateKbps = 128
	}
	return float64(byteLen) * 8 / (float64(bitrateKbps) * 1000)
}

// wavDuration walks the RIFF chunk list and computes data length divided by
// the fmt chunk's byte rate.
func wavDuration(data []byte) (float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE stream")
	}

	var byteRate uint32
	var dataSize uint32
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, errors.New("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = chunkSize
			// data size may exceed the buffer for streamed writes; clamp
			if remaining := uint32(len(data) - body); dataSize > remaining {
				dataSize = remaining
			}
		}

		// Chunks are word-aligned.
		pos = body + int(chunkSize)
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if byteRate == 0 {
		return 0, errors.New("missing or invalid fmt chunk")
	}
	if dataSize == 0 {
		return 0, errors.New("missing data chunk")
	}
	return float64(dataSize) / float64(byteRate), nil
}

// mpeg1Layer3Bitrates maps the MPEG-1 Layer III bitrate index to kbit/s.
var mpeg1Layer3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// mpeg2Layer3Bitrates maps the MPEG-2/2.5 Layer III bitrate index to kbit/s.
var mpeg2Layer3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

// mp3Duration locates the first MPEG audio frame header, reads its bitrate,
// and estimates duration assuming constant bitrate. Exact for the CBR
// streams speech synthesis providers emit.
func mp3Duration(data []byte) (float64, error) {
	start := 0

	// Skip an ID3v2 tag if present.
	if len(data) >= 10 && string(data[0:3]) == "ID3" {
		size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
		start = 10 + size
	}

	for i := start; i+4 <= len(data); i++ {
		if data[i] != 0xFF || data[i+1]&0xE0 != 0xE0 {
			continue
		}

		versionBits := (data[i+1] >> 3) & 0x03
		layerBits := (data[i+1] >> 1) & 0x03
		if versionBits == 1 || layerBits != 1 { // reserved version, or not Layer III
			continue
		}

		bitrateIdx := (data[i+2] >> 4) & 0x0F
		var kbps int
		if versionBits == 3 { // MPEG-1
			kbps = mpeg1Layer3Bitrates[bitrateIdx]
		} else { // MPEG-2 / 2.5
			kbps = mpeg2Layer3Bitrates[bitrateIdx]
		}
		if kbps == 0 {
			continue
		}

		audioBytes := len(data) - i
		return float64(audioBytes) * 8 / (float64(kbps) * 1000), nil
	}

	return 0, errors.New("no MPEG audio frame found")
}
