package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"
)

const (
	oggHeaderLen = 27

	// opusSampleRate is the rate libopus decodes at regardless of the
	// original input rate recorded in OpusHead.
	opusSampleRate = 48000

	// opusMaxFrameSize is the largest frame (120 ms at 48 kHz) a single
	// packet may carry.
	opusMaxFrameSize = 5760
)

var (
	errNotOpus     = errors.New("audio: ogg stream is not opus")
	errOggTruncate = errors.New("audio: truncated ogg page")
)

// oggPackets demultiplexes the first logical bitstream of an Ogg container
// into its packets. Packets spanning page boundaries are reassembled.
func oggPackets(data []byte) ([][]byte, error) {
	var (
		packets [][]byte
		partial []byte
		serial  uint32
		first   = true
	)

	for len(data) > 0 {
		if len(data) < oggHeaderLen || !bytes.HasPrefix(data, []byte("OggS")) {
			return nil, errOggTruncate
		}
		pageSerial := binary.LittleEndian.Uint32(data[14:18])
		nsegs := int(data[26])
		if len(data) < oggHeaderLen+nsegs {
			return nil, errOggTruncate
		}
		lacing := data[oggHeaderLen : oggHeaderLen+nsegs]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		start := oggHeaderLen + nsegs
		if len(data) < start+bodyLen {
			return nil, errOggTruncate
		}
		body := data[start : start+bodyLen]
		data = data[start+bodyLen:]

		if first {
			serial = pageSerial
			first = false
		}
		if pageSerial != serial {
			continue
		}

		off := 0
		for _, l := range lacing {
			partial = append(partial, body[off:off+int(l)]...)
			off += int(l)
			if l < 255 {
				packets = append(packets, partial)
				partial = nil
			}
		}
	}
	if len(partial) > 0 {
		packets = append(packets, partial)
	}
	return packets, nil
}

// DecodeOggOpus decodes an Ogg/Opus payload into 48 kHz interleaved PCM.
// The pre-skip declared in OpusHead is trimmed from the output.
func DecodeOggOpus(data []byte) (PCM, error) {
	packets, err := oggPackets(data)
	if err != nil {
		return PCM{}, err
	}
	if len(packets) < 2 || !bytes.HasPrefix(packets[0], []byte("OpusHead")) || len(packets[0]) < 19 {
		return PCM{}, errNotOpus
	}

	head := packets[0]
	channels := int(head[9])
	preSkip := int(binary.LittleEndian.Uint16(head[10:12]))
	if channels < 1 || channels > 2 {
		return PCM{}, fmt.Errorf("audio: unsupported opus channel count %d", channels)
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	var samples []int16
	// packets[1] is OpusTags.
	for _, pkt := range packets[2:] {
		if len(pkt) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			return PCM{}, fmt.Errorf("audio: opus decode: %w", err)
		}
		samples = append(samples, pcm...)
	}

	skip := preSkip * channels
	if skip > len(samples) {
		skip = len(samples)
	}
	return PCMFromInt16(samples[skip:], opusSampleRate, channels), nil
}

// isOggOpus reports whether data is an Ogg container whose first packet is an
// OpusHead header.
func isOggOpus(data []byte) bool {
	if len(data) < oggHeaderLen || !bytes.HasPrefix(data, []byte("OggS")) {
		return false
	}
	nsegs := int(data[26])
	start := oggHeaderLen + nsegs
	return len(data) >= start+8 && bytes.HasPrefix(data[start:], []byte("OpusHead"))
}
