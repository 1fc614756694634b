package message

// FLV tag body helpers for audio and video payloads.

const (
	videoCodecAVC   = 7
	audioFormatAAC  = 10
	frameTypeKey    = 1
	packetTypeSeqHd = 0

	// Enhanced video tags set the top bit and carry a FourCC codec id.
	videoExHeader        = 0x80
	exPacketTypeSeqStart = 0
)

// IsAVCSequenceHeader reports whether a video payload carries the H.264
// decoder configuration record.
func IsAVCSequenceHeader(payload []byte) bool {
	return len(payload) >= 2 && payload[0]&videoExHeader == 0 &&
		payload[0]&0x0f == videoCodecAVC && payload[1] == packetTypeSeqHd
}

// IsVideoSequenceHeader reports whether a video payload is a decoder
// configuration record, either legacy AVC or an enhanced SequenceStart.
func IsVideoSequenceHeader(payload []byte) bool {
	if len(payload) >= 1 && payload[0]&videoExHeader != 0 {
		return payload[0]&0x0f == exPacketTypeSeqStart
	}
	return IsAVCSequenceHeader(payload)
}

// IsAACSequenceHeader reports whether an audio payload carries the AAC
// AudioSpecificConfig.
func IsAACSequenceHeader(payload []byte) bool {
	return len(payload) >= 2 && payload[0]>>4 == audioFormatAAC && payload[1] == packetTypeSeqHd
}

// IsKeyFrame reports whether a video payload starts a key frame. The frame
// type sits in bits 4-6 for both legacy and enhanced tags.
func IsKeyFrame(payload []byte) bool {
	return len(payload) >= 1 && (payload[0]>>4)&0x07 == frameTypeKey
}
