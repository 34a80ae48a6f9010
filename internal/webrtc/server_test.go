package webrtc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrame(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 2*chunkSize+10)

	header, chunks := splitFrame(data, 42)

	var h FrameHeader
	require.NoError(t, json.Unmarshal(header, &h))
	assert.Equal(t, FrameHeader{Type: "frame", Seq: 42, Size: len(data), Chunks: 3}, h)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], chunkSize)
	assert.Len(t, chunks[2], 10)
	assert.Equal(t, data, bytes.Join(chunks, nil))
}

func TestSplitFrameSmall(t *testing.T) {
	_, chunks := splitFrame([]byte{1, 2, 3}, 1)
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte{1, 2, 3}, chunks[0])
}

func TestHandleOfferRejectsBadInput(t *testing.T) {
	s := NewServer(nil, 2)

	_, err := s.HandleOffer([]byte("{"))
	assert.ErrorContains(t, err, "failed to parse offer")

	_, err = s.HandleOffer([]byte(`{"type":"answer","sdp":"v=0"}`))
	assert.ErrorContains(t, err, "invalid offer")
}

func TestHandleOfferClientLimit(t *testing.T) {
	s := NewServer([]string{"stun:stun.example.org:3478"}, 0)

	_, err := s.HandleOffer([]byte(`{"type":"offer","sdp":"v=0"}`))
	assert.ErrorContains(t, err, "maximum clients reached")
	assert.Zero(t, s.GetClientCount())
}

func TestSendWithoutClients(t *testing.T) {
	s := NewServer(nil, 1)
	s.SendFrame([]byte{0xFF, 0xD8}, 1)
	s.SendEvent([]byte(`{"type":"detection"}`))
	assert.Empty(t, s.GetClientStats())
	assert.NoError(t, s.Close())
}
