package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringHash(h map[string]interface{}) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.(string)
	}
	return out
}

func TestSignatureHashRoundTrip(t *testing.T) {
	original := &Signature{
		Key:           "9f86d081",
		Confidence:    0.83,
		Caption:       "a cat on a sofa",
		OCRText:       "SALE 50%",
		DominantColor: "#a0b0c0",
		Signals: map[string][]Signal{
			"ocr.text": {NewSignal("ocr.text", String("SALE 50%"), 0.83, "ocr", TagOCRText)},
		},
		ContributingWaves: []string{"identity", "ocr"},
		IsComplete:        true,
		ProcessingMs:      1234,
		Width:             640,
		Height:            480,
		IsAnimated:        true,
		Support:           3,
		Route:             &Route{Tier: TierQuality, Reason: "animated_many_frames"},
		UpdatedAtMs:       1700000000000,
	}

	hash, err := SignatureToHash(original)
	require.NoError(t, err)

	decoded, err := HashToSignature(stringHash(hash))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestHashToSignatureMinimal(t *testing.T) {
	decoded, err := HashToSignature(map[string]string{
		"key":        "k",
		"confidence": "0.5",
		"support":    "1",
	})
	require.NoError(t, err)
	assert.NotNil(t, decoded.Signals)
	assert.NotNil(t, decoded.ContributingWaves)
	assert.Nil(t, decoded.Route)
	assert.False(t, decoded.IsComplete)
}

func TestHashToSignatureErrors(t *testing.T) {
	tests := []struct {
		name    string
		hash    map[string]string
		wantErr string
	}{
		{"bad confidence", map[string]string{"confidence": "x", "support": "1"}, "invalid confidence"},
		{"bad support", map[string]string{"confidence": "1", "support": "x"}, "invalid support"},
		{"bad signals", map[string]string{"confidence": "1", "support": "1", "signals": "{"}, "signals"},
		{"bad route", map[string]string{"confidence": "1", "support": "1", "route": "["}, "route"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HashToSignature(tt.hash)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
