package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Scalar fields are stored
// as individual hash fields; the signal map, wave list and route are
// JSON-encoded into single fields.

// SignatureToHash converts a Signature to a Redis hash.
func SignatureToHash(s *Signature) (map[string]interface{}, error) {
	signals := s.Signals
	if signals == nil {
		signals = map[string][]Signal{}
	}
	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signals: %w", err)
	}

	waves := s.ContributingWaves
	if waves == nil {
		waves = []string{}
	}
	wavesJSON, err := json.Marshal(waves)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contributing_waves: %w", err)
	}

	routeJSON := ""
	if s.Route != nil {
		encoded, err := json.Marshal(s.Route)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal route: %w", err)
		}
		routeJSON = string(encoded)
	}

	hash := map[string]interface{}{
		"key":                s.Key,
		"confidence":         strconv.FormatFloat(s.Confidence, 'g', -1, 64),
		"caption":            s.Caption,
		"ocr_text":           s.OCRText,
		"dominant_color":     s.DominantColor,
		"signals":            string(signalsJSON),
		"contributing_waves": string(wavesJSON),
		"is_complete":        strconv.FormatBool(s.IsComplete),
		"processing_ms":      strconv.FormatInt(s.ProcessingMs, 10),
		"width":              strconv.Itoa(s.Width),
		"height":             strconv.Itoa(s.Height),
		"is_animated":        strconv.FormatBool(s.IsAnimated),
		"support":            strconv.Itoa(s.Support),
		"route":              routeJSON,
		"updated_at_ms":      strconv.FormatInt(s.UpdatedAtMs, 10),
	}

	return hash, nil
}

// HashToSignature converts a Redis hash to a Signature.
// Missing optional fields decode to zero values; malformed fields are errors.
func HashToSignature(hash map[string]string) (*Signature, error) {
	confidence, err := strconv.ParseFloat(hash["confidence"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence field: %w", err)
	}

	support, err := strconv.Atoi(hash["support"])
	if err != nil {
		return nil, fmt.Errorf("invalid support field: %w", err)
	}

	signals := map[string][]Signal{}
	if raw := hash["signals"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &signals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
		}
	}

	waves := []string{}
	if raw := hash["contributing_waves"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &waves); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contributing_waves: %w", err)
		}
	}

	var route *Route
	if raw := hash["route"]; raw != "" {
		route = &Route{}
		if err := json.Unmarshal([]byte(raw), route); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route: %w", err)
		}
	}

	isComplete, _ := strconv.ParseBool(hash["is_complete"])
	isAnimated, _ := strconv.ParseBool(hash["is_animated"])
	processingMs, _ := strconv.ParseInt(hash["processing_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)
	width, _ := strconv.Atoi(hash["width"])
	height, _ := strconv.Atoi(hash["height"])

	return &Signature{
		Key:               hash["key"],
		Confidence:        confidence,
		Caption:           hash["caption"],
		OCRText:           hash["ocr_text"],
		DominantColor:     hash["dominant_color"],
		Signals:           signals,
		ContributingWaves: waves,
		IsComplete:        isComplete,
		ProcessingMs:      processingMs,
		Width:             width,
		Height:            height,
		IsAnimated:        isAnimated,
		Support:           support,
		Route:             route,
		UpdatedAtMs:       updatedAtMs,
	}, nil
}
