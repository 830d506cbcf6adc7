package cache

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCacheCorruption means a stored entry could not be decoded. Lookups treat
// it as a miss.
var ErrCacheCorruption = errors.New("cache corruption")

// Generation is one model output. Order within a slice is significant.
type Generation struct {
	Text  string         `json:"text"`
	Extra map[string]any `json:"extra"`
}

const codecVersion = 1

type envelope struct {
	Version     int          `json:"v"`
	Generations []Generation `json:"generations"`
}

// legacyGeneration is the older blob layout: a bare array of
// {"text", "generation_info"} objects.
type legacyGeneration struct {
	Text           *string        `json:"text"`
	GenerationInfo map[string]any `json:"generation_info"`
}

// EncodeGenerations renders generations as a JSON string.
func EncodeGenerations(gens []Generation) (string, error) {
	if gens == nil {
		gens = []Generation{}
	}
	raw, err := json.Marshal(envelope{Version: codecVersion, Generations: gens})
	if err != nil {
		return "", fmt.Errorf("encode generations: %w", err)
	}
	return string(raw), nil
}

// DecodeGenerations is the inverse of EncodeGenerations. It also accepts the
// legacy array form.
func DecodeGenerations(s string) ([]Generation, error) {
	gens, _, err := decodeGenerations(s)
	return gens, err
}

func decodeGenerations(s string) (gens []Generation, legacy bool, err error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err == nil && env.Version == codecVersion && env.Generations != nil {
		return env.Generations, false, nil
	}

	var old []legacyGeneration
	if err := json.Unmarshal([]byte(s), &old); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCacheCorruption, err)
	}
	gens = make([]Generation, 0, len(old))
	for i, g := range old {
		if g.Text == nil {
			return nil, false, fmt.Errorf("%w: legacy generation %d has no text", ErrCacheCorruption, i)
		}
		gens = append(gens, Generation{Text: *g.Text, Extra: g.GenerationInfo})
	}
	return gens, true, nil
}
