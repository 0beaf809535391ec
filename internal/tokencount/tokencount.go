// Package tokencount estimates OpenAI-style token counts for response text
// when the upstream call didn't report a usage block, so dialect
// translators can still return a populated usage field to clients that
// expect one.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*tiktoken.Tiktoken)
)

func encoderFor(model string) (*tiktoken.Tiktoken, error) {
	cacheMu.RLock()
	if enc, ok := cache[model]; ok {
		cacheMu.RUnlock()
		return enc, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if enc, ok := cache[model]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	cache[model] = enc
	return enc, nil
}

// Estimate returns the tiktoken token count of text for model, falling back
// to the cl100k_base encoding when model isn't recognized. It never
// returns an error: a lookup failure on the fallback encoding yields 0.
func Estimate(model, text string) int {
	enc, err := encoderFor(model)
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
