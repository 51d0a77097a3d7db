package llmclient

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens counts tokens in s using a cl100k_base encoding, the
// closest available approximation of a provider's own count. The provider
// adapters do not call it: Usage carries only what the provider reports.
//
// tiktoken-go's encoding tables are loaded lazily and cached process-wide;
// get the shared encoder once to avoid re-parsing them per call.
var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func sharedEncoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// EstimateTokens returns the token count tiktoken assigns to s, or 0 if the
// encoder could not be loaded (offline environments without its bundled
// vocabulary file).
func EstimateTokens(s string) int {
	e, err := sharedEncoder()
	if err != nil || e == nil {
		return 0
	}
	return len(e.Encode(s, nil, nil))
}

// EstimateMessagesTokens sums the estimated token count of every message's
// content. Nothing fills Usage.InputTokens from it; a response without a
// usage block leaves the token counts at zero.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
