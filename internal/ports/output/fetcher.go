package output

import "context"

// FetchOutcome classifies a single fetch attempt.
type FetchOutcome int

// Fetch outcomes.
const (
	FetchOK FetchOutcome = iota
	FetchRetryable
	FetchFatal
)

// String returns the outcome name.
func (o FetchOutcome) String() string {
	switch o {
	case FetchOK:
		return "ok"
	case FetchRetryable:
		return "retryable"
	case FetchFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchResult is the tagged result of one fetch attempt.
type FetchResult struct {
	Outcome     FetchOutcome
	Data        []byte
	StatusCode  int   // 0 when no response was received
	RateLimited bool  // the server answered 429
	Err         error // reason for non-OK outcomes
}

// Ok builds a successful result.
func Ok(data []byte) FetchResult {
	return FetchResult{Outcome: FetchOK, Data: data, StatusCode: 200}
}

// Retryable builds a transient failure.
func Retryable(status int, err error) FetchResult {
	return FetchResult{Outcome: FetchRetryable, StatusCode: status, RateLimited: status == 429, Err: err}
}

// Fatal builds a permanent failure.
func Fatal(status int, err error) FetchResult {
	return FetchResult{Outcome: FetchFatal, StatusCode: status, Err: err}
}

// TileFetcher performs a single network fetch of a tile URL.
type TileFetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}
