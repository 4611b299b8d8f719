package sseutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	warden "github.com/eugener/warden/internal"
)

// ReadSSEStream reads SSE lines from resp and sends them as StreamChunks on ch.
// It handles the standard SSE "[DONE]" sentinel and extracts usage from the
// final chunk. Used by adapters speaking the OpenAI SSE chunk format.
// The channel is closed when done.
//
// Every send is guarded by ctx: the consumer signals abandonment by canceling
// the context, and an abandoned reader must exit rather than block against a
// full buffer nobody drains (the response body would stay open with it).
func ReadSSEStream(ctx context.Context, providerName string, resp *http.Response, ch chan<- warden.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := ParseSSELine(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			select {
			case ch <- warden.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		chunk := warden.StreamChunk{Data: []byte(data)}
		// Extract usage from final chunk if present.
		if u := gjson.GetBytes(chunk.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			var usage warden.Usage
			if json.Unmarshal([]byte(u.Raw), &usage) == nil && usage.TotalTokens > 0 {
				chunk.Usage = &usage
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			// Best effort only: the context is already canceled, so a
			// blocking send here could never be drained.
			select {
			case ch <- warden.StreamChunk{Err: ctx.Err()}:
			default:
			}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case ch <- warden.StreamChunk{Err: fmt.Errorf("%s: read stream: %w", providerName, err)}:
		case <-ctx.Done():
		}
	}
}
