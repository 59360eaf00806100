package agent

import (
	"context"
	"errors"
	"iter"
	"time"
	"unicode"
)

// Stream runs the orchestrator and replays the reply as chunks separated
// by the configured delay. Concatenating the chunks yields exactly the
// content Run would return. A run fault is yielded once as ("", err) with
// an *OrchestrationError; cancellation mid-replay yields ("", ctx.Err()).
func (o *Orchestrator) Stream(ctx context.Context, c Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := o.Run(ctx, c)
		if err != nil {
			cause := err
			var oe *OrchestrationError
			if errors.As(err, &oe) {
				cause = oe.Err
			}
			yield("", &OrchestrationError{Op: OpStream, ConversationID: c.ConversationID, Err: cause})
			return
		}

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for i, chunk := range Chunk(resp.Content) {
			if i > 0 && o.cfg.StreamDelay > 0 {
				if timer == nil {
					timer = time.NewTimer(o.cfg.StreamDelay)
				} else {
					timer.Reset(o.cfg.StreamDelay)
				}
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-timer.C:
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Chunk splits text into whitespace-delimited tokens. Each chunk is a run
// of non-space characters followed by the whitespace after it; leading
// whitespace stays with the first chunk. Concatenating the result gives
// back text unchanged.
func Chunk(text string) []string {
	if text == "" {
		return nil
	}

	var chunks []string
	start := 0
	inSpace := false
	seenWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			chunks = append(chunks, text[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	chunks = append(chunks, text[start:])
	return chunks
}
