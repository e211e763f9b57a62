package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// UpdateFunc receives the full text accumulated so far. A later call
// replaces whatever an earlier call displayed.
type UpdateFunc func(snapshot string)

// Complete streams req through gw, publishing snapshots to onUpdate. If the
// stream fails at any point, or yields nothing, the partial text is
// discarded and one non-streaming call with the same request is made; its
// result becomes the final snapshot. When that call fails too, the error
// is a *GenerationError.
func Complete(ctx context.Context, gw Gateway, req Request, onUpdate UpdateFunc) (string, error) {
	if onUpdate == nil {
		onUpdate = func(string) {}
	}

	var text strings.Builder
	var streamErr error
	for fragment, err := range gw.Stream(ctx, req) {
		if err != nil {
			streamErr = err
			break
		}
		if fragment == "" {
			continue
		}
		text.WriteString(fragment)
		onUpdate(text.String())
	}

	if streamErr == nil && text.Len() > 0 {
		return text.String(), nil
	}
	if streamErr == nil {
		streamErr = errEmptyResponse
	}
	if ctx.Err() != nil {
		return "", &GenerationError{Reason: ctx.Err().Error(), Err: ctx.Err()}
	}

	slog.Debug("Streaming generation failed, falling back to single call",
		"model", req.Model,
		"partial_len", text.Len(),
		"error", streamErr,
	)

	full, err := gw.Generate(ctx, req)
	if err == nil && strings.TrimSpace(full) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		return "", &GenerationError{Reason: err.Error(), Err: errors.Join(streamErr, err)}
	}
	onUpdate(full)
	return full, nil
}
