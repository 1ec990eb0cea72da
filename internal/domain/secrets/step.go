package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
)

// RedactStep is the input-phase step: it replaces credential-shaped
// substrings with session-scoped placeholders before the request leaves the
// gateway.
type RedactStep struct {
	detector Detector
	vault    *Vault
}

// NewRedactStep creates the input-phase redaction step.
func NewRedactStep(detector Detector, vault *Vault) *RedactStep {
	return &RedactStep{detector: detector, vault: vault}
}

// Name implements pipeline.InputStep.
func (s *RedactStep) Name() string { return "secret-redaction" }

// Apply scans every message for secrets, replacing each match with a
// placeholder minted in the request's session. Repeated occurrences of the
// same literal map to the same placeholder. The count of distinct secrets
// redacted is recorded on the pipeline context.
func (s *RedactStep) Apply(ctx context.Context, req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
	if pctx.SessionID == "" {
		return nil, nil, fmt.Errorf("session id missing from pipeline context")
	}

	var out *canon.Request
	seen := make(map[uint64]struct{})

	for i, msg := range req.Messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		matches := s.detector.Detect(text)
		if len(matches) == 0 {
			continue
		}

		// Replace from the end so earlier offsets stay valid.
		redacted := text
		for j := len(matches) - 1; j >= 0; j-- {
			m := matches[j]
			token, err := s.vault.Mint(pctx.SessionID, m.Value, m.Rule)
			if err != nil {
				return nil, nil, fmt.Errorf("mint placeholder: %w", err)
			}
			redacted = redacted[:m.Start] + token + redacted[m.End:]

			digest := xxhash.Sum64String(m.Value)
			if _, dup := seen[digest]; dup {
				continue
			}
			seen[digest] = struct{}{}
			pctx.SecretsRedacted++
			pctx.AddAlert(pipeline.SeverityCritical, pipeline.CodeSecretLeak,
				fmt.Sprintf("secret detected (%s) and redacted before reaching upstream", m.Rule))
		}

		if out == nil {
			out = req.Clone()
		}
		out.Messages[i] = out.Messages[i].WithText(redacted)
	}

	if out == nil {
		return req, nil, nil
	}
	return out, nil, nil
}

// RestoreStep is the output-phase step: it substitutes placeholders in
// streamed text back to the decrypted originals, using only the mappings of
// the request's own session.
type RestoreStep struct {
	vault *Vault
	buf   strings.Builder
}

// NewRestoreStep creates the output-phase restore step.
func NewRestoreStep(vault *Vault) *RestoreStep {
	return &RestoreStep{vault: vault}
}

// Name implements pipeline.OutputStep.
func (s *RestoreStep) Name() string { return "secret-restore" }

// Window implements pipeline.OutputStep. The step holds back at most one
// potential partial placeholder across chunk boundaries.
func (s *RestoreStep) Window() int { return PlaceholderLen }

// ProcessChunk buffers streamed text just long enough to recognize
// placeholders that span chunk boundaries, restores any complete ones, and
// releases everything that can no longer be part of a placeholder.
func (s *RestoreStep) ProcessChunk(ctx context.Context, chunk canon.Chunk, pctx *pipeline.Context) ([]canon.Chunk, error) {
	// Tool-call fragments must not be reordered past held text: release the
	// buffer before passing the fragment through.
	if chunk.ToolCall != nil && chunk.Delta == "" && !chunk.Done() {
		out := s.drain(pctx, chunk)
		return append(out, chunk), nil
	}

	s.buf.WriteString(chunk.Delta)

	if chunk.Done() {
		out := s.drain(pctx, chunk)
		terminal := chunk
		terminal.Delta = ""
		return append(out, terminal), nil
	}

	text := s.buf.String()
	hold := partialPlaceholderStart(text)
	if hold == 0 {
		return nil, nil
	}

	emit := s.restore(pctx.SessionID, text[:hold])
	s.buf.Reset()
	s.buf.WriteString(text[hold:])
	if emit == "" {
		return nil, nil
	}
	c := chunk
	c.Delta = emit
	c.ToolCall = nil
	return []canon.Chunk{c}, nil
}

// Flush implements pipeline.OutputStep, releasing any held text.
func (s *RestoreStep) Flush(ctx context.Context, pctx *pipeline.Context) ([]canon.Chunk, error) {
	return s.drain(pctx, canon.Chunk{}), nil
}

// drain restores and emits the entire buffer as a single text chunk
// modeled on tmpl.
func (s *RestoreStep) drain(pctx *pipeline.Context, tmpl canon.Chunk) []canon.Chunk {
	if s.buf.Len() == 0 {
		return nil
	}
	text := s.restore(pctx.SessionID, s.buf.String())
	s.buf.Reset()
	if text == "" {
		return nil
	}
	c := canon.Chunk{Delta: text, Model: tmpl.Model, Extras: tmpl.Extras}
	return []canon.Chunk{c}
}

// restore substitutes every complete placeholder that resolves in the given
// session. Placeholders minted by other sessions stay as-is: they are not
// resolvable here by construction.
func (s *RestoreStep) restore(sessionID, text string) string {
	if !strings.Contains(text, placeholderPrefix) {
		return text
	}
	var out strings.Builder
	for {
		idx := strings.Index(text, placeholderPrefix)
		if idx < 0 || len(text)-idx < PlaceholderLen {
			break
		}
		token := text[idx : idx+PlaceholderLen]
		out.WriteString(text[:idx])
		if original, ok := s.vault.Resolve(sessionID, token); ok && isPlaceholder(token) {
			out.WriteString(original)
		} else {
			out.WriteString(token)
		}
		text = text[idx+PlaceholderLen:]
	}
	out.WriteString(text)
	return out.String()
}

// isPlaceholder reports whether s is exactly one well-formed placeholder.
func isPlaceholder(s string) bool {
	return len(s) == PlaceholderLen && isPlaceholderPrefix(s)
}

// partialPlaceholderStart returns the index at which a trailing partial
// placeholder begins, or len(text) when the tail cannot grow into one.
// Everything before the returned index is safe to emit.
func partialPlaceholderStart(text string) int {
	start := len(text) - PlaceholderLen + 1
	if start < 0 {
		start = 0
	}
	for i := start; i < len(text); i++ {
		if isPlaceholderPrefix(text[i:]) {
			return i
		}
	}
	return len(text)
}

// isPlaceholderPrefix reports whether s could be the beginning of a
// placeholder token.
func isPlaceholderPrefix(s string) bool {
	for i := 0; i < len(s) && i < PlaceholderLen; i++ {
		c := s[i]
		switch {
		case i < len(placeholderPrefix):
			if c != placeholderPrefix[i] {
				return false
			}
		case i < len(placeholderPrefix)+uuidLen:
			hex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || c == '-'
			if !hex {
				return false
			}
		default:
			if c != '>' {
				return false
			}
		}
	}
	return true
}

// Compile-time checks that the steps satisfy the pipeline contracts.
var (
	_ pipeline.InputStep  = (*RedactStep)(nil)
	_ pipeline.OutputStep = (*RestoreStep)(nil)
)
