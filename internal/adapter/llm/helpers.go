package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"reagent/internal/domain"
	"reagent/internal/infra/tracer"
)

const (
	// maxResponseBody caps how much of a provider reply is read.
	maxResponseBody = 10 << 20
	// defaultMaxOutputTokens is sent to APIs that require an output cap.
	defaultMaxOutputTokens = 4096
)

// chatFunc performs one provider round trip for an already defaulted request.
type chatFunc func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

// tracedChat fills in the default model, runs call inside an llm.chat span
// and logs the usage of a successful reply.
func tracedChat(ctx context.Context, provider, defaultModel string, logger *slog.Logger, req domain.ChatRequest, call chatFunc) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = defaultModel
	}
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", provider),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	resp, err := call(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	logger.Debug("llm chat completed",
		"provider", provider,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

// endpoint is one HTTP API root with the headers every call carries.
type endpoint struct {
	client  *http.Client
	baseURL string
	headers map[string]string
}

// post sends in as JSON to path and decodes a 200 reply into out. Transport
// failures and undecodable replies are reported as ErrUnavailable.
func (e endpoint) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", domain.ErrInvalidInput, err)
	}
	raw, err := e.send(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decodeReply(raw, out)
}

// get fetches path and decodes the reply into out when out is non-nil.
func (e endpoint) get(ctx context.Context, path string, out any) error {
	raw, err := e.send(ctx, http.MethodGet, path, nil)
	if err != nil || out == nil {
		return err
	}
	return decodeReply(raw, out)
}

func (e endpoint) send(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range e.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, cerr)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw)
	}
	return raw, nil
}

func decodeReply(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// statusError turns a non-200 reply into the sentinel the gateway classifies
// for retry and failover.
func statusError(status int, body []byte) error {
	var kind error
	switch status {
	case http.StatusTooManyRequests:
		kind = domain.ErrRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = domain.ErrAuthInvalid
	case http.StatusRequestEntityTooLarge:
		kind = domain.ErrContextOverflow
	case http.StatusRequestTimeout:
		kind = domain.ErrUnavailable
	default:
		if status >= http.StatusInternalServerError {
			kind = domain.ErrUnavailable
		} else {
			kind = domain.ErrInvalidInput
		}
	}
	detail := string(body)
	if len(detail) > 512 {
		detail = detail[:512] + "..."
	}
	return fmt.Errorf("%w: status %d: %s", kind, status, detail)
}

// splitSystem separates system messages, joined into one instruction, from
// the rest of the transcript.
func splitSystem(msgs []domain.Message) (string, []domain.Message) {
	var system bytes.Buffer
	rest := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.RoleSystem {
			rest = append(rest, m)
			continue
		}
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		system.WriteString(m.Content)
	}
	return system.String(), rest
}

// resultCallID is the id of the call a tool-result message answers.
func resultCallID(m domain.Message) string {
	if len(m.ToolCalls) == 0 {
		return ""
	}
	return m.ToolCalls[0].ID
}

// jsonObject decodes raw as a JSON object, yielding an empty one for empty
// or non-object input.
func jsonObject(raw json.RawMessage) map[string]any {
	obj := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return map[string]any{}
		}
	}
	return obj
}

func usageOf(in, out int) domain.Usage {
	return domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}
