package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

// converser is the part of the Bedrock runtime client the provider uses.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider serves chat through the Bedrock Converse API.
type BedrockProvider struct {
	name   string
	model  string
	rt     converser
	logger *slog.Logger
}

// NewBedrockProvider creates a provider authenticated by the default AWS
// credential chain. The region defaults to us-east-1.
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(NewHTTPClient(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockProvider{name: cfg.Name, model: cfg.Model, rt: bedrockruntime.NewFromConfig(awsCfg), logger: logger}, nil
}

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return tracedChat(ctx, p.name, p.model, p.logger, req, func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		out, err := p.rt.Converse(ctx, converseInput(req))
		if err != nil {
			return nil, bedrockFault(err)
		}
		return chatFromConverse(out, req.Model), nil
	})
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

func converseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:     aws.Int32(int32(maxTokens)),
			StopSequences: req.Stop,
		},
	}
	if req.Temperature > 0 {
		in.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	system, rest := splitSystem(req.Messages)
	if system != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}
	for _, m := range rest {
		if msg, ok := converseMessage(m); ok {
			in.Messages = append(in.Messages, msg)
		}
	}

	if len(req.Tools) > 0 {
		cfg := &types.ToolConfiguration{}
		for _, s := range req.Tools {
			schema := jsonObject(s.Parameters)
			if len(schema) == 0 {
				schema["type"] = "object"
			}
			cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(s.Name),
				Description: aws.String(s.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}})
		}
		in.ToolConfig = cfg
	}
	return in
}

// converseMessage encodes one non-system message. Tool results become a
// user message with a toolResult block.
func converseMessage(m domain.Message) (types.Message, bool) {
	switch m.Role {
	case domain.RoleUser:
		return types.Message{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		}, true

	case domain.RoleTool:
		return types.Message{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(resultCallID(m)),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
			}}},
		}, true

	case domain.RoleAssistant:
		msg := types.Message{Role: types.ConversationRoleAssistant}
		if m.Content != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(jsonObject(tc.Arguments)),
			}})
		}
		return msg, true
	}
	return types.Message{}, false
}

func chatFromConverse(out *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	now := time.Now()
	resp := &domain.ChatResponse{
		Model:     model,
		Message:   domain.Message{Role: domain.RoleAssistant, Timestamp: now},
		CreatedAt: now,
	}
	if u := out.Usage; u != nil {
		resp.Usage = usageOf(int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens)))
	}

	reply, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	var text strings.Builder
	for _, block := range reply.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *types.ContentBlockMemberToolUse:
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, domain.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: documentJSON(b.Value.Input),
			})
		}
	}
	resp.Message.Content = text.String()
	return resp
}

// documentJSON renders a smithy document as JSON, falling back to an empty
// object.
func documentJSON(doc document.Interface) json.RawMessage {
	empty := json.RawMessage("{}")
	if doc == nil {
		return empty
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return empty
	}
	data, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return data
}

// bedrockFaults maps Bedrock API error codes to gateway sentinels.
var bedrockFaults = map[string]error{
	"ThrottlingException":         domain.ErrRateLimit,
	"TooManyRequestsException":    domain.ErrRateLimit,
	"AccessDeniedException":       domain.ErrAuthInvalid,
	"UnrecognizedClientException": domain.ErrAuthInvalid,
	"ValidationException":         domain.ErrInvalidInput,
	"ResourceNotFoundException":   domain.ErrInvalidInput,
	"ModelNotReadyException":      domain.ErrUnavailable,
	"ServiceUnavailableException": domain.ErrUnavailable,
	"InternalServerException":     domain.ErrUnavailable,
	"ModelTimeoutException":       domain.ErrUnavailable,
}

func bedrockFault(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := bedrockFaults[apiErr.ErrorCode()]; ok {
			if apiErr.ErrorCode() == "ValidationException" && strings.Contains(apiErr.ErrorMessage(), "too long") {
				kind = domain.ErrContextOverflow
			}
			return fmt.Errorf("%w: bedrock: %v", kind, err)
		}
	}
	return fmt.Errorf("%w: bedrock: %v", domain.ErrUnavailable, err)
}

var _ domain.LLMProvider = (*BedrockProvider)(nil)
