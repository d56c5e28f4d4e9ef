package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/lexi/internal/collect"
	"github.com/kalambet/lexi/internal/profile"
	"github.com/kalambet/lexi/internal/session"
	"github.com/kalambet/lexi/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry *session.Registry
	Profiles *profile.Manager
	Store    *storage.Store
}

// mcpSessions maps MCP user IDs onto live sessions, one conversation per
// user. MCP clients address conversations by user, not by session ID.
type mcpSessions struct {
	mu       sync.Mutex
	registry *session.Registry
	byUser   map[string]*session.Session
}

func (m *mcpSessions) sessionFor(userID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byUser[userID]; ok && s.IsActive() {
		return s, nil
	}
	s, err := m.registry.Create(userID)
	if err != nil {
		return nil, err
	}
	m.byUser[userID] = s
	return s, nil
}

func (m *mcpSessions) lookup(userID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[userID]
	return s, ok
}

// NewMCPServer creates an MCP server exposing the dialogue engine as tools
// and the profile store as resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lexi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lexi is a specialized assistant for Large Language Model topics. "+
			"Conversations are per user: send_message drives a dialogue, get_profile and "+
			"set_preference inspect and adjust what lexi knows about the user."),
		server.WithRecovery(),
	)

	sessions := &mcpSessions{
		registry: deps.Registry,
		byUser:   make(map[string]*session.Session),
	}

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to the LLM-topics assistant and get its reply. Each user has one ongoing conversation."),
			mcp.WithString("user_id", mcp.Description("Stable identifier of the user speaking"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
		),
		mcpSendMessage(sessions),
	)

	s.AddTool(
		mcp.NewTool("reset_conversation",
			mcp.WithDescription("Clear the user's conversation history and start fresh. The user's profile is kept."),
			mcp.WithString("user_id", mcp.Description("Stable identifier of the user"), mcp.Required()),
		),
		mcpResetConversation(sessions),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Set a profile attribute for a user (name, technical_level, interest_area, project_stage, comparison_criterion, depth_preference)."),
			mcp.WithString("user_id", mcp.Description("Stable identifier of the user"), mcp.Required()),
			mcp.WithString("attribute", mcp.Description("Attribute name"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Read a user's profile: collected attributes with confidence scores, interaction count, and topic history."),
			mcp.WithString("user_id", mcp.Description("Stable identifier of the user"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	// Resources
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"lexi://profile/{user}",
			"User Profile",
			mcp.WithTemplateDescription("A user's profile as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"lexi://interactions/{user}",
			"Recent Interactions",
			mcp.WithTemplateDescription("A user's last 10 recorded turns (truncated)"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceInteractions(deps),
	)

	return s
}

func mcpSendMessage(sessions *mcpSessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		s, err := sessions.sessionFor(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to open conversation: %v", err)), nil
		}

		reply, err := s.ProcessMessage(ctx, message)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to process message: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpResetConversation(sessions *mcpSessions) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		s, ok := sessions.lookup(userID)
		if !ok {
			return mcpError("no conversation for this user"), nil
		}
		s.Reset()
		return mcpText("Conversation reset. The profile is unchanged."), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		attribute, err := req.RequireString("attribute")
		if err != nil {
			return mcpError("attribute is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		attribute = strings.ToLower(strings.TrimSpace(attribute))
		if !isKnownAttribute(attribute) {
			return mcpError(fmt.Sprintf("unknown attribute %q; valid: %s",
				attribute, strings.Join(allAttributeNames(), ", "))), nil
		}

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		canonical := collect.Normalize(attribute, value)
		p.UpdateAttribute(attribute, canonical, collect.ExplicitConfidence, profile.SourceExplicit, time.Now().UTC())
		if err := deps.Profiles.Save(p); err != nil {
			return mcpError(fmt.Sprintf("failed to save profile: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s", attribute, canonical)), nil
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID := strings.TrimPrefix(req.Params.URI, "lexi://profile/")
		if userID == "" || strings.Contains(userID, "/") {
			return nil, fmt.Errorf("invalid profile URI %q", req.Params.URI)
		}

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceInteractions(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID := strings.TrimPrefix(req.Params.URI, "lexi://interactions/")
		if userID == "" || strings.Contains(userID, "/") {
			return nil, fmt.Errorf("invalid interactions URI %q", req.Params.URI)
		}

		interactions, err := deps.Store.GetRecentInteractions(userID, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type turnSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Message   string `json:"message"`
			Reply     string `json:"reply"`
			Intent    string `json:"intent,omitempty"`
		}

		summaries := make([]turnSummary, len(interactions))
		for i, ix := range interactions {
			summaries[i] = turnSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Message:   truncateRunes(ix.UserMessage, 200),
				Reply:     truncateRunes(ix.BotMessage, 200),
				Intent:    ix.Intent,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func isKnownAttribute(name string) bool {
	for _, a := range allAttributeNames() {
		if a == name {
			return true
		}
	}
	return false
}

func allAttributeNames() []string {
	names := make([]string, 0, len(profile.CoreAttributes)+len(profile.AdvancedAttributes))
	names = append(names, profile.CoreAttributes...)
	names = append(names, profile.AdvancedAttributes...)
	return names
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
