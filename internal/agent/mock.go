package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no agent endpoint is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Respond(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req.InputText)}, nil
}

func buildMockReply(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return "I'm listening. Ask me about a stock or today's market news."
	}

	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "news"):
		return fmt.Sprintf("Here's a quick briefing on %q: markets are mixed today with tech leading and energy lagging.", input)
	case strings.Contains(lower, "stock") || strings.Contains(lower, "price"):
		return fmt.Sprintf("On %q: the ticker closed up about one percent in the last session, with moderate volume.", input)
	default:
		return fmt.Sprintf("You asked: %s. I can pull headlines or quote a ticker if you name one.", input)
	}
}
