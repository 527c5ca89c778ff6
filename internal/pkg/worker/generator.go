package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
)

// Document is one produced artifact, draft or final.
type Document struct {
	FileName    string
	ContentType string
	Body        []byte
}

// Generator produces the internal draft for an order.
type Generator interface {
	GenerateDraft(ctx context.Context, order *models.Order) (*Document, error)
}

// Renderer produces the final deliverable document for an order.
type Renderer interface {
	RenderFinal(ctx context.Context, order *models.Order) (*Document, error)
}

// DraftGenerator is the built-in stand-in: a structured text draft assembled
// from the order fields. Real document generation plugs in behind the
// Generator interface.
type DraftGenerator struct{}

func (DraftGenerator) GenerateDraft(_ context.Context, order *models.Order) (*Document, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Draft for order %s\n\n", order.OrderNo)
	fmt.Fprintf(&b, "Service: %s\n", order.ServiceCode)
	fmt.Fprintf(&b, "Plan: %s\n", order.Plan)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	return &Document{
		FileName:    "draft.md",
		ContentType: "text/markdown; charset=utf-8",
		Body:        []byte(b.String()),
	}, nil
}

// TextRenderer is the built-in stand-in for final rendering.
type TextRenderer struct{}

func (TextRenderer) RenderFinal(_ context.Context, order *models.Order) (*Document, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Final deliverable for order %s\n", order.OrderNo)
	fmt.Fprintf(&b, "Service: %s (%s plan)\n", order.ServiceCode, order.Plan)
	fmt.Fprintf(&b, "Rendered: %s\n", time.Now().UTC().Format(time.RFC3339))
	return &Document{
		FileName:    fmt.Sprintf("%s_final.txt", order.ServiceCode),
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(b.String()),
	}, nil
}
