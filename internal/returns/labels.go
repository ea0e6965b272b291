package returns

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
)

// URLLabelGenerator links an approved return to a prepaid label on the
// carrier portal. The portal renders the label on first access, so nothing
// is uploaded here.
type URLLabelGenerator struct {
	baseURL string
}

func NewURLLabelGenerator(baseURL string) (*URLLabelGenerator, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("label base url required")
	}
	return &URLLabelGenerator{baseURL: trimmed}, nil
}

func (g *URLLabelGenerator) Generate(_ context.Context, request *models.ReturnRequest) (string, error) {
	if request == nil {
		return "", fmt.Errorf("return request required")
	}
	return fmt.Sprintf("%s/labels/%s.pdf", g.baseURL, request.ID), nil
}
