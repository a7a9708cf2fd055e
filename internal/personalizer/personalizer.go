// Package personalizer renders step templates per contact and, when enabled,
// asks an AI backend for a natural-language variation. The AI call is
// best-effort: any failure degrades to the deterministic rendering and never
// affects the dispatch outcome.
package personalizer

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/samuelwildary2025/disparo/internal/model"
)

var variableRegex = regexp.MustCompile(`\{(\w+)\}`)

// Render interpolates {field} placeholders against the contact. name/nome and
// phone/telefone resolve to the contact's fixed fields, everything else to
// custom fields (case-insensitive first), then the fallback map. Unknown
// placeholders are left intact.
func Render(template string, contact model.Contact, fallback map[string]string) string {
	return variableRegex.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]

		switch key {
		case "name", "nome":
			return contact.Name
		case "phone", "telefone":
			return contact.PhoneNumber
		}

		if v, ok := contact.CustomFields[strings.ToLower(key)]; ok {
			return v
		}
		if v, ok := contact.CustomFields[key]; ok {
			return v
		}
		if v, ok := fallback[key]; ok {
			return v
		}
		return match
	})
}

// VariationRequest carries the context the AI backend rewrites from.
type VariationRequest struct {
	BaseMessage  string
	ContactName  string
	Company      string
	CustomFields map[string]string
}

// VariationClient is the AI backend contract.
type VariationClient interface {
	GenerateVariation(ctx context.Context, req VariationRequest) (string, error)
}

// Service combines deterministic rendering with optional AI variation.
// A nil AI client disables variation entirely.
type Service struct {
	AI      VariationClient
	Timeout time.Duration
}

// Generate renders the template and, when useAI is set and a client is
// configured, requests a variation under a hard timeout. Errors are logged
// and swallowed; the base rendering is always a valid result.
func (s *Service) Generate(ctx context.Context, template string, contact model.Contact, useAI bool) string {
	base := Render(template, contact, nil)

	if !useAI || s.AI == nil {
		return base
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	variation, err := s.AI.GenerateVariation(ctx, VariationRequest{
		BaseMessage:  base,
		ContactName:  contact.Name,
		Company:      contact.CustomFields["empresa"],
		CustomFields: contact.CustomFields,
	})
	if err != nil {
		log.Printf("[Personalizer] AI variation failed, using base message: %v", err)
		return base
	}

	variation = strings.TrimSpace(variation)
	if variation == "" {
		return base
	}
	return variation
}
