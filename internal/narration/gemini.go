// Package narration turns compatibility scores into short explanations using Gemini.
package narration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/interfaces"
)

const defaultModel = "gemini-2.5-flash"

const systemInstruction = "You explain roommate compatibility to one of the two people involved. " +
	"Answer in one or two friendly sentences, at most 60 words. Mention the score and the strongest shared traits. " +
	"Do not invent facts that are not in the profiles and never mention ids."

// Config configures the Gemini narrator.
type Config struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// contentGenerator is the part of genai.Models the narrator calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiNarrator implements interfaces.Narrator on the Gemini API.
type GeminiNarrator struct {
	models    contentGenerator
	modelName string
}

var _ interfaces.Narrator = (*GeminiNarrator)(nil)

// NewGeminiNarrator creates a narrator configured for the Gemini API backend.
func NewGeminiNarrator(ctx context.Context, config Config) (*GeminiNarrator, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiNarrator(client.Models, config.Model), nil
}

func newGeminiNarrator(models contentGenerator, model string) *GeminiNarrator {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &GeminiNarrator{models: models, modelName: model}
}

// Model returns the configured model name.
func (g *GeminiNarrator) Model() string {
	if g == nil {
		return ""
	}
	return g.modelName
}

// Narrate asks the model to explain score for the pair (a, b).
func (g *GeminiNarrator) Narrate(ctx context.Context, a, b *database.Profile, score int) (string, error) {
	if g == nil || g.models == nil {
		return "", errors.New("gemini narrator is not initialized")
	}
	if a == nil || b == nil {
		return "", errors.New("both profiles are required")
	}

	temperature := float32(0.4)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		Temperature:     &temperature,
		MaxOutputTokens: 160,
	}

	resp, err := g.models.GenerateContent(ctx, g.modelName, genai.Text(buildPrompt(a, b, score)), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(text)
		}
		// First usable candidate only.
		if builder.Len() > 0 {
			break
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}

func buildPrompt(a, b *database.Profile, score int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Compatibility score: %d out of 100.\n\n", score)
	writeProfile(&sb, "Person A", a)
	sb.WriteString("\n")
	writeProfile(&sb, "Person B", b)
	return sb.String()
}

func writeProfile(sb *strings.Builder, label string, p *database.Profile) {
	fmt.Fprintf(sb, "%s:\n", label)
	if p.Age != nil {
		fmt.Fprintf(sb, "- age: %d\n", *p.Age)
	}
	if p.Occupation != nil && *p.Occupation != "" {
		fmt.Fprintf(sb, "- occupation: %s\n", *p.Occupation)
	}
	fmt.Fprintf(sb, "- budget: %.0f to %.0f\n", p.BudgetMin, p.BudgetMax)
	if p.Location != "" {
		fmt.Fprintf(sb, "- location: %s\n", p.Location)
	}
	if len(p.Lifestyle.Interests) > 0 {
		fmt.Fprintf(sb, "- interests: %s\n", strings.Join(p.Lifestyle.Interests, ", "))
	}
	if len(p.Lifestyle.Languages) > 0 {
		fmt.Fprintf(sb, "- languages: %s\n", strings.Join(p.Lifestyle.Languages, ", "))
	}

	prefs := p.Preferences
	if prefs.Cleanliness > 0 {
		fmt.Fprintf(sb, "- cleanliness: %d/5\n", prefs.Cleanliness)
	}
	if prefs.SocialLevel > 0 {
		fmt.Fprintf(sb, "- social level: %d/5\n", prefs.SocialLevel)
	}
	fmt.Fprintf(sb, "- pets: %s, smoking: %s\n", prefs.Pets, prefs.Smoking)
	if prefs.SleepSchedule != "" {
		fmt.Fprintf(sb, "- sleep schedule: %s\n", prefs.SleepSchedule)
	}
	if prefs.WorkFromHome {
		sb.WriteString("- works from home\n")
	}
	if p.Bio != "" {
		fmt.Fprintf(sb, "- bio: %s\n", p.Bio)
	}
}
