// Package extract converts free-text patient narratives into structured
// PatientProfile values by delegating to the completion capability under a
// schema-shaped prompt.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medmatch-ai/medmatch/internal/config"
	"github.com/medmatch-ai/medmatch/internal/model"
	"github.com/medmatch-ai/medmatch/pkg/llm"
)

const systemText = "You are a clinical data abstractor. Extract medical information from patient narratives into the exact JSON schema requested. Use an empty string for any field the text does not state; never omit a key and never invent information."

const extractPrompt = `Extract medical information from this text and format as JSON:
%s

Format the response as:
{
    "diagnosis": {
        "primaryDiagnosis": "",
        "subtype": "",
        "diagnosisDate": "",
        "stage": ""
    },
    "treatments": {
        "pastTreatments": "",
        "currentTreatment": "",
        "plannedTreatment": ""
    },
    "medicalHistory": {
        "comorbidities": "",
        "allergies": "",
        "medications": ""
    },
    "demographics": {
        "age": "",
        "gender": ""
    }
}

Return only the JSON object.`

// requiredSections are the top-level keys a conforming completion must emit.
var requiredSections = []string{"diagnosis", "treatments", "medicalHistory", "demographics"}

// ErrEmptyInput is returned when the narrative is empty or whitespace.
// Caller input defect; never sent to the completion capability.
var ErrEmptyInput = eris.New("extract: empty narrative text")

// Extractor turns raw narrative text into a PatientProfile.
type Extractor struct {
	client llm.Client
	cfg    config.AnthropicConfig
}

// New creates an Extractor backed by the given completion client.
func New(client llm.Client, cfg config.AnthropicConfig) *Extractor {
	return &Extractor{client: client, cfg: cfg}
}

// Extract runs the extraction prompt and parses the completion into a
// PatientProfile. It never returns a partially-shaped profile: any parse or
// shape failure surfaces as llm.ErrMalformedOutput. The only side effect is
// the completion call itself; persistence is the caller's concern.
func (e *Extractor) Extract(ctx context.Context, rawText string) (*model.PatientProfile, error) {
	return e.ExtractWithTemperature(ctx, rawText, e.cfg.Temperature)
}

// ExtractWithTemperature is Extract with an explicit sampling temperature,
// used by callers applying the one-shot malformed-output mitigation.
func (e *Extractor) ExtractWithTemperature(ctx context.Context, rawText string, temperature float64) (*model.PatientProfile, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, ErrEmptyInput
	}
	if e.client == nil {
		return nil, eris.Wrap(llm.ErrUnavailable, "extract")
	}

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      systemText,
		Prompt:      fmt.Sprintf(extractPrompt, rawText),
		Temperature: &temperature,
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: completion")
	}
	resp.Usage.LogCost(e.cfg.Model, "extract")

	profile, err := parseProfile(resp.Text)
	if err != nil {
		zap.L().Warn("extract: completion output failed to parse",
			zap.Int("response_len", len(resp.Text)),
			zap.Error(err),
		)
		return nil, err
	}

	return profile, nil
}

// parseProfile validates the completion text against the profile schema.
// Schema-on-parse: the producer is untrusted with respect to structure, so
// every shape defect is a fallible-parse error, never a panic path.
func parseProfile(text string) (*model.PatientProfile, error) {
	cleaned := llm.CleanJSON(text)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrapf(llm.ErrMalformedOutput, "extract: parse profile: %v", err)
	}
	for _, section := range requiredSections {
		if _, ok := raw[section]; !ok {
			return nil, eris.Wrapf(llm.ErrMalformedOutput, "extract: missing section %q", section)
		}
	}

	var profile model.PatientProfile
	if err := json.Unmarshal([]byte(cleaned), &profile); err != nil {
		return nil, eris.Wrapf(llm.ErrMalformedOutput, "extract: decode profile: %v", err)
	}
	profile.Normalize()

	return &profile, nil
}
