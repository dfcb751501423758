package ai

import (
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/santa-chat/backend/internal/service/ai/vertex"
)

// GenerationConfig bounds remote generation. It is fixed at startup.
type GenerationConfig struct {
	MaxOutputTokens int
	Temperature     float32
	TopP            float32
}

// DefaultGenerationConfig mirrors the deployed Santa model settings.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxOutputTokens: 8192,
		Temperature:     1,
		TopP:            0.95,
	}
}

// HarmCategory names a provider content-safety category.
type HarmCategory string

const (
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
)

// BlockThreshold is the sensitivity at which a category blocks content.
type BlockThreshold string

const (
	BlockLowAndAbove    BlockThreshold = "BLOCK_LOW_AND_ABOVE"
	BlockMediumAndAbove BlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockOnlyHigh       BlockThreshold = "BLOCK_ONLY_HIGH"
	BlockNone           BlockThreshold = "BLOCK_NONE"
)

// SafetySetting pairs a category with its threshold.
type SafetySetting struct {
	Category  HarmCategory
	Threshold BlockThreshold
}

// SafetyPolicy is an immutable set of safety settings.
type SafetyPolicy struct {
	settings []SafetySetting
}

// NewSafetyPolicy copies settings into a policy.
func NewSafetyPolicy(settings ...SafetySetting) SafetyPolicy {
	return SafetyPolicy{settings: append([]SafetySetting(nil), settings...)}
}

// DefaultSafetyPolicy blocks all four categories at the strictest threshold.
func DefaultSafetyPolicy() SafetyPolicy {
	return NewSafetyPolicy(
		SafetySetting{Category: HarmCategoryHateSpeech, Threshold: BlockLowAndAbove},
		SafetySetting{Category: HarmCategoryDangerousContent, Threshold: BlockLowAndAbove},
		SafetySetting{Category: HarmCategorySexuallyExplicit, Threshold: BlockLowAndAbove},
		SafetySetting{Category: HarmCategoryHarassment, Threshold: BlockLowAndAbove},
	)
}

// Settings returns a copy of the configured pairs.
func (p SafetyPolicy) Settings() []SafetySetting {
	return append([]SafetySetting(nil), p.settings...)
}

// Equal compares two policies by value, order included.
func (p SafetyPolicy) Equal(other SafetyPolicy) bool {
	if len(p.settings) != len(other.settings) {
		return false
	}
	for i := range p.settings {
		if p.settings[i] != other.settings[i] {
			return false
		}
	}
	return true
}

// VertexSettings converts the policy for the Vertex chat model.
func (p SafetyPolicy) VertexSettings() []vertex.SafetySetting {
	out := make([]vertex.SafetySetting, 0, len(p.settings))
	for _, s := range p.settings {
		out = append(out, vertex.SafetySetting{Category: string(s.Category), Threshold: string(s.Threshold)})
	}
	return out
}

// modelOptions turns the fixed configuration into per-call options.
func modelOptions(gen GenerationConfig, safety SafetyPolicy) []model.Option {
	opts := make([]model.Option, 0, 4)
	if gen.MaxOutputTokens > 0 {
		opts = append(opts, model.WithMaxTokens(gen.MaxOutputTokens))
	}
	opts = append(opts,
		model.WithTemperature(gen.Temperature),
		model.WithTopP(gen.TopP),
	)
	if len(safety.settings) > 0 {
		opts = append(opts, vertex.WithSafetySettings(safety.VertexSettings()))
	}
	return opts
}
