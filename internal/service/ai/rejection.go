package ai

import (
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/santa-chat/backend/internal/service/ai/vertex"
)

// completedFinishReasons are the lower-cased finish reasons of a normally completed answer:
// Vertex STOP, MAX_TOKENS and FINISH_REASON_UNSPECIFIED, and the OpenAI-style stop, length and tool_calls.
// Any other reported reason means the provider withheld or cut the content.
var completedFinishReasons = map[string]struct{}{
	"stop":                      {},
	"max_tokens":                {},
	"finish_reason_unspecified": {},
	"length":                    {},
	"tool_calls":                {},
}

// Provider error codes for content moderation. Ark reports SensitiveContentDetected and
// its Input/Output variants; OpenAI-compatible endpoints use content_filter or content_policy_violation.
var rejectedErrorCodes = []string{
	"sensitivecontentdetected",
	"content_filter",
	"content_policy_violation",
}

// rejectedFinish reports whether a model answer ended for a reason other than normal completion.
// A missing reason counts as completed.
func rejectedFinish(msg *schema.Message) (string, bool) {
	if msg == nil || msg.ResponseMeta == nil {
		return "", false
	}
	reason := strings.TrimSpace(msg.ResponseMeta.FinishReason)
	if reason == "" {
		return "", false
	}
	_, ok := completedFinishReasons[strings.ToLower(reason)]
	return reason, !ok
}

// rejectedError reports whether a provider error is a safety rejection.
func rejectedError(err error) bool {
	if err == nil {
		return false
	}
	var blocked *vertex.BlockedError
	if errors.As(err, &blocked) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, code := range rejectedErrorCodes {
		if strings.Contains(text, code) {
			return true
		}
	}
	return false
}

// IsPolicyRejection reports whether err came from a content-safety rejection.
func IsPolicyRejection(err error) bool {
	return errors.Is(err, ErrRejectedByPolicy)
}
