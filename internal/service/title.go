package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sindi-homes/assistant/internal/llm"
	"github.com/sindi-homes/assistant/internal/model"
	"github.com/sindi-homes/assistant/pkg/logger"
	"github.com/sindi-homes/assistant/pkg/metrics"
)

const (
	titleMaxTokens     = 24
	fallbackTitleRunes = 50
	generatedTitleMax  = 80
	titleExcerptRunes  = 600
)

const titlePrompt = "You are a conversation title generator for a rental property assistant. " +
	"Based on the dialogue between the user and the assistant, write a short title (at most 6 words) " +
	"naming what the user is looking for. Output only the title, without quotes or punctuation at the end."

const titleTrim = " \t\"'`*#“”‘’"

var (
	titleTags   = regexp.MustCompile(`(?s)<[A-Z_]+>.*?</[A-Z_]+>`)
	titlePrefix = regexp.MustCompile(`(?i)^\s*title\s*:\s*`)
)

// TitleGenerator names a conversation after its first exchange.
type TitleGenerator struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

// NewTitleGenerator creates a title generator. A nil client always yields
// the fallback title.
func NewTitleGenerator(client llm.Client, model string, timeout time.Duration, log *logger.Logger) *TitleGenerator {
	return &TitleGenerator{client: client, model: model, timeout: timeout, logger: log}
}

// Generate returns a title for the exchange. It never fails: any model
// error or unusable output falls back to the truncated user message.
func (g *TitleGenerator) Generate(ctx context.Context, userText, assistantText string) string {
	if g != nil && g.client != nil {
		title, err := g.complete(ctx, userText, assistantText)
		if err == nil && title != "" {
			metrics.TitlesGenerated.WithLabelValues("model").Inc()
			return title
		}
		g.logger.Warn("title generation failed, using fallback", zap.Error(err))
	}
	metrics.TitlesGenerated.WithLabelValues("fallback").Inc()
	return FallbackTitle(userText)
}

func (g *TitleGenerator) complete(ctx context.Context, userText, assistantText string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	transcript := fmt.Sprintf("User: %s\nAssistant: %s\n",
		excerpt(userText, titleExcerptRunes),
		excerpt(titleTags.ReplaceAllString(assistantText, ""), titleExcerptRunes),
	)

	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Model:  g.model,
		System: titlePrompt,
		Messages: []llm.ChatMessage{{
			Role:    "user",
			Content: "Please generate a clean title using the following conversation:\n\n" + transcript,
		}},
		MaxTokens:   titleMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return cleanGeneratedTitle(resp.Content), nil
}

// cleanGeneratedTitle keeps the first non-empty line without quotes, a
// "Title:" prefix or trailing punctuation.
func cleanGeneratedTitle(s string) string {
	s = titleTags.ReplaceAllString(s, "")
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(line, titleTrim)
		line = titlePrefix.ReplaceAllString(line, "")
		line = strings.Trim(line, titleTrim)
		line = strings.TrimRight(line, ".!?:;,")
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		return excerpt(line, generatedTitleMax)
	}
	return ""
}

// FallbackTitle is the first user message truncated to 50 characters.
func FallbackTitle(userText string) string {
	title := strings.Join(strings.Fields(userText), " ")
	if title == "" {
		return model.DefaultTitle
	}
	return excerpt(title, fallbackTitleRunes)
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
