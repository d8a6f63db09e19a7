// Package minutes turns a merged transcript into structured meeting
// minutes: three co-generated renderings (HTML, RTF, Markdown), a Word
// document derived from the Markdown, and a structured extraction of
// title, summary, participants, key points, and action items.
package minutes

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mtokuhisa/minutesgen/pkg/docx"
	"github.com/mtokuhisa/minutesgen/pkg/prompts"
)

// ErrChatTransient marks a retryable chat-completion failure. It is only
// ever seen inside the retry loop — callers of Assemble never observe it,
// since transient failures are retried until they succeed or are
// reclassified as ErrChatPermanent once retries are exhausted.
var ErrChatTransient = errors.New("minutes: transient chat completion failure")

// ErrChatPermanent is the terminal chat-completion failure surfaced to the
// caller, whether the underlying cause was an immediate non-retryable
// response (e.g. 4xx) or a transient failure that persisted across every
// retry.
var ErrChatPermanent = errors.New("minutes: permanent chat completion failure")

// ErrAssemblyFailed wraps a failure to parse a successfully-returned chat
// response into usable content, distinct from the chat call itself failing.
var ErrAssemblyFailed = errors.New("minutes: assembly failed")

const multiFormatBlock = `Return your answer as exactly three fenced code blocks, in this order, using these language tags: ` + "```html```, ```rtf```, ```markdown```" + `. Do not include any text outside the three blocks.`

const antiHallucinationBlock = `Do not invent content that is not present in the transcript. Where the audio is unclear or a speaker's words are unintelligible, mark the gap with one of: [不明瞭] for an unclear word, [音声不明瞭] for an unintelligible passage, or [発言途中] for a cut-off remark. Never guess at names, numbers, or decisions you cannot verify from the transcript.`

// Options configures one assembly call.
type Options struct {
	ChatModel    string
	SummaryModel string // cheapest available model for summary polishing
}

// ActionItem is one extracted action item, with inline assignee/due-date
// capture when present.
type ActionItem struct {
	Text     string
	Assignee string
	DueDate  string
}

// Result is the full structured output of one assembly run.
type Result struct {
	HTML     string
	RTF      string
	Markdown string

	Title        string
	Summary      string
	Participants []string
	KeyPoints    []string
	ActionItems  []ActionItem

	WordDocBase64 string
	WordFailed    bool
}

// Assembler drives the chat-completion call and the parsing/extraction
// pipeline that follows it.
type Assembler struct {
	client *openai.Client
}

// New returns an Assembler talking to baseURL with apiKey.
func New(baseURL, apiKey string) *Assembler {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Assembler{client: openai.NewClientWithConfig(cfg)}
}

// Assemble composes the prompt, calls the chat endpoint with retry, parses
// the response into three formats, derives any missing format, builds the
// Word artifact, and extracts structured fields from the Markdown.
func (a *Assembler) Assemble(ctx context.Context, transcript string, tmpl prompts.Template, customSuffix string, opts Options) (Result, error) {
	prompt := buildPrompt(tmpl, transcript, customSuffix)

	content, err := a.chatWithRetry(ctx, opts.ChatModel, systemMessage, prompt, 30000, 0.3, 5, 3*time.Second, 120*time.Second)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}

	htmlOut, rtfOut, mdOut := parseBlocks(content)
	wordFailed := false
	switch {
	case mdOut == "" && htmlOut != "":
		mdOut = markdownFromHTML(htmlOut)
	case htmlOut == "" && mdOut != "":
		htmlOut = htmlSkeleton(mdOut)
	case mdOut == "" && htmlOut == "":
		mdOut = content
		htmlOut = htmlSkeleton(mdOut)
		wordFailed = true
	}

	res := Result{HTML: htmlOut, RTF: rtfOut, Markdown: mdOut}
	extractStructured(mdOut, &res)

	res.Summary = shortenSummary(res.Summary)
	if !wordFailed {
		if polished, err := a.polishSummary(ctx, res.Summary, opts.SummaryModel); err == nil {
			res.Summary = polished
		}
	}

	if wordFailed {
		res.WordFailed = true
	} else {
		docBytes, err := docx.FromMarkdown(mdOut)
		if err != nil {
			res.WordFailed = true
		} else {
			res.WordDocBase64 = base64Encode(docBytes)
		}
	}

	return res, nil
}

const systemMessage = "You are an assistant that produces structured meeting minutes from a transcript."

func buildPrompt(tmpl prompts.Template, transcript, customSuffix string) string {
	var b strings.Builder
	b.WriteString(tmpl.Body)
	b.WriteString("\n\n")
	b.WriteString(multiFormatBlock)
	b.WriteString("\n\n")
	b.WriteString(antiHallucinationBlock)
	b.WriteString("\n\n")
	b.WriteString(transcript)
	if strings.TrimSpace(customSuffix) != "" {
		b.WriteString("\n\n")
		b.WriteString(customSuffix)
	}
	return b.String()
}

var reasoningModelPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range reasoningModelPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

func (a *Assembler) chatWithRetry(ctx context.Context, model, systemMsg, userMsg string, maxTokens int, temperature float32, attempts int, baseInterval, maxInterval time.Duration) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseInterval
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var out string
	op := func() error {
		req := openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemMsg},
				{Role: openai.ChatMessageRoleUser, Content: userMsg},
			},
		}
		if isReasoningModel(model) {
			req.MaxCompletionTokens = maxTokens
		} else {
			req.MaxTokens = maxTokens
			req.Temperature = temperature
		}

		resp, err := a.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if isTransient(err) {
				return fmt.Errorf("%w: %v", ErrChatTransient, err)
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrChatPermanent, err))
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty choices in chat response", ErrChatPermanent))
		}
		out = resp.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrChatPermanent) {
			return "", err
		}
		// Every retry was exhausted without success; a transient failure
		// that never recovers is surfaced as permanent, per P7.
		return "", fmt.Errorf("%w: retries exhausted: %v", ErrChatPermanent, err)
	}
	return out, nil
}

func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	return true
}

var fencedBlockRe = regexp.MustCompile("(?is)```\\s*(html|rtf|markdown)\\s*\\n(.*?)```")
var legacyDelimiterRe = regexp.MustCompile(`(?is)\[(HTML|RTF|MARKDOWN)_START\](.*?)\[(?:HTML|RTF|MARKDOWN)_END\]`)

// parseBlocks extracts the three fenced blocks by language tag, falling
// back to the legacy bracket-delimiter form for forward compatibility.
func parseBlocks(content string) (htmlOut, rtfOut, mdOut string) {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(content, -1) {
		switch strings.ToLower(m[1]) {
		case "html":
			htmlOut = strings.TrimSpace(m[2])
		case "rtf":
			rtfOut = strings.TrimSpace(m[2])
		case "markdown":
			mdOut = strings.TrimSpace(m[2])
		}
	}
	if htmlOut == "" && rtfOut == "" && mdOut == "" {
		for _, m := range legacyDelimiterRe.FindAllStringSubmatch(content, -1) {
			switch strings.ToUpper(m[1]) {
			case "HTML":
				htmlOut = strings.TrimSpace(m[2])
			case "RTF":
				rtfOut = strings.TrimSpace(m[2])
			case "MARKDOWN":
				mdOut = strings.TrimSpace(m[2])
			}
		}
	}
	return
}

var (
	htmlTagRe   = regexp.MustCompile(`(?is)<(h[1-3]|strong|b|em|i|li)[^>]*>(.*?)</\s*\w+\s*>`)
	htmlStripRe = regexp.MustCompile(`(?is)<[^>]+>`)
)

// markdownFromHTML derives Markdown from HTML via a fixed tag-to-markup
// rewrite table plus entity unescape.
func markdownFromHTML(h string) string {
	out := htmlTagRe.ReplaceAllStringFunc(h, func(tag string) string {
		m := htmlTagRe.FindStringSubmatch(tag)
		inner := html.UnescapeString(m[2])
		switch strings.ToLower(m[1]) {
		case "h1":
			return "# " + inner + "\n"
		case "h2":
			return "## " + inner + "\n"
		case "h3":
			return "### " + inner + "\n"
		case "strong", "b":
			return "**" + inner + "**"
		case "em", "i":
			return "*" + inner + "*"
		case "li":
			return "- " + inner + "\n"
		}
		return inner
	})
	out = htmlStripRe.ReplaceAllString(out, "")
	return html.UnescapeString(strings.TrimSpace(out))
}

// htmlSkeleton wraps Markdown text in a minimal HTML5 document.
func htmlSkeleton(md string) string {
	escaped := html.EscapeString(md)
	escaped = strings.ReplaceAll(escaped, "\n", "<br/>\n")
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
<pre>%s</pre>
</body>
</html>`, escaped)
}

var (
	titleRe        = regexp.MustCompile(`^#\s+(.+)$`)
	summaryHeadRe  = regexp.MustCompile(`要約|サマリー`)
	participantsRe = regexp.MustCompile(`参加者`)
	keyPointsRe    = regexp.MustCompile(`主要|ポイント|重要`)
	actionItemsRe  = regexp.MustCompile(`アクション|TODO|ToDo`)
	listItemRe     = regexp.MustCompile(`^[-*・]\s*(.+)$`)
	assigneeRe     = regexp.MustCompile(`担当[者人]?[：:]\s*([^\s　]+)`)
	dueDateRe      = regexp.MustCompile(`期限[：:]\s*([^\s　]+)`)
)

type extractSection int

const (
	sectionNone extractSection = iota
	sectionSummary
	sectionParticipants
	sectionKeyPoints
	sectionActionItems
)

// extractStructured routes each line of the Markdown into the section
// implied by the nearest preceding heading/label line.
func extractStructured(md string, res *Result) {
	lines := strings.Split(md, "\n")
	res.Title = "Untitled meeting"
	section := sectionNone
	var summaryLines []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if res.Title == "Untitled meeting" {
			if m := titleRe.FindStringSubmatch(trimmed); m != nil {
				res.Title = strings.TrimSpace(m[1])
				continue
			}
		}

		switch {
		case summaryHeadRe.MatchString(trimmed):
			section = sectionSummary
			continue
		case participantsRe.MatchString(trimmed):
			section = sectionParticipants
			continue
		case keyPointsRe.MatchString(trimmed):
			section = sectionKeyPoints
			continue
		case actionItemsRe.MatchString(trimmed):
			section = sectionActionItems
			continue
		}

		switch section {
		case sectionSummary:
			summaryLines = append(summaryLines, trimmed)
		case sectionParticipants:
			for _, p := range splitParticipants(trimmed) {
				p = strings.TrimSpace(p)
				if p != "" {
					res.Participants = append(res.Participants, p)
				}
			}
		case sectionKeyPoints:
			if m := listItemRe.FindStringSubmatch(trimmed); m != nil {
				res.KeyPoints = append(res.KeyPoints, strings.TrimSpace(m[1]))
			}
		case sectionActionItems:
			if m := listItemRe.FindStringSubmatch(trimmed); m != nil {
				item := ActionItem{Text: strings.TrimSpace(m[1])}
				if am := assigneeRe.FindStringSubmatch(trimmed); am != nil {
					item.Assignee = am[1]
				}
				if dm := dueDateRe.FindStringSubmatch(trimmed); dm != nil {
					item.DueDate = dm[1]
				}
				res.ActionItems = append(res.ActionItems, item)
			}
		}
	}

	res.Summary = strings.Join(summaryLines, " ")
}

func splitParticipants(line string) []string {
	line = strings.TrimPrefix(line, "-")
	line = strings.TrimPrefix(line, "*")
	line = strings.TrimSpace(line)
	return regexp.MustCompile(`[、,]`).Split(line, -1)
}

var sentenceBoundaryRe = regexp.MustCompile(`[。！？]`)

// shortenSummary greedily accumulates complete sentences while the result
// stays at or under 50 characters; if no single sentence fits, it falls
// back to a hard truncation.
func shortenSummary(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) <= 50 {
		return text
	}

	sentences := sentenceBoundaryRe.Split(text, -1)
	seps := sentenceBoundaryRe.FindAllString(text, -1)

	var acc strings.Builder
	for i, s := range sentences {
		sep := ""
		if i < len(seps) {
			sep = seps[i]
		}
		candidate := acc.String() + s + sep
		if len([]rune(candidate)) > 50 {
			break
		}
		acc.WriteString(s)
		acc.WriteString(sep)
	}
	if acc.Len() > 0 {
		return acc.String()
	}

	runes := []rune(text)
	if len(runes) > 47 {
		return string(runes[:47]) + "..."
	}
	return text
}

// polishSummary issues one lightweight chat request to rewrite the summary
// while preserving line breaks, falling back to the input on any failure.
func (a *Assembler) polishSummary(ctx context.Context, summary, model string) (string, error) {
	if model == "" || strings.TrimSpace(summary) == "" {
		return summary, nil
	}
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Rewrite the following summary to read naturally, preserving its line breaks exactly and without adding new information."},
			{Role: openai.ChatMessageRoleUser, Content: summary},
		},
		MaxTokens: 100,
	})
	if err != nil {
		return summary, err
	}
	if len(resp.Choices) == 0 {
		return summary, errors.New("minutes: empty polish response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
