package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// LabelUnclassified is the sentinel label for posts matching no theme.
// Posts classified only as this label are not persisted.
const LabelUnclassified = "другое"

const (
	maxAttempts    = 3
	requestTimeout = 5 * time.Second
	retryBackoff   = 3 * time.Second
	temperature    = 0.3
	maxTokens      = 50
	maxPromptRunes = 500
)

// promptTemplate is the fixed few-shot classification prompt. The two
// placeholders are the comma-joined vocabulary and the truncated post text.
const promptTemplate = `Проанализируй новостной пост и определи, к каким темам из списка он относится.
Учитывай не только прямое упоминание темы, но и смежные области. Вот примеры соответствий:

* Искусственный интеллект:
  - "ChatGPT", "Gemini", "Copilot" → "искусственный интеллект"
  - "нейросети", "машинное обучение", "LLM" → "искусственный интеллект"
  - "генеративный ИИ", "трансформеры", "дипфейки" → "искусственный интеллект"

* Криптовалюты:
  - "биткоин", "эфириум", "солана" → "криптовалюты"
  - "блокчейн", "DeFi", "NFT" → "криптовалюты"
  - "майнинг", "стейкинг", "криптобиржи" → "криптовалюты"

* Медицина:
  - "COVID", "вакцина", "эпидемия" → "медицина"
  - "ДНК", "гены", "биотехнологии" → "медицина"
  - "операция", "лекарство", "FDA" → "медицина"

* Политика:
  - "выборы", "президент", "парламент" → "политика"
  - "санкции", "дипломатия", "ООН" → "политика"
  - "законопроект", "лоббирование", "импичмент" → "политика"

* Экономика:
  - "инфляция", "ВВП", "безработица" → "экономика"
  - "акции", "рынок", "инвестиции" → "экономика"
  - "кризис", "рецессия", "биржа" → "экономика"

Список всех возможных тем: %s.

Ответ должен содержать ТОЛЬКО подходящие темы в формате: "тема1, тема2, тема3".
Если пост не подходит ни к одной теме, напиши "%s".

Текст поста:
"%s"`

// Classifier labels post text against a theme vocabulary via the GigaChat
// chat-completion endpoint. Classification never fails outward: any error
// after the retry budget degrades to the sentinel label.
type Classifier struct {
	tokens  *TokenSource
	apiURL  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	backoff time.Duration
	logger  *slog.Logger
}

// NewClassifier creates a classifier using the given token source. A nil
// logger falls back to slog.Default().
func NewClassifier(tokens *TokenSource, apiURL, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		tokens:  tokens,
		apiURL:  apiURL,
		model:   model,
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		backoff: retryBackoff,
		logger:  logger,
	}
}

// Classify returns the subset of vocabulary the post text belongs to, or
// [LabelUnclassified] when nothing matches or all attempts fail.
func (c *Classifier) Classify(ctx context.Context, text string, vocabulary []string) []string {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("classification aborted", "error", err)
			return []string{LabelUnclassified}
		}

		labels, err := c.classifyOnce(ctx, text, vocabulary)
		if err == nil {
			return labels
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				c.logger.Warn("classification aborted", "error", ctx.Err())
				return []string{LabelUnclassified}
			}
		}
	}

	c.logger.Warn("classification failed, falling back to sentinel label",
		"attempts", maxAttempts, "error", lastErr)
	return []string{LabelUnclassified}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

func (c *Classifier) classifyOnce(ctx context.Context, text string, vocabulary []string) ([]string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(promptTemplate,
		strings.Join(vocabulary, ", "), LabelUnclassified, firstNRunes(text, maxPromptRunes))

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	return parseLabels(chatResp.Choices[0].Message.Content, vocabulary), nil
}

// parseLabels splits a comma-separated model response, normalizes each
// entry, and intersects with the vocabulary. An empty intersection yields
// the sentinel label.
func parseLabels(content string, vocabulary []string) []string {
	vocab := make(map[string]struct{}, len(vocabulary))
	for _, theme := range vocabulary {
		vocab[strings.ToLower(strings.TrimSpace(theme))] = struct{}{}
	}

	seen := make(map[string]struct{})
	var labels []string
	for _, part := range strings.Split(content, ",") {
		label := strings.ToLower(strings.TrimSpace(part))
		if label == "" {
			continue
		}
		if _, ok := vocab[label]; !ok {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}

	if len(labels) == 0 {
		return []string{LabelUnclassified}
	}
	return labels
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
