package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"certexam/internal/exam"
)

const (
	DefaultLLMModel   = "openrouter/anthropic/claude-sonnet-4"
	DefaultImageModel = "replicate/black-forest-labs/flux-1.1-pro"

	maxGeneratedQuestions = 20
)

var (
	// ErrUnavailable means the provider is not configured or did not return a
	// usable answer. Callers degrade instead of failing the engine operation.
	ErrUnavailable  = errors.New("assistant unavailable")
	ErrInvalidInput = errors.New("invalid input")
)

type ServiceConfig struct {
	Endpoint   string
	APIKey     string
	CustomerID string
	LLMModel   string
	ImageModel string
	HTTPClient *http.Client
}

type Service struct {
	endpoint   string
	apiKey     string
	customerID string
	llmModel   string
	imageModel string
	client     *http.Client
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateQuestionsInput struct {
	Subject    string
	Topic      string
	Difficulty exam.Difficulty
	Type       exam.QuestionType
	Count      int
}

type CertificateData struct {
	StudentName    string
	ExamTitle      string
	Subject        string
	Score          int
	Percentage     int
	IssuedAt       time.Time
	VerificationID string
}

func NewService(cfg ServiceConfig) *Service {
	llm := strings.TrimSpace(cfg.LLMModel)
	if llm == "" {
		llm = DefaultLLMModel
	}
	img := strings.TrimSpace(cfg.ImageModel)
	if img == "" {
		img = DefaultImageModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Service{
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		customerID: strings.TrimSpace(cfg.CustomerID),
		llmModel:   llm,
		imageModel: img,
		client:     client,
	}
}

func (s *Service) Enabled() bool {
	return s.endpoint != ""
}

// GenerateQuestions asks the model for a JSON array of questions and keeps
// only the entries that pass exam.Question validation.
func (s *Service) GenerateQuestions(ctx context.Context, in GenerateQuestionsInput) ([]exam.Question, error) {
	in, err := normalizeQuestionsInput(in)
	if err != nil {
		return nil, err
	}

	optionsHint := "4 options"
	if in.Type == exam.QuestionTrueFalse {
		optionsHint = `the options "True" and "False"`
	}
	system := fmt.Sprintf(`You are an expert educator writing %s questions for %s. Generate exactly %d questions on the topic: %s.
Each question has %s, one correct answer, a short explanation and difficulty %s.
Reply with a JSON array only, each element shaped as:
{"question": "...", "options": ["..."], "correctAnswer": "...", "explanation": "...", "difficulty": "%s", "type": "%s", "points": 1}`,
		in.Type, in.Subject, in.Count, in.Topic, optionsHint, in.Difficulty, in.Difficulty, in.Type)
	user := fmt.Sprintf("Generate %d %s difficulty %s questions about %s in %s.",
		in.Count, strings.ToLower(string(in.Difficulty)), in.Type, in.Topic, in.Subject)

	reply, err := s.complete(ctx, s.llmModel, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, 0.8, 3000)
	if err != nil {
		return nil, err
	}

	questions, dropped, err := parseQuestions(reply, in)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		log.Printf("assistant dropped %d invalid generated questions topic=%q", dropped, in.Topic)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no valid questions in reply", ErrUnavailable)
	}
	return questions, nil
}

// GenerateCertificateArtwork returns the URL of a rendered certificate image.
func (s *Service) GenerateCertificateArtwork(ctx context.Context, data CertificateData) (string, error) {
	prompt := fmt.Sprintf(`Create an elegant, professional digital certificate with the following details:

Student Name: %s
Exam: %s
Subject: %s
Score: %d (%d%%)
Issue Date: %s
Verification ID: %s

Use a gold and blue color scheme, clean readable typography, a decorative border and space for an institutional seal.
Reply with the image URL only.`,
		data.StudentName, data.ExamTitle, data.Subject, data.Score, data.Percentage,
		data.IssuedAt.UTC().Format("2 January 2006"), data.VerificationID)

	reply, err := s.complete(ctx, s.imageModel, []Message{{Role: "user", Content: prompt}}, 0.7, 2000)
	if err != nil {
		return "", err
	}
	ref := strings.Trim(strings.TrimSpace(reply), "<>\"'")
	u, err := url.ParseRequestURI(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: reply is not an image url", ErrUnavailable)
	}
	return ref, nil
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *Service) complete(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("%w: endpoint not configured", ErrUnavailable)
	}

	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.customerID != "" {
		req.Header.Set("customerId", s.customerID)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read reply: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: provider status %d", ErrUnavailable, resp.StatusCode)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", ErrUnavailable, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUnavailable)
	}
	return out.Choices[0].Message.Content, nil
}

func normalizeQuestionsInput(in GenerateQuestionsInput) (GenerateQuestionsInput, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	in.Topic = strings.TrimSpace(in.Topic)
	if in.Topic == "" {
		return in, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if in.Subject == "" {
		in.Subject = "general knowledge"
	}
	if in.Count == 0 {
		in.Count = 5
	}
	if in.Count < 0 || in.Count > maxGeneratedQuestions {
		return in, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidInput, maxGeneratedQuestions)
	}
	in.Difficulty = exam.Difficulty(strings.ToUpper(strings.TrimSpace(string(in.Difficulty))))
	switch in.Difficulty {
	case "":
		in.Difficulty = exam.DifficultyMedium
	case exam.DifficultyEasy, exam.DifficultyMedium, exam.DifficultyHard:
	default:
		return in, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInput, in.Difficulty)
	}
	in.Type = exam.QuestionType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	switch in.Type {
	case "":
		in.Type = exam.QuestionMCQ
	case exam.QuestionMCQ, exam.QuestionTrueFalse:
	default:
		return in, fmt.Errorf("%w: unknown question type %q", ErrInvalidInput, in.Type)
	}
	return in, nil
}

type generatedQuestion struct {
	Question      string          `json:"question"`
	Options       []string        `json:"options"`
	CorrectAnswer string          `json:"correctAnswer"`
	Explanation   string          `json:"explanation"`
	Difficulty    string          `json:"difficulty"`
	Type          string          `json:"type"`
	Points        json.RawMessage `json:"points"`
}

// parseQuestions decodes the model reply. Models often wrap JSON in a
// markdown fence or answer with an option letter instead of the option text.
func parseQuestions(reply string, in GenerateQuestionsInput) ([]exam.Question, int, error) {
	body := strings.TrimSpace(reply)
	if start := strings.Index(body, "["); start >= 0 {
		if end := strings.LastIndex(body, "]"); end > start {
			body = body[start : end+1]
		}
	}

	var raw []generatedQuestion
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: reply is not a json array: %v", ErrUnavailable, err)
	}

	out := make([]exam.Question, 0, len(raw))
	dropped := 0
	for _, g := range raw {
		q := exam.Question{
			Prompt:      strings.TrimSpace(g.Question),
			Type:        in.Type,
			Difficulty:  in.Difficulty,
			Points:      parsePoints(g.Points),
			Explanation: strings.TrimSpace(g.Explanation),
		}
		for _, opt := range g.Options {
			q.Options = append(q.Options, strings.TrimSpace(opt))
		}
		if q.Type == exam.QuestionTrueFalse {
			q.Options = []string{"True", "False"}
		}
		q.CorrectAnswer = resolveAnswer(strings.TrimSpace(g.CorrectAnswer), q.Options)

		if err := q.Validate(); err != nil {
			dropped++
			continue
		}
		out = append(out, q)
		if len(out) == in.Count {
			break
		}
	}
	return out, dropped, nil
}

func parsePoints(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func resolveAnswer(answer string, options []string) string {
	for _, opt := range options {
		if opt == answer {
			return opt
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, answer) {
			return opt
		}
	}
	if len(answer) == 1 {
		idx := int(strings.ToUpper(answer)[0] - 'A')
		if idx >= 0 && idx < len(options) {
			return options[idx]
		}
	}
	return answer
}
