package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"pdfchat/internal/model"
)

// FallbackAnswer is what the model is told to reply when the context does not hold the answer.
const FallbackAnswer = "I could not find an answer in the provided document."

const answerTemplate = `You are a helpful assistant that answers questions based on the provided context.
Answer the user's question based only on the following context.
If the answer is not available in the context, reply exactly: "{{.fallback}}"

Context:
{{.context}}

Question: {{.question}}

Answer:`

var answerPrompt = prompts.NewPromptTemplate(answerTemplate, []string{"context", "question", "fallback"})

// Completer sends one prompt to a chat model and returns its text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator turns retrieved chunks and a question into a grounded answer.
type Generator struct {
	completer Completer
}

func NewGenerator(completer Completer) *Generator {
	return &Generator{completer: completer}
}

// Generate returns the model's reply verbatim.
func (g *Generator) Generate(ctx context.Context, question string, chunks []model.Chunk) (string, error) {
	prompt, err := BuildPrompt(question, chunks)
	if err != nil {
		return "", err
	}
	answer, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate answer failed: %w", err)
	}
	return answer, nil
}

// BuildPrompt renders the answer prompt with chunk texts separated by blank lines.
func BuildPrompt(question string, chunks []model.Chunk) (string, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	prompt, err := answerPrompt.Format(map[string]any{
		"context":  strings.Join(texts, "\n\n"),
		"question": question,
		"fallback": FallbackAnswer,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt failed: %w", err)
	}
	return prompt, nil
}
