// Package answer assembles the augmented prompt from retrieved passages and
// the rolling dialogue, and drives the generator's streaming output back to
// the caller. Dialogue memory is per logical session, bounded, and only
// mutated after a stream completes successfully.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/internal/retrieval"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// DefaultSession scopes callers that do not identify themselves.
const DefaultSession = "default"

// Answerer answers user turns with retrieval-augmented generation.
type Answerer struct {
	retriever *retrieval.Retriever
	llm       openai.Generator
	pm        *prompts.PromptManager
	sessions  *sessionStore
}

func New(retriever *retrieval.Retriever, llm openai.Generator, pm *prompts.PromptManager, memoryCapacity int) *Answerer {
	return &Answerer{
		retriever: retriever,
		llm:       llm,
		pm:        pm,
		sessions:  newSessionStore(memoryCapacity),
	}
}

// Stream answers one user turn, delivering completion fragments to onDelta
// in arrival order. On success the exchange is appended to the session's
// memory; on any error the memory is untouched.
func (a *Answerer) Stream(ctx context.Context, sessionID string, mode Mode, prompt string, onDelta func(string) error) error {
	_, _, err := a.respond(ctx, sessionID, mode, prompt, onDelta)
	return err
}

// Answer is the blocking variant: it accumulates the streamed fragments and
// returns the full completion.
func (a *Answerer) Answer(ctx context.Context, sessionID string, mode Mode, prompt string) (string, error) {
	text, _, err := a.respond(ctx, sessionID, mode, prompt, nil)
	return text, err
}

// AnswerWithSources additionally returns the parent passages the answer was
// grounded on, for the evaluation harness.
func (a *Answerer) AnswerWithSources(ctx context.Context, sessionID string, prompt string) (string, []string, error) {
	text, sources, err := a.respond(ctx, sessionID, ModeRAG, prompt, nil)
	return text, retrieval.Parents(sources), err
}

// ClearMemory wipes one session's dialogue history.
func (a *Answerer) ClearMemory(sessionID string) {
	a.sessions.clear(sessionID)
}

func (a *Answerer) respond(ctx context.Context, sessionID string, mode Mode, prompt string, onDelta func(string) error) (string, []index.SearchResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", nil, fmt.Errorf("answer: empty prompt")
	}
	if sessionID == "" {
		sessionID = DefaultSession
	}
	sess := a.sessions.get(sessionID, mode)

	var passages []index.SearchResult
	if sess.mode == ModeRAG {
		var err error
		passages, err = a.retriever.Retrieve(ctx, prompt)
		if err != nil {
			return "", nil, fmt.Errorf("retrieve context: %w", err)
		}
	}

	messages, err := a.assemble(sess, passages, prompt)
	if err != nil {
		return "", nil, err
	}

	var full strings.Builder
	err = a.llm.Stream(ctx, messages, func(delta string) error {
		full.WriteString(delta)
		if onDelta != nil {
			return onDelta(delta)
		}
		return nil
	})
	if err != nil {
		return "", passages, err
	}

	answerText := full.String()
	sess.memory.Append(prompt, answerText)
	logger.Get().Info("answer complete",
		slog.String("session", sessionID),
		slog.String("mode", string(sess.mode)),
		slog.Int("passages", len(passages)),
		slog.Int("answer_length", len(answerText)),
	)
	return answerText, passages, nil
}

// assemble builds the message list: system prompt with labelled passages
// (rag mode), then the remembered dialogue, then the user turn.
func (a *Answerer) assemble(sess *session, passages []index.SearchResult, prompt string) ([]openai.Message, error) {
	var messages []openai.Message
	if sess.mode == ModeRAG {
		system, err := a.pm.SystemPrompt(prompts.PromptTypeAnswer, map[string]string{
			"sources": renderSources(passages),
		})
		if err != nil {
			return nil, fmt.Errorf("render system prompt: %w", err)
		}
		messages = append(messages, openai.Message{Role: openai.RoleSystem, Content: system})
	}
	for _, turn := range sess.memory.Turns() {
		if turn.Role != openai.RoleUser && turn.Role != openai.RoleAssistant {
			continue
		}
		messages = append(messages, openai.Message{Role: turn.Role, Content: turn.Text})
	}
	return append(messages, openai.Message{Role: openai.RoleUser, Content: prompt}), nil
}

// renderSources labels each passage with its structural label when the
// parent carries one, or its ordinal otherwise.
func renderSources(passages []index.SearchResult) string {
	if len(passages) == 0 {
		return "(no relevant passages found)"
	}
	var b strings.Builder
	for i, res := range passages {
		label, text := retrieval.Passage(i+1, res)
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n\n", i+1, label, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
