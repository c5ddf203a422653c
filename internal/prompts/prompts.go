// Package prompts manages the LLM prompt templates used across the
// retrieval pipeline, the answerer and the evaluation harness.
//
// Templates carry {{placeholder}} variables rendered with RenderUserPrompt;
// the configured book title is substituted into every template as {{book}}.
package prompts

import (
	"fmt"
	"strings"
)

// PromptType represents different types of prompts used in the system.
type PromptType string

const (
	// PromptTypeTranslation turns a non-English question into English
	// search keywords.
	PromptTypeTranslation PromptType = "translation"
	// PromptTypeStepBack produces a higher-level conceptual question.
	PromptTypeStepBack PromptType = "stepback"
	// PromptTypeHyDE produces a hypothetical book-style answer used for
	// vector search.
	PromptTypeHyDE PromptType = "hyde"
	// PromptTypeAnswer is the grounded answering system prompt.
	PromptTypeAnswer PromptType = "answer"
	// PromptTypeJudge scores an answer for faithfulness and relevance.
	PromptTypeJudge PromptType = "judge"
	// PromptTypeTestGen synthesises a test question from one excerpt.
	PromptTypeTestGen PromptType = "testgen"
	// PromptTypeTestGenPair synthesises a test question spanning two
	// excerpts.
	PromptTypeTestGenPair PromptType = "testgen_pair"
)

// Prompt represents a reusable prompt template.
type Prompt struct {
	Type         PromptType
	Name         string
	System       string
	UserTemplate string
}

// PromptManager manages all prompts for a configured book title.
type PromptManager struct {
	book    string
	prompts map[PromptType]*Prompt
}

// DefaultBookTitle is used when no title is configured.
const DefaultBookTitle = "Effective Java"

// NewPromptManager creates a new prompt manager with default prompts.
func NewPromptManager(bookTitle string) *PromptManager {
	if strings.TrimSpace(bookTitle) == "" {
		bookTitle = DefaultBookTitle
	}
	pm := &PromptManager{
		book:    bookTitle,
		prompts: make(map[PromptType]*Prompt),
	}
	pm.initializeDefaultPrompts()
	return pm
}

func (pm *PromptManager) initializeDefaultPrompts() {
	pm.prompts[PromptTypeTranslation] = &Prompt{
		Type: PromptTypeTranslation,
		Name: "translation_keywords_v1",
		UserTemplate: `Translate the following technical question into English search keywords for an English technical book. Return ONLY the translated English keywords, without any explanation or additional text: {{query}}`,
	}

	pm.prompts[PromptTypeStepBack] = &Prompt{
		Type: PromptTypeStepBack,
		Name: "stepback_conceptual_v1",
		UserTemplate: `Given the technical question: {{query}}

What is a higher-level, more fundamental conceptual question related to this? The conceptual question should focus on the underlying principles, design patterns, or core concepts from '{{book}}' that would help answer the original question. Return ONLY the conceptual question, without any explanation or additional text.`,
	}

	pm.prompts[PromptTypeHyDE] = &Prompt{
		Type: PromptTypeHyDE,
		Name: "hyde_excerpt_v1",
		UserTemplate: `Please write a brief, technical answer to the following question as if it were an excerpt from a professional technical book like '{{book}}'. The answer should be concise (2-3 sentences), technical, and written in the style of a programming book. Do not include the question itself, only provide the answer. Question: {{query}}`,
	}

	pm.prompts[PromptTypeAnswer] = &Prompt{
		Type: PromptTypeAnswer,
		Name: "answer_grounded_zh_v1",
		System: `你是一个基于《{{book}}》的专业助手。请根据以下提供的【参考资料】回答用户问题。如果资料中没有相关信息，请诚实说明。

重要提示：在回答时，请明确提及你引用的 Item 编号或 Chapter 编号（如果参考资料中提供了这些信息）。这会让你的回答更加可追溯和权威。

参考资料如下：

{{sources}}`,
	}

	pm.prompts[PromptTypeJudge] = &Prompt{
		Type: PromptTypeJudge,
		Name: "judge_faithfulness_relevance_v1",
		System: `You are an expert evaluator for RAG (Retrieval-Augmented Generation) systems.
Your task is to objectively score answers based on two criteria:

1. **Faithfulness** (0-1): Does the answer accurately reflect the provided context?
   - 1.0: Answer is completely faithful to the context, no hallucinations
   - 0.5: Answer is partially faithful but contains some inaccuracies
   - 0.0: Answer contradicts or ignores the context

2. **Relevance** (0-1): Does the answer address the question?
   - 1.0: Answer directly and completely addresses the question
   - 0.5: Answer partially addresses the question
   - 0.0: Answer does not address the question

You must respond ONLY with a JSON object in this exact format:
{
  "faithfulness": 0.85,
  "relevance": 0.90,
  "reasoning": "Brief explanation of scores"
}

Do not include any other text, only the JSON object.`,
		UserTemplate: `Question: {{question}}

RAG Answer: {{answer}}

Ground Truth: {{ground_truth}}

Source Context: {{context}}

Please evaluate the RAG Answer based on:
1. Faithfulness: Does the RAG Answer accurately reflect the Source Context?
2. Relevance: Does the RAG Answer address the Question?

Respond with ONLY a JSON object in this format:
{"faithfulness": 0.85, "relevance": 0.90, "reasoning": "Brief explanation"}`,
	}

	pm.prompts[PromptTypeTestGen] = &Prompt{
		Type: PromptTypeTestGen,
		Name: "testgen_single_v1",
		UserTemplate: `Given the following excerpt from '{{book}}', generate a test question and its ground truth answer.

Excerpt:
{{excerpt}}

Please generate:
1. A clear, specific question that can be answered using this excerpt.
2. A concise ground truth answer (2-3 sentences) based on the excerpt.

Respond ONLY with a JSON object in this exact format:
{
  "question": "Your question here",
  "ground_truth": "The answer based on the excerpt"
}

Do not include any other text, only the JSON object.`,
	}

	pm.prompts[PromptTypeTestGenPair] = &Prompt{
		Type: PromptTypeTestGenPair,
		Name: "testgen_pair_v1",
		UserTemplate: `Given the following two excerpts from '{{book}}', generate a test question that requires information from BOTH excerpts to answer.

Excerpt A:
{{excerpt_a}}

Excerpt B:
{{excerpt_b}}

Please generate:
1. A clear, specific question that can only be answered by combining both excerpts.
2. A concise ground truth answer (2-3 sentences) drawing on both excerpts.

Respond ONLY with a JSON object in this exact format:
{
  "question": "Your question here",
  "ground_truth": "The answer based on the excerpts"
}

Do not include any other text, only the JSON object.`,
	}
}

// GetPrompt returns a prompt by type.
func (pm *PromptManager) GetPrompt(promptType PromptType) (*Prompt, error) {
	prompt, exists := pm.prompts[promptType]
	if !exists {
		return nil, fmt.Errorf("prompt not found for type: %s", promptType)
	}
	return prompt, nil
}

// SystemPrompt returns the rendered system prompt for a type. The {{book}}
// placeholder is always substituted; additional variables are optional.
func (pm *PromptManager) SystemPrompt(promptType PromptType, variables map[string]string) (string, error) {
	prompt, err := pm.GetPrompt(promptType)
	if err != nil {
		return "", err
	}
	return pm.render(prompt.System, variables), nil
}

// RenderUserPrompt renders the user prompt template with variables.
func (pm *PromptManager) RenderUserPrompt(promptType PromptType, variables map[string]string) (string, error) {
	prompt, err := pm.GetPrompt(promptType)
	if err != nil {
		return "", err
	}
	return pm.render(prompt.UserTemplate, variables), nil
}

func (pm *PromptManager) render(template string, variables map[string]string) string {
	rendered := strings.ReplaceAll(template, "{{book}}", pm.book)
	for key, value := range variables {
		placeholder := fmt.Sprintf("{{%s}}", key)
		rendered = strings.ReplaceAll(rendered, placeholder, value)
	}
	return rendered
}

// AddCustomPrompt adds a custom prompt to the manager.
func (pm *PromptManager) AddCustomPrompt(prompt *Prompt) error {
	if prompt == nil || prompt.Type == "" {
		return fmt.Errorf("invalid prompt: type is required")
	}
	pm.prompts[prompt.Type] = prompt
	return nil
}

// ListPromptTypes returns all available prompt types.
func (pm *PromptManager) ListPromptTypes() []PromptType {
	types := make([]PromptType, 0, len(pm.prompts))
	for t := range pm.prompts {
		types = append(types, t)
	}
	return types
}
