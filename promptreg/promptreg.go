// Package promptreg holds the platform's LLM prompt templates. Rendering
// uses text/template, the same mechanism the corpus uses for building
// LLM prompts from structured data (no third-party prompt-templating
// library appears anywhere in the example pack — see DESIGN.md).
package promptreg

import (
	"bytes"
	"fmt"
	"text/template"
)

// Name identifies a registered prompt template.
type Name string

const (
	RewriteQuery       Name = "rewrite_query"
	GenerateAnswer     Name = "generate_answer"
	GenerateTestset    Name = "generate_testset"
	JudgeFaithfulness  Name = "judge_faithfulness"
	JudgeRelevancy     Name = "judge_answer_relevancy"
	JudgeContextRecall Name = "judge_context_recall"
	JudgeContextPrec   Name = "judge_context_precision"
)

var raw = map[Name]string{
	RewriteQuery: `Given the conversation history below, rewrite the final user question into a
standalone question that keeps all information needed to answer it without the
history. If the question is already standalone, return it unchanged.

History:
{{range .History}}{{.Role}}: {{.Text}}
{{end}}
Question: {{.Question}}

Standalone question:`,

	GenerateAnswer: `Answer the question using only the context passages below. If the context
does not contain the answer, say you don't know instead of guessing.

Context:
{{range .Contexts}}---
{{.}}
{{end}}

Question: {{.Question}}

Answer:`,

	GenerateTestset: `Given the document excerpt below, write one question a user might ask that
this excerpt answers, along with the ground-truth answer and the excerpt
itself as a reference context.

Excerpt:
{{.Excerpt}}

Respond as JSON with keys "question", "ground_truth", "reference_contexts".`,

	JudgeFaithfulness: `Given the context passages and the generated answer below, break the answer
into individual factual claims and judge, for each claim, whether it is
supported by the context. Respond as JSON: {"claims": [{"claim": "...",
"supported": true|false}]}.

Context:
{{range .Contexts}}---
{{.}}
{{end}}

Answer:
{{.Answer}}`,

	JudgeRelevancy: `Given the question and the generated answer below, judge on a 0.0-1.0 scale
how relevant the answer is to the question. Respond as JSON: {"score": 0.0}.

Question: {{.Question}}
Answer: {{.Answer}}`,

	JudgeContextRecall: `Given the ground-truth answer and the retrieved context passages below,
judge what fraction of the ground truth's claims are supported by the
context. Respond as JSON: {"score": 0.0}.

Ground truth: {{.GroundTruth}}

Context:
{{range .Contexts}}---
{{.}}
{{end}}`,

	JudgeContextPrec: `Given the question and the retrieved context passages below, judge what
fraction of the passages are actually relevant to answering the question.
Respond as JSON: {"score": 0.0}.

Question: {{.Question}}

Context:
{{range .Contexts}}---
{{.}}
{{end}}`,
}

var parsed map[Name]*template.Template

func init() {
	parsed = make(map[Name]*template.Template, len(raw))
	for name, body := range raw {
		parsed[name] = template.Must(template.New(string(name)).Parse(body))
	}
}

// Render executes the named template against data.
func Render(name Name, data interface{}) (string, error) {
	tmpl, ok := parsed[name]
	if !ok {
		return "", fmt.Errorf("promptreg: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("promptreg: failed to render %q: %w", name, err)
	}
	return buf.String(), nil
}
