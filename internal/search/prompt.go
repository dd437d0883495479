package search

import "strings"

// ContextSeparator joins chunks inside the context block.
const ContextSeparator = "\n\n"

// The prompt text is fixed, including the trailing spaces after "code." and
// "complete answer,".
const promptHeader = `You are a helpful assistant that answers questions about code. 
Below is relevant context from the user's codebase:

---BEGIN CONTEXT---
`

const promptQuestion = `
---END CONTEXT---

Based on the provided context, answer the following question as accurately as possible.
If the context doesn't contain enough information to provide a complete answer, 
say so and explain what additional information would be helpful.

Given the context information and not prior knowledge, answer the following question:
`

const promptFooter = `

Your answer should:
1. Be based only on the provided context
2. Be comprehensive and detailed
3. Directly address the query

ANSWER:`

// BuildPrompt places chunks between the context markers and appends query.
// Nothing is truncated.
func BuildPrompt(query string, chunks []string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(strings.Join(chunks, ContextSeparator))
	b.WriteString(promptQuestion)
	b.WriteString(query)
	b.WriteString(promptFooter)
	return b.String()
}
