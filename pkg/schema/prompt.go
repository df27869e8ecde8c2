package schema

import "strings"

// InstructionBlock renders the schema as an instruction block for an
// agent system prompt in analyze mode. The directive is deliberately
// blunt: analyze-mode responses are machine-parsed, never shown to a
// human.
func (s *Schema) InstructionBlock() string {
	var sb strings.Builder
	sb.WriteString("Your response must be a single JSON value matching this JSON Schema:\n\n")
	sb.WriteString(s.JSON())
	sb.WriteString("\n\nRespond with only this JSON. No explanations, no markdown fences, no surrounding text.")
	return sb.String()
}
