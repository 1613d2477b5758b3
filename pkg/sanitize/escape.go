package sanitize

import "strings"

// promptEscaper neutralizes delimiters that could break out of a prompt
// template: triple quotes and Go/Jinja-style template markers.
var promptEscaper = strings.NewReplacer(
	`"""`, `\"\"\"`,
	"```", "\\`\\`\\`",
	"'''", `\'\'\'`,
	"{{", "{ {",
	"}}", "} }",
	"{%", "{ %",
	"%}", "% }",
)

// EscapeForPrompt escapes user text so it can be embedded inside an LLM
// prompt without terminating the surrounding delimiters.
func EscapeForPrompt(input string) string {
	return promptEscaper.Replace(input)
}
