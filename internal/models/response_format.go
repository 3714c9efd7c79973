package models

import "fmt"

// ResponseFormat is the answer format requested for a message.
type ResponseFormat string

const (
	FormatText     ResponseFormat = "text"
	FormatJSON     ResponseFormat = "json"
	FormatHTML     ResponseFormat = "html"
	FormatMarkdown ResponseFormat = "markdown"
)

// ParseResponseFormat maps user input to a format. Empty input means text.
func ParseResponseFormat(s string) (ResponseFormat, error) {
	switch f := ResponseFormat(s); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatHTML, FormatMarkdown:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported response format %q", s)
	}
}

// Instruction returns the directive appended to a prompt of this format.
func (f ResponseFormat) Instruction() string {
	switch f {
	case FormatText:
		return "Answer in plain text only. Do not use markdown, HTML or code blocks."
	case FormatJSON:
		return "Answer with a single valid JSON document only. Do not wrap it in code fences and do not add any text before or after it."
	case FormatHTML:
		return "Answer as an HTML fragment using only the tags p, ul, ol, li, strong, em, h3, h4 and br. Do not include html, head or body tags and do not wrap the answer in code fences."
	case FormatMarkdown:
		return "Answer in Markdown using only headings, paragraphs, lists, bold and italic text. Do not use tables, images or raw HTML."
	}
	panic(fmt.Sprintf("models: unhandled response format %q", string(f)))
}

// FilesInstruction is appended when the thread has attached documents.
const FilesInstruction = "Base your answer exclusively on the attached files. Do not mention the files or that you are referring to them, just give the answer."
