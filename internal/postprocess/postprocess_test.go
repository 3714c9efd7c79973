package postprocess

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/da-sie/openai-assistant/internal/models"
)

var formats = []interface{}{models.FormatText, models.FormatJSON, models.FormatHTML, models.FormatMarkdown}

func TestClean(t *testing.T) {
	tests := []struct {
		name   string
		format models.ResponseFormat
		in     string
		want   string
	}{
		{"json fenced", models.FormatJSON, "```json\n{\"a\":1}\n```", "\n{\"a\":1}\n"},
		{"json bare fence", models.FormatJSON, "```{\"a\":1}```", "{\"a\":1}"},
		{"json clean", models.FormatJSON, "{\"a\":1}", "{\"a\":1}"},
		{"json outer whitespace", models.FormatJSON, "\n```json{\"a\":1}```\n", "{\"a\":1}"},
		{"json unterminated fence", models.FormatJSON, "```json\n{\"a\":1}", "\n{\"a\":1}"},
		{"json keeps interior fences", models.FormatJSON,
			"```json\n{\"code\":\"```go\\nx := 1\\n```\"}\n```",
			"\n{\"code\":\"```go\\nx := 1\\n```\"}\n"},
		{"json unfenced with interior fence", models.FormatJSON, "{\"a\":\"```\"}", "{\"a\":\"```\"}"},
		{"markdown keeps fences", models.FormatMarkdown, "```go\nx := 1\n```", "```go\nx := 1\n```"},
		{"text untouched", models.FormatText, "```json{}```", "```json{}```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.format, tt.in))
		})
	}
}

func TestCleanIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	pieces := gen.SliceOf(
		gen.OneConstOf("`", "``", "```", "```json", "json", "{", "}", "\n", "key", "value"),
		reflect.TypeOf(""),
	).Map(func(parts []string) string { return strings.Join(parts, "") })

	properties.Property("Clean is idempotent for every format", prop.ForAll(
		func(format models.ResponseFormat, text string) bool {
			once := Clean(format, text)
			return Clean(format, once) == once
		},
		gen.OneConstOf(formats...),
		pieces,
	))

	properties.TestingRun(t)
}

func TestCleanPreservesInteriorProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	interior := gen.AnyString().SuchThat(func(s string) bool { return !strings.Contains(s, "`") })

	properties.Property("fenced json keeps its interior byte for byte", prop.ForAll(
		func(body string, tagged bool) bool {
			open := "```"
			if tagged {
				open = "```json"
			} else if strings.HasPrefix(body, "json") {
				return true
			}
			return Clean(models.FormatJSON, open+body+"```") == body
		},
		interior,
		gen.Bool(),
	))

	properties.TestingRun(t)
}
