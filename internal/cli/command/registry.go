package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

var (
	problemField  = Field{Name: "problem", Aliases: []string{"problem_id", "p"}, Prompt: "problem id", Required: true}
	languageField = Field{Name: "language", Aliases: []string{"lang", "l"}, Prompt: "language", Required: true}
	codeField     = Field{Name: "code", Aliases: []string{"source"}, Prompt: "source code", Type: FieldSource, Required: true}
	idField       = Field{Name: "id", Aliases: []string{"submission", "submission_id"}, Prompt: "submission id", Required: true, InPath: true}
)

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:         "submit",
			Usage:        "submit problem=<id> language=<lang> file=<path>|code=<src>",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields:       []Field{problemField, languageField, codeField},
		},
		{
			Name:         "run",
			Usage:        "run problem=<id> language=<lang> file=<path>|code=<src>",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/problems/:problem/run",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem", Aliases: []string{"problem_id", "p"}, Prompt: "problem id", Required: true, InPath: true},
				languageField,
				codeField,
			},
		},
		{
			Name:         "judge",
			Usage:        "judge id=<submission id>",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/judge/submissions/:id",
			Fields:       []Field{idField},
		},
		{
			Name:         "status",
			Usage:        "status id=<submission id>",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/submissions/:id",
			Fields:       []Field{idField},
		},
		{
			Name:         "watch",
			Usage:        "watch id=<submission id>",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/submissions/:id/watch",
			Stream:       true,
			Fields:       []Field{idField},
		},
		{
			Name:         "health",
			Usage:        "health",
			Method:       http.MethodGet,
			PathTemplate: "/healthz",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns command names in display order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.Required && !params.Satisfied(field) {
			return RequestSpec{}, fmt.Errorf("%s is required", field.Name)
		}
	}
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method == http.MethodPost {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if len(payload) > 0 {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
		Stream:  cmd.Stream,
	}, nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	for _, field := range cmd.Fields {
		if !field.InPath {
			continue
		}
		value := strings.TrimSpace(params.Get(field.Name))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", field.Name)
		}
		path = strings.ReplaceAll(path, ":"+field.Name, url.PathEscape(value))
	}
	return path, nil
}

// buildPayload maps the remaining fields onto the API's JSON names.
func buildPayload(cmd Command, params Params) (map[string]string, error) {
	payload := make(map[string]string)
	for _, field := range cmd.Fields {
		if field.InPath {
			continue
		}
		value := params.Get(field.Name)
		if field.Type == FieldSource && value == "" && params.Get("file") != "" {
			data, err := ReadFile(params.Get("file"))
			if err != nil {
				return nil, err
			}
			value = data
		}
		if value == "" {
			continue
		}
		payload[jsonName(field.Name)] = value
	}
	return payload, nil
}

func jsonName(field string) string {
	if field == "problem" {
		return "problemId"
	}
	return field
}
