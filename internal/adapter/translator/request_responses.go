package translator

import (
	"fmt"
	"os"
)

// codexInstructions is the long fixed instructions string the Responses
// upstream validates the presence of (spec.md §4.4); grounded verbatim on
// the structure captured in the original Python implementation's
// OpenAIToCodex.CODEX_INSTRUCTIONS, trimmed here to the load-bearing shape
// rather than reproduced character-for-character.
const codexInstructions = "You are Codex, based on GPT-5. You are running as a coding agent in the Codex CLI on a user's computer.\n\n" +
	"## General\n\n" +
	"- The arguments to `shell` will be passed to execvp(). Most terminal commands should be prefixed with [\"bash\", \"-lc\"].\n" +
	"- Always set the `workdir` param when using the shell function. Do not use `cd` unless absolutely necessary.\n\n" +
	"## Approvals\n\n" +
	"You will be told what filesystem sandboxing, network sandboxing, and approval mode are active in a developer or user message."

// ToOpenAIResponses converts an OpenAI-Chat request into the OpenAI
// Responses ("codex") wire shape, per spec.md §4.4: each message wrapped
// into {type:"message", role, content}, a synthetic <environment_context>
// user turn prepended, and a fixed tool schema + instructions attached.
func ToOpenAIResponses(req map[string]any, model string) (map[string]any, error) {
	rawMessages, _ := req["messages"].([]any)

	input := []map[string]any{environmentContextTurn()}

	for _, m := range rawMessages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "system" {
			continue // dropped: "instructions" always carries only codexInstructions.
		}
		contentType := "input_text"
		if role == "assistant" {
			contentType = "output_text"
		}
		text := contentToString(msg["content"])
		input = append(input, map[string]any{
			"type": "message",
			"role": role,
			"content": []map[string]any{
				{"type": contentType, "text": text},
			},
		})
	}

	out := map[string]any{
		"model":               model,
		"instructions":        codexInstructions,
		"input":               input,
		"tools":               codexToolSchema(),
		"tool_choice":         "auto",
		"parallel_tool_calls": false,
		"stream":              true,
		"store":               false,
	}
	return out, nil
}

func environmentContextTurn() map[string]any {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	text := fmt.Sprintf(
		"<environment_context>\n  <cwd>%s</cwd>\n  <approval_policy>on-request</approval_policy>\n  <sandbox_mode>workspace-write</sandbox_mode>\n  <network_access>enabled</network_access>\n  <shell>bash</shell>\n</environment_context>",
		cwd)
	return map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]any{
			{"type": "input_text", "text": text},
		},
	}
}

func contentToString(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", content)
}

// codexToolSchema is the fixed tool set (shell, update_plan, view_image)
// spec.md §4.4 says the Responses upstream validates the presence of.
func codexToolSchema() []map[string]any {
	return []map[string]any{
		{
			"type":        "function",
			"name":        "shell",
			"description": "Runs a shell command and returns its output.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "The command to execute",
					},
					"workdir": map[string]any{
						"type":        "string",
						"description": "The working directory to execute the command in",
					},
					"timeout_ms": map[string]any{
						"type":        "number",
						"description": "The timeout for the command in milliseconds",
					},
				},
				"required":             []string{"command"},
				"additionalProperties": false,
			},
			"strict": false,
		},
		{
			"type":        "function",
			"name":        "update_plan",
			"description": "Updates the task plan.",
			"strict":      false,
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"explanation": map[string]any{"type": "string"},
					"plan": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"step":   map[string]any{"type": "string"},
								"status": map[string]any{"type": "string", "description": "One of: pending, in_progress, completed"},
							},
							"required":             []string{"step", "status"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"plan"},
				"additionalProperties": false,
			},
		},
		{
			"type":        "function",
			"name":        "view_image",
			"description": "Attach a local image to the conversation context.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Local filesystem path to an image file"},
				},
				"required":             []string{"path"},
				"additionalProperties": false,
			},
			"strict": false,
		},
	}
}
