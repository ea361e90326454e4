package provider

import (
	"context"
	"fmt"
	"strings"
)

// Stub returns canned responses so the server runs without any API key.
type Stub struct{}

// Complete returns a fixed outline or content body depending on the prompt.
func (s *Stub) Complete(_ context.Context, prompt string) (string, error) {
	topic := stubTopic(prompt)
	if strings.Contains(prompt, "structured outline") {
		return fmt.Sprintf(`# %s

## 1. Core Concepts
- Definition and context
- Key terminology

## 2. How It Works
- Main mechanism
- Common variations

## 3. Practical Notes
- Typical pitfalls
- Summary points`, topic), nil
	}

	return fmt.Sprintf(`# %s

[Stub] This is placeholder study material for %q. Configure a provider API
key to generate real content.

## Core Concepts

The topic covers foundational definitions, the surrounding context, and the
terminology needed to discuss it precisely.

## How It Works

The main mechanism is described step by step, followed by the variations
seen in practice.

## Practical Notes

Common pitfalls are listed together with a short summary of the key points.`, topic, topic), nil
}

// stubTopic pulls the quoted topic out of a prompt, falling back to a
// generic label.
func stubTopic(prompt string) string {
	start := strings.Index(prompt, `topic: "`)
	if start < 0 {
		return "Untitled Topic"
	}
	rest := prompt[start+len(`topic: "`):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "Untitled Topic"
	}
	return rest[:end]
}
