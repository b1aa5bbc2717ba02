// internal/collab/command.go
package collab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrInvalidCommand — команду нельзя декодировать или применить.
	ErrInvalidCommand = errors.New("collab: invalid command")
	// ErrDocumentTooLarge — результат превышает collab.max_document_size.
	ErrDocumentTooLarge = errors.New("collab: document too large")
)

// Op — тип правки.
type Op string

const (
	OpInsert  Op = "insert"
	OpDelete  Op = "delete"
	OpReplace Op = "replace"
)

// Command — правка документа. Позиции считаются в рунах.
type Command struct {
	Op       Op     `json:"op"`
	Document string `json:"document"`
	Position int    `json:"position,omitempty"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

// CommandSchema — JSON Schema payload'ов топика команд; брокер отсекает
// невалидные команды ещё на публикации.
var CommandSchema = []byte(`{
	"type": "object",
	"required": ["op", "document"],
	"properties": {
		"op":       {"type": "string", "enum": ["insert", "delete", "replace"]},
		"document": {"type": "string", "minLength": 1, "maxLength": 256},
		"position": {"type": "integer", "minimum": 0},
		"length":   {"type": "integer", "minimum": 0},
		"text":     {"type": "string"}
	}
}`)

// DecodeCommand разбирает payload записи.
func DecodeCommand(payload []byte) (Command, error) {
	var c Command
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command{}, fmt.Errorf("%w: decode: %v", ErrInvalidCommand, err)
	}
	if c.Document == "" {
		return Command{}, fmt.Errorf("%w: empty document id", ErrInvalidCommand)
	}
	if c.Position < 0 || c.Length < 0 {
		return Command{}, fmt.Errorf("%w: negative position or length", ErrInvalidCommand)
	}
	switch c.Op {
	case OpInsert, OpReplace:
		if !utf8.ValidString(c.Text) {
			return Command{}, fmt.Errorf("%w: text is not valid utf-8", ErrInvalidCommand)
		}
	case OpDelete:
	default:
		return Command{}, fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, c.Op)
	}
	return c, nil
}

// Apply применяет команду к содержимому документа. maxSize ≤ 0 — без лимита.
func Apply(content string, c Command, maxSize int) (string, error) {
	runes := []rune(content)
	var out string

	switch c.Op {
	case OpInsert:
		if c.Position > len(runes) {
			return "", fmt.Errorf("%w: insert at %d beyond length %d", ErrInvalidCommand, c.Position, len(runes))
		}
		out = string(runes[:c.Position]) + c.Text + string(runes[c.Position:])
	case OpDelete:
		end := c.Position + c.Length
		if end > len(runes) {
			return "", fmt.Errorf("%w: delete [%d,%d) beyond length %d", ErrInvalidCommand, c.Position, end, len(runes))
		}
		out = string(runes[:c.Position]) + string(runes[end:])
	case OpReplace:
		out = c.Text
	default:
		return "", fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, c.Op)
	}

	if maxSize > 0 && len(out) > maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrDocumentTooLarge, len(out), maxSize)
	}
	return out, nil
}
