// internal/collab/command_test.go
package collab

import (
	"errors"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"insert", `{"op":"insert","document":"d","position":0,"text":"hi"}`, false},
		{"delete", `{"op":"delete","document":"d","position":1,"length":2}`, false},
		{"replace", `{"op":"replace","document":"d","text":"all"}`, false},
		{"not json", `{{`, true},
		{"unknown op", `{"op":"upsert","document":"d"}`, true},
		{"missing document", `{"op":"insert","text":"x"}`, true},
		{"negative position", `{"op":"delete","document":"d","position":-1}`, true},
		{"unknown field", `{"op":"insert","document":"d","color":"red"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tt.payload))
			if tt.wantErr && !errors.Is(err, ErrInvalidCommand) {
				t.Fatalf("err = %v; want ErrInvalidCommand", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		cmd     Command
		max     int
		want    string
		wantErr error
	}{
		{"insert into empty", "", Command{Op: OpInsert, Text: "abc"}, 0, "abc", nil},
		{"insert middle", "ac", Command{Op: OpInsert, Position: 1, Text: "b"}, 0, "abc", nil},
		{"insert at end", "ab", Command{Op: OpInsert, Position: 2, Text: "c"}, 0, "abc", nil},
		{"insert past end", "ab", Command{Op: OpInsert, Position: 3, Text: "c"}, 0, "", ErrInvalidCommand},
		{"delete range", "abcdef", Command{Op: OpDelete, Position: 1, Length: 3}, 0, "aef", nil},
		{"delete past end", "abc", Command{Op: OpDelete, Position: 2, Length: 5}, 0, "", ErrInvalidCommand},
		{"runes not bytes", "привет", Command{Op: OpDelete, Position: 0, Length: 2}, 0, "ивет", nil},
		{"replace", "old", Command{Op: OpReplace, Text: "new"}, 0, "new", nil},
		{"size limit", "1234", Command{Op: OpInsert, Position: 4, Text: "5"}, 4, "", ErrDocumentTooLarge},
		{"size limit exact", "123", Command{Op: OpInsert, Position: 3, Text: "4"}, 4, "1234", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.content, tt.cmd, tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v; want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Apply = %q; want %q", got, tt.want)
			}
		})
	}
}
