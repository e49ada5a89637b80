package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/fileutil"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func validateFormat(value string) error {
	switch value {
	case formatText, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported --format %q (expected text, json or yaml)", value)
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML encodes v as YAML. Values go through JSON first so the json
// struct tags name the keys in both formats.
func writeYAML(cmd *cobra.Command, v any) error {
	return encodeYAML(cmd.OutOrStdout(), v)
}

func encodeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// writeDocumentFile saves v to path atomically, as JSON when the extension
// is .json and as YAML otherwise.
func writeDocumentFile(path string, v any) error {
	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".json") {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else if err := encodeYAML(&buf, v); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return fileutil.WriteAtomic(path, buf.Bytes(), 0o644)
}

// writeStructured writes v in the selected machine format. It reports false
// for text output so the caller renders its own view.
func writeStructured(cmd *cobra.Command, ctx *commandContext, v any) (bool, error) {
	switch ctx.format() {
	case formatJSON:
		return true, writeJSON(cmd, v)
	case formatYAML:
		return true, writeYAML(cmd, v)
	default:
		return false, nil
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorize(writer io.Writer, color, text string) string {
	if color == "" || !shouldColorize(writer) {
		return text
	}
	return color + text + ansiReset
}
