package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bowerhall/pawd/internal/llm"
)

const maxReadBytes = 64 * 1024

// RegisterFileTools exposes file access rooted at dataDir. Generated
// files land under outputDir and are announced with a media tag so the
// channel layer can deliver them.
func RegisterFileTools(registry *Registry, dataDir, outputDir string) {
	registerSaveFile(registry, outputDir)
	registerReadFile(registry, dataDir, outputDir)
}

func registerSaveFile(registry *Registry, outputDir string) {
	tool := llm.Tool{
		Name:        "save_file",
		Description: "Save content to a new file in the generated-output directory. Use this to produce files the user asked for (notes, scripts, exports). Returns the saved path.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string", "description": "File name, no directories"},
				"content": map[string]any{"type": "string", "description": "File content"},
			},
			"required": []string{"name", "content"},
		},
	}

	registry.Register(tool, false, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		name := filepath.Base(params.Name)
		if name == "" || name == "." || name == "/" {
			return "", fmt.Errorf("invalid file name: %q", params.Name)
		}

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create output dir: %w", err)
		}

		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", name, err)
		}

		return fmt.Sprintf("Saved to %s\n<!-- media:%s -->", path, path), nil
	})
}

func registerReadFile(registry *Registry, dataDir, outputDir string) {
	tool := llm.Tool{
		Name:        "read_file",
		Description: "Read a text file from the data or generated-output directory. Use for files the user attached or files you saved earlier.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Absolute path of the file to read"},
			},
			"required": []string{"path"},
		},
	}

	registry.Register(tool, true, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		path := filepath.Clean(params.Path)
		if !underDir(path, dataDir) && !underDir(path, outputDir) {
			return "", fmt.Errorf("path outside allowed directories: %s", path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(data) > maxReadBytes {
			data = data[:maxReadBytes]
		}
		return string(data), nil
	})
}

func underDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return abs == absDir || strings.HasPrefix(abs, absDir+string(filepath.Separator))
}
