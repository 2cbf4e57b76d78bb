package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/storage"
)

// RegisterArchiveTools exposes the object-store archive. Only wired
// when storage is configured.
func RegisterArchiveTools(registry *Registry, client *storage.Client, dataDir string) {
	archiveTool := llm.Tool{
		Name:        "archive_file",
		Description: "Copy a local file into long-term object storage so it survives cleanup of the local disk. Use when the user asks to keep something.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Absolute path of the local file"},
			},
			"required": []string{"path"},
		},
	}

	registry.Register(archiveTool, false, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		path := filepath.Clean(params.Path)
		if !underDir(path, dataDir) && !strings.Contains(path, "/.pawd/") {
			return "", fmt.Errorf("path outside allowed directories: %s", path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}

		name := filepath.Base(path)
		contentType := mime.TypeByExtension(filepath.Ext(name))
		if err := client.Archive(ctx, name, data, contentType); err != nil {
			return "", err
		}
		return fmt.Sprintf("Archived %s (%d bytes)", name, len(data)), nil
	})

	listTool := llm.Tool{
		Name:        "list_archive",
		Description: "List files previously stored in the long-term archive.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prefix": map[string]any{"type": "string", "description": "Optional name prefix filter"},
			},
		},
	}

	registry.Register(listTool, true, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Prefix string `json:"prefix"`
		}
		if args != "" {
			if err := json.Unmarshal([]byte(args), &params); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
		}

		objects, err := client.ListArchived(ctx, params.Prefix)
		if err != nil {
			return "", err
		}
		if len(objects) == 0 {
			return "Archive is empty.", nil
		}

		var sb strings.Builder
		for _, obj := range objects {
			fmt.Fprintf(&sb, "%s  %d bytes  %s\n", obj.Name, obj.Size, obj.ModTime)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	})

	retrieveTool := llm.Tool{
		Name:        "retrieve_archive",
		Description: "Fetch a file back from the long-term archive so it can be sent to the user. Returns the local path.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "description": "Object name as shown by list_archive"},
			},
			"required": []string{"name"},
		},
	}

	registry.Register(retrieveTool, true, func(ctx context.Context, args string) (string, error) {
		var params struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}

		name := filepath.Base(params.Name)
		data, err := client.FetchArchived(ctx, params.Name)
		if err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", params.Name, err)
		}

		dir := filepath.Join(dataDir, "retrieved")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", err
		}

		return fmt.Sprintf("Retrieved to %s\n<!-- media:%s -->", path, path), nil
	})
}
