package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
)

const maxReadBytes = 512 * 1024

// RegisterFileActions wires the file category onto the executor.
func RegisterFileActions(e *Executor) {
	e.Register("read_file", readFile)
	e.Register("write_file", writeFile)
	e.Register("edit_file", editFile)
	e.Register("delete_file", deleteFile)
	e.Register("list_directory", listDirectory)
	e.Register("create_directory", createDirectory)
}

func readFile(_ context.Context, p Params) (Output, error) {
	path := p.String("path")
	info, err := os.Stat(path)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindNotFound, "read_file", err)
	}
	if info.IsDir() {
		return Output{}, nexuserr.Newf(nexuserr.KindValidation, "read_file: %s is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return Output{}, nexuserr.Newf(nexuserr.KindValidation, "read_file: %s is %d bytes, over the %d byte limit", path, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "read_file", err)
	}
	return Output{
		Text:      string(data),
		Data:      map[string]any{"path": path, "size": len(data)},
		Objective: objective(true),
	}, nil
}

func writeFile(_ context.Context, p Params) (Output, error) {
	path := p.String("path")
	content := p.String("content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "write_file: create parent", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "write_file", err)
	}
	// Objective check: the write is real only if the file reads back.
	readable := false
	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(content)) {
		readable = true
	}
	return Output{
		Text:      fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Data:      map[string]any{"path": path, "bytes": len(content)},
		Objective: objective(readable),
	}, nil
}

func editFile(_ context.Context, p Params) (Output, error) {
	path := p.String("path")
	old := p.String("old")
	newText := p.String("new")
	if old == "" {
		return Output{}, nexuserr.New(nexuserr.KindValidation, "edit_file: old must be non-empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindNotFound, "edit_file", err)
	}
	content := string(data)
	if !strings.Contains(content, old) {
		return Output{}, nexuserr.Newf(nexuserr.KindNotFound, "edit_file: old text not found in %s", path)
	}
	updated := strings.Replace(content, old, newText, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "edit_file", err)
	}
	return Output{
		Text:      fmt.Sprintf("replaced first occurrence in %s", path),
		Data:      map[string]any{"path": path, "bytes": len(updated)},
		Objective: objective(strings.Contains(updated, newText)),
	}, nil
}

func deleteFile(_ context.Context, p Params) (Output, error) {
	path := p.String("path")
	info, err := os.Stat(path)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindNotFound, "delete_file", err)
	}
	if info.IsDir() {
		return Output{}, nexuserr.Newf(nexuserr.KindValidation, "delete_file: %s is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "delete_file", err)
	}
	_, statErr := os.Stat(path)
	return Output{
		Text:      fmt.Sprintf("deleted %s", path),
		Data:      map[string]any{"path": path},
		Objective: objective(os.IsNotExist(statErr)),
	}, nil
}

func listDirectory(_ context.Context, p Params) (Output, error) {
	path := p.String("path")
	entries, err := os.ReadDir(path)
	if err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindNotFound, "list_directory", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	const maxEntries = 500
	names := make([]string, 0, len(entries))
	items := make([]map[string]any, 0, len(entries))
	for i, ent := range entries {
		if i == maxEntries {
			break
		}
		name := ent.Name()
		if ent.IsDir() {
			name += "/"
		}
		names = append(names, name)
		item := map[string]any{"name": ent.Name(), "dir": ent.IsDir()}
		if info, err := ent.Info(); err == nil && !ent.IsDir() {
			item["size"] = info.Size()
		}
		items = append(items, item)
	}
	return Output{
		Text:      strings.Join(names, "\n"),
		Data:      map[string]any{"path": path, "entries": items, "total": len(entries)},
		Objective: objective(true),
	}, nil
}

func createDirectory(_ context.Context, p Params) (Output, error) {
	path := p.String("path")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Output{}, nexuserr.Wrap(nexuserr.KindInternal, "create_directory", err)
	}
	info, err := os.Stat(path)
	return Output{
		Text:      fmt.Sprintf("created %s", path),
		Data:      map[string]any{"path": path},
		Objective: objective(err == nil && info.IsDir()),
	}, nil
}
