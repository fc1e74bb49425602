// ABOUTME: Thread-safe registry of in-process tool packs.
// ABOUTME: Validates tool definitions on registration and filters tools by caller capability.

package packs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrPackAlreadyRegistered indicates a pack with the same ID is already registered.
	ErrPackAlreadyRegistered = errors.New("pack already registered")

	// ErrToolCollision indicates a tool name is already taken.
	ErrToolCollision = errors.New("tool name collision")

	// ErrInvalidTool indicates a tool without a name, handler, or object input schema.
	ErrInvalidTool = errors.New("invalid tool")
)

// PackInfo describes a registered pack for display.
type PackInfo struct {
	ID    string
	Tools []*BuiltinTool // sorted by name
}

// Registry holds registered packs. A tool name is unique across all packs.
type Registry struct {
	mu     sync.RWMutex
	order  []string                // pack IDs in registration order
	byPack map[string]*BuiltinPack // pack ID -> pack
	byTool map[string]*BuiltinTool // tool name -> tool
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byPack: make(map[string]*BuiltinPack),
		byTool: make(map[string]*BuiltinTool),
		logger: logger.With("component", "packs"),
	}
}

// RegisterBuiltinPack adds a pack. It fails with ErrPackAlreadyRegistered,
// ErrToolCollision, or ErrInvalidTool and then registers nothing.
func (r *Registry) RegisterBuiltinPack(pack *BuiltinPack) error {
	if pack == nil || pack.ID == "" {
		return fmt.Errorf("%w: pack without ID", ErrInvalidTool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPack[pack.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPackAlreadyRegistered, pack.ID)
	}
	if err := r.checkPack(pack); err != nil {
		return err
	}

	for _, tool := range pack.Tools {
		r.byTool[tool.Definition.Name] = tool
	}
	r.byPack[pack.ID] = pack
	r.order = append(r.order, pack.ID)

	r.logger.Info("pack registered", "pack_id", pack.ID, "tools", len(pack.Tools), "total_tools", len(r.byTool))
	return nil
}

// checkPack validates every tool of pack against itself and the registry.
// Caller holds r.mu.
func (r *Registry) checkPack(pack *BuiltinPack) error {
	names := make(map[string]bool, len(pack.Tools))
	for i, tool := range pack.Tools {
		if err := validateTool(tool); err != nil {
			return fmt.Errorf("%w: pack %s tool %d: %v", ErrInvalidTool, pack.ID, i, err)
		}
		name := tool.Definition.Name
		if names[name] {
			return fmt.Errorf("%w: %q appears twice in pack %s", ErrToolCollision, name, pack.ID)
		}
		if owner := r.ownerOf(name); owner != "" {
			return fmt.Errorf("%w: %q already registered by pack %s", ErrToolCollision, name, owner)
		}
		names[name] = true
	}
	return nil
}

func (r *Registry) ownerOf(tool string) string {
	if _, ok := r.byTool[tool]; !ok {
		return ""
	}
	for _, id := range r.order {
		if slices.ContainsFunc(r.byPack[id].Tools, func(t *BuiltinTool) bool { return t.Definition.Name == tool }) {
			return id
		}
	}
	return ""
}

func validateTool(tool *BuiltinTool) error {
	switch {
	case tool == nil || tool.Definition == nil:
		return errors.New("missing definition")
	case strings.TrimSpace(tool.Definition.Name) == "":
		return errors.New("empty name")
	case tool.Handler == nil:
		return fmt.Errorf("%s has no handler", tool.Definition.Name)
	}

	var schema struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(tool.Definition.InputSchemaJSON), &schema); err != nil {
		return fmt.Errorf("%s input schema: %v", tool.Definition.Name, err)
	}
	if schema.Type != "object" {
		return fmt.Errorf("%s input schema must have type object", tool.Definition.Name)
	}
	return nil
}

// Tool returns the tool registered under name, or nil.
func (r *Registry) Tool(name string) *BuiltinTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTool[name]
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	return r.Tool(name) != nil
}

// Packs returns registered packs sorted by ID.
func (r *Registry) Packs() []PackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PackInfo, 0, len(r.order))
	for _, id := range r.order {
		tools := slices.Clone(r.byPack[id].Tools)
		slices.SortFunc(tools, func(a, b *BuiltinTool) int {
			return strings.Compare(a.Definition.Name, b.Definition.Name)
		})
		infos = append(infos, PackInfo{ID: id, Tools: tools})
	}
	slices.SortFunc(infos, func(a, b PackInfo) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// GetToolsForCapabilities returns, sorted by name, the definitions of tools
// whose required capabilities are all in caps.
func (r *Registry) GetToolsForCapabilities(caps []string) []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []*ToolDefinition
	for _, tool := range r.byTool {
		if grants(caps, tool.Definition.RequiredCapabilities) {
			defs = append(defs, tool.Definition)
		}
	}
	slices.SortFunc(defs, func(a, b *ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

func grants(caps, required []string) bool {
	for _, want := range required {
		if !slices.Contains(caps, want) {
			return false
		}
	}
	return true
}

// Close drops every pack. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := len(r.byTool)
	r.order = nil
	r.byPack = make(map[string]*BuiltinPack)
	r.byTool = make(map[string]*BuiltinTool)
	r.logger.Info("registry closed", "tools_cleared", cleared)
}
