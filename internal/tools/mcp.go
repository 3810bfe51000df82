package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xonecas/symb/internal/mcp"
)

// MCPTool exposes one upstream MCP server tool through the registry, so
// the model calls it like any in-process tool. The proxy handles
// transport, retry-after backoff, and result shaping.
type MCPTool struct {
	Proxy *mcp.Proxy
	Def   mcp.Tool
}

func (t MCPTool) Schema() Schema {
	params := t.Def.InputSchema
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return Schema{
		Name:        t.Def.Name,
		Description: t.Def.Description,
		Parameters:  params,
	}
}

func (t MCPTool) Call(ctx *Context, argsJSON json.RawMessage) (Result, error) {
	res, err := t.Proxy.CallTool(ctx.Context, t.Def.Name, argsJSON)
	if err != nil {
		return Err(fmt.Sprintf("MCP tool %s failed: %v", t.Def.Name, err)), nil
	}

	var b strings.Builder
	for _, block := range res.Content {
		if block.Type == "text" && block.Text != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(block.Text)
		}
	}
	if res.IsError {
		return Err(b.String()), nil
	}
	return Ok(b.String()), nil
}

// RegisterMCPTools connects to the upstream, lists its tools, and
// registers each one. Tools whose names collide with built-ins are
// skipped so the core tool surface can't be shadowed by a remote server.
func RegisterMCPTools(ctx context.Context, reg *Registry, proxy *mcp.Proxy) (int, error) {
	if err := proxy.Initialize(ctx); err != nil {
		return 0, err
	}
	defs, err := proxy.ListTools(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, def := range defs {
		if reg.Lookup(def.Name) != nil {
			continue
		}
		reg.Register(MCPTool{Proxy: proxy, Def: def})
		added++
	}
	return added, nil
}
