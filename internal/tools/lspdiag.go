package tools

import (
	"time"

	"github.com/xonecas/symb/internal/lsp"
)

// lspDiagTimeout bounds how long a file-mutating tool waits for the
// language server to re-analyze before returning without diagnostics.
const lspDiagTimeout = 5 * time.Second

// lspDiagnostics notifies the language server that absPath changed and
// returns the formatted diagnostics for appending to the tool's output.
// Empty when no server is configured or the file is clean.
func lspDiagnostics(ctx *Context, absPath, displayPath string) string {
	if ctx.LSP == nil {
		return ""
	}
	diags := ctx.LSP.NotifyAndWait(ctx.Context, absPath, lspDiagTimeout)
	return lsp.FormatDiagnostics(displayPath, diags)
}

// lspTouch tells the language server a file was opened/read, priming
// diagnostics for later edits. No-op without a server.
func lspTouch(ctx *Context, absPath string) {
	if ctx.LSP != nil {
		ctx.LSP.TouchFile(ctx.Context, absPath)
	}
}
