package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// maxPageTextBytes bounds the extracted page text fed back to the model.
const maxPageTextBytes = 10000

// BrowserTool drives the sandbox-hosted Chrome instance over the DevTools
// protocol. One tab is kept alive across invocations so page state
// persists between steps.
type BrowserTool struct {
	cdpURL string

	mu          sync.Mutex
	browserCtx  context.Context
	cancelFuncs []context.CancelFunc
}

// NewBrowserTool creates the browser tool for one sandbox's CDP endpoint.
func NewBrowserTool(cdpURL string) *BrowserTool {
	return &BrowserTool{cdpURL: cdpURL}
}

// Name returns "browser".
func (t *BrowserTool) Name() string { return "browser" }

// Close tears down the browser connection.
func (t *BrowserTool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.cancelFuncs) - 1; i >= 0; i-- {
		t.cancelFuncs[i]()
	}
	t.cancelFuncs = nil
	t.browserCtx = nil
}

// ensure lazily connects to the remote browser. The tab context outlives
// individual invocations on purpose.
func (t *BrowserTool) ensure() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browserCtx != nil {
		return t.browserCtx, nil
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), t.cdpURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	t.browserCtx = browserCtx
	t.cancelFuncs = []context.CancelFunc{allocCancel, browserCancel}
	return browserCtx, nil
}

func (t *BrowserTool) run(actions ...chromedp.Action) error {
	ctx, err := t.ensure()
	if err != nil {
		return err
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("browser action: %w", err)
	}
	return nil
}

// view captures the current page state for the model.
func (t *BrowserTool) view() (*models.ToolResult, error) {
	var title, location, text string
	err := t.run(
		chromedp.Title(&title),
		chromedp.Location(&location),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return nil, err
	}
	if len(text) > maxPageTextBytes {
		text = text[:maxPageTextBytes] + "\n... (truncated)"
	}
	return models.OkData("", map[string]any{
		"title":   title,
		"url":     location,
		"content": text,
	}), nil
}

// Functions lists the browser functions.
func (t *BrowserTool) Functions() []Function {
	return []Function{
		{
			Name:        "browser_navigate",
			Description: "Navigate browser to a specified URL. Use when accessing new pages is needed.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "Complete URL to visit, must include protocol prefix"}
				},
				"required": ["url"]
			}`),
			Handler: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
				if err := t.run(chromedp.Navigate(stringArg(args, "url"))); err != nil {
					return nil, err
				}
				return t.view()
			},
		},
		{
			Name:        "browser_view",
			Description: "View the content of the current browser page. Use for checking the latest state of previously opened pages.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(_ context.Context, _ map[string]any) (*models.ToolResult, error) {
				return t.view()
			},
		},
		{
			Name:        "browser_click",
			Description: "Click on an element at the given coordinates in the current browser page.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"coordinate_x": {"type": "number", "description": "X coordinate of click position"},
					"coordinate_y": {"type": "number", "description": "Y coordinate of click position"}
				},
				"required": ["coordinate_x", "coordinate_y"]
			}`),
			Handler: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
				x, y := floatArg(args, "coordinate_x"), floatArg(args, "coordinate_y")
				if err := t.run(chromedp.MouseClickXY(x, y)); err != nil {
					return nil, err
				}
				return t.view()
			},
		},
		{
			Name:        "browser_input",
			Description: "Click at the given coordinates and type text into the focused element. Use for filling content in input fields.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"coordinate_x": {"type": "number", "description": "X coordinate of the input field"},
					"coordinate_y": {"type": "number", "description": "Y coordinate of the input field"},
					"text": {"type": "string", "description": "Complete text content to input"},
					"press_enter": {"type": "boolean", "description": "Whether to press Enter key after input"}
				},
				"required": ["coordinate_x", "coordinate_y", "text", "press_enter"]
			}`),
			Handler: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
				x, y := floatArg(args, "coordinate_x"), floatArg(args, "coordinate_y")
				actions := []chromedp.Action{
					chromedp.MouseClickXY(x, y),
					input.InsertText(stringArg(args, "text")),
				}
				if boolArg(args, "press_enter") {
					actions = append(actions, chromedp.KeyEvent("\r"))
				}
				if err := t.run(actions...); err != nil {
					return nil, err
				}
				return t.view()
			},
		},
		{
			Name:        "browser_press_key",
			Description: "Simulate a key press in the current browser page. Use when specific keyboard operations are needed.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"key": {"type": "string", "description": "Key name to simulate (e.g. Enter, Tab, ArrowUp)"}
				},
				"required": ["key"]
			}`),
			Handler: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
				if err := t.run(chromedp.KeyEvent(stringArg(args, "key"))); err != nil {
					return nil, err
				}
				return models.Ok(""), nil
			},
		},
		{
			Name:        "browser_scroll_down",
			Description: "Scroll down the current browser page. Use for viewing content below the fold.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(_ context.Context, _ map[string]any) (*models.ToolResult, error) {
				if err := t.run(chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil)); err != nil {
					return nil, err
				}
				return t.view()
			},
		},
		{
			Name:        "browser_scroll_up",
			Description: "Scroll up the current browser page. Use for returning to content above.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler: func(_ context.Context, _ map[string]any) (*models.ToolResult, error) {
				if err := t.run(chromedp.Evaluate(`window.scrollBy(0, -window.innerHeight)`, nil)); err != nil {
					return nil, err
				}
				return t.view()
			},
		},
		{
			Name:        "browser_console_exec",
			Description: "Execute JavaScript code in the browser console. Use when custom scripts need to be run.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"javascript": {"type": "string", "description": "JavaScript code to execute"}
				},
				"required": ["javascript"]
			}`),
			Handler: func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
				var result json.RawMessage
				if err := t.run(chromedp.Evaluate(stringArg(args, "javascript"), &result)); err != nil {
					return nil, err
				}
				return models.OkData("", map[string]any{"result": result}), nil
			},
		},
	}
}
