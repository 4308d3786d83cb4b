package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Harshitk-cp/mnemo/internal/domain"
)

// ToolHandler executes one operation requested by the LLM and returns its
// output as text to feed back into the conversation.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Toolset is the statically declared table mapping operation name to
// description, parameter schema, and handler. It is built once at startup;
// there is no runtime introspection.
type Toolset struct {
	tools map[string]tool
	order []string
}

type tool struct {
	def     domain.ToolDef
	handler ToolHandler
}

func NewToolset() *Toolset {
	return &Toolset{tools: make(map[string]tool)}
}

func (t *Toolset) Register(def domain.ToolDef, handler ToolHandler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := t.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	t.tools[def.Name] = tool{def: def, handler: handler}
	t.order = append(t.order, def.Name)
	return nil
}

// Defs returns the tool definitions in registration order.
func (t *Toolset) Defs() []domain.ToolDef {
	defs := make([]domain.ToolDef, 0, len(t.order))
	for _, name := range t.order {
		defs = append(defs, t.tools[name].def)
	}
	return defs
}

// ToolResult is the outcome of one tool call. A failed tool degrades to an
// error string fed back to the model; it never aborts the iteration.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output string `json:"output,omitempty"`
	Err    string `json:"error,omitempty"`
}

// ExecuteAll runs the requested calls concurrently and collects results in
// request order. Unknown tool names produce an error result rather than a
// failure, since the model may hallucinate names.
func (t *Toolset) ExecuteAll(ctx context.Context, calls []domain.ToolCallRequest) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call domain.ToolCallRequest) {
			defer wg.Done()
			results[i] = t.execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (t *Toolset) execute(ctx context.Context, call domain.ToolCallRequest) ToolResult {
	result := ToolResult{CallID: call.ID, Name: call.Name}

	registered, ok := t.tools[call.Name]
	if !ok {
		result.Err = fmt.Sprintf("unknown tool: %s", call.Name)
		return result
	}

	output, err := registered.handler(ctx, call.Args)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	result.Output = output
	return result
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %s must be a non-empty string", key)
	}
	return s, nil
}

// buildToolset declares the operations the LLM may request while answering
// a query.
func buildToolset(authData domain.AuthoritativeData) (*Toolset, error) {
	ts := NewToolset()

	err := ts.Register(domain.ToolDef{
		Name:        "invoice_status",
		Description: "Look up invoice statuses for a customer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_id": map[string]any{
					"type":        "string",
					"description": "Canonical customer entity id, e.g. customer_42",
				},
			},
			"required": []string{"customer_id"},
		},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		customerID, err := stringArg(args, "customer_id")
		if err != nil {
			return "", err
		}
		facts, err := authData.InvoiceStatus(ctx, customerID)
		if err != nil {
			return "", err
		}
		return renderFacts(facts), nil
	})
	if err != nil {
		return nil, err
	}

	err = ts.Register(domain.ToolDef{
		Name:        "order_chain",
		Description: "Follow a sales order to its deliveries and invoices.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_number": map[string]any{
					"type":        "string",
					"description": "Sales order number as quoted by the user",
				},
			},
			"required": []string{"order_number"},
		},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		orderNumber, err := stringArg(args, "order_number")
		if err != nil {
			return "", err
		}
		facts, err := authData.OrderChain(ctx, orderNumber)
		if err != nil {
			return "", err
		}
		return renderFacts(facts), nil
	})
	if err != nil {
		return nil, err
	}

	return ts, nil
}

func renderFacts(facts []domain.DomainFact) string {
	if len(facts) == 0 {
		return "no records found"
	}
	out := ""
	for _, f := range facts {
		out += f.Content + "\n"
	}
	return out
}
