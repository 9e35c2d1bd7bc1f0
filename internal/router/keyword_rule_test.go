package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `{
	// tuned from March transcripts
	rules: [
		{
			name: "shipping",
			agent: "product_expert",
			state: "product_discovery",
			confidence: 0.85,
			keywords: ["envío", "envio gratis", "shipping"],
		},
		{
			name: "transfer",
			agent: "closer",
			state: "closing",
			confidence: 0.9,
			keywords: ["transferencia"],
			states: ["qualifying", "product_discovery"],
		},
	],
}`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	res := rules[0].Evaluate(RoutingContext{Message: "¿Hacen ENVIO a Monterrey?"})
	require.NotNil(t, res)
	assert.Equal(t, AgentProductExpert, res.Agent)

	assert.Nil(t, rules[1].Evaluate(RoutingContext{Message: "pago por transferencia", CurrentState: StateGreeting}))
	assert.NotNil(t, rules[1].Evaluate(RoutingContext{Message: "pago por transferencia", CurrentState: StateQualifying}))
}

func TestParseRulesRejectsInvalid(t *testing.T) {
	bad := []string{
		`{rules: [{name: "x", agent: "ceo", state: "closing", confidence: 0.9, keywords: ["a"]}]}`,
		`{rules: [{name: "x", agent: "closer", state: "won", confidence: 0.9, keywords: ["a"]}]}`,
		`{rules: [{name: "x", agent: "closer", state: "closing", confidence: 2, keywords: ["a"]}]}`,
		`{rules: [{name: "x", agent: "closer", state: "closing", confidence: 0.5, keywords: []}]}`,
		`{rules: [{name: "", agent: "closer", state: "closing", confidence: 0.5, keywords: ["a"]}]}`,
		`{rules: [{name: "x", agent: "closer", state: "closing", confidence: 0.5, keywords: ["a"]},
		          {name: "x", agent: "closer", state: "closing", confidence: 0.5, keywords: ["b"]}]}`,
		`{rules: [`,
	}
	for _, doc := range bad {
		_, err := ParseRules([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestRulesWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json5")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	reg := NewRegistry(BuiltinRules()...)
	w := NewRulesWatcher(path, reg)
	require.NoError(t, w.Load())
	assert.Len(t, reg.List(), len(BuiltinRules())+2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	updated := `{rules: [{name: "warranty", agent: "product_expert", state: "product_discovery", confidence: 0.8, keywords: ["garantia"]}]}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		var names []string
		for _, info := range reg.List() {
			if info.Source == SourceFile {
				names = append(names, info.Name)
			}
		}
		return len(names) == 1 && names[0] == "warranty"
	}, 3*time.Second, 50*time.Millisecond)

	// a broken file keeps the previous rules
	require.NoError(t, os.WriteFile(path, []byte(`{rules: [`), 0o600))
	time.Sleep(500 * time.Millisecond)
	assert.Len(t, reg.List(), len(BuiltinRules())+1)

	cancel()
	<-done
}
