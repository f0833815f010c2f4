package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/uia2-server/pkg/actions"
	"github.com/devicelab-dev/uia2-server/pkg/core"
	"github.com/devicelab-dev/uia2-server/pkg/session"
	"github.com/devicelab-dev/uia2-server/pkg/settings"
	"github.com/devicelab-dev/uia2-server/pkg/uitree/fake"
)

const tree = `
root:
  class: android.widget.FrameLayout
  bounds: {x: 0, y: 0, width: 1080, height: 1920}
  children:
    - resourceId: com.example:id/login
      class: android.widget.Button
      text: Log in
      description: login
      bounds: {x: 100, y: 100, width: 300, height: 120}
    - resourceId: com.example:id/offscreen
      class: android.widget.Button
      text: Hidden
      bounds: {x: 0, y: 1800, width: 300, height: 120}
      visibleBounds: {x: 0, y: 0, width: 0, height: 0}
    - resourceId: com.example:id/list
      class: android.widget.ListView
      bounds: {x: 0, y: 400, width: 1080, height: 400}
      children:
        - class: android.widget.TextView
          text: First
          bounds: {x: 0, y: 400, width: 1080, height: 200}
        - class: android.widget.TextView
          text: Second
          bounds: {x: 0, y: 600, width: 1080, height: 200}
`

type recordingInjector struct {
	chains []actions.Chain
	opts   []InjectOptions
	err    error
}

func (r *recordingInjector) Perform(_ context.Context, chain actions.Chain, opts InjectOptions) error {
	r.chains = append(r.chains, chain)
	r.opts = append(r.opts, opts)
	return r.err
}

func newEnv(t *testing.T) (*Env, *fake.Tree, *recordingInjector) {
	t.Helper()
	ft, err := fake.Parse([]byte(tree))
	if err != nil {
		t.Fatalf("parse tree: %v", err)
	}
	inj := &recordingInjector{}
	env := &Env{
		// Failed lookups return at once unless a test asks for a wait.
		Sessions: session.NewRegistry(ft, nil, map[string]interface{}{settings.WaitForSelectorTimeout: 0}),
		Injector: inj,
		Version:  "test",
	}
	return env, ft, inj
}

func newSession(t *testing.T, env *Env) string {
	t.Helper()
	s, _, err := env.CreateSession([]byte(`{"capabilities":{"alwaysMatch":{"platformName":"Android"}}}`))
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return s.ID
}

func assertKind(t *testing.T, err error, want core.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := core.KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (%v)", got, want, err)
	}
}

func handleOf(t *testing.T, v interface{}) string {
	t.Helper()
	ref, ok := v.(map[string]interface{})
	if !ok {
		t.Fatalf("value %T is not an element reference", v)
	}
	h, _ := ref[ElementKey].(string)
	if h == "" || ref[W3CElementKey] != h {
		t.Fatalf("bad element reference %v", ref)
	}
	return h
}

func TestStatus(t *testing.T) {
	env, _, _ := newEnv(t)
	v, err := env.Status()
	if err != nil {
		t.Fatal(err)
	}
	m := v.(map[string]interface{})
	if m["ready"] != true || m["message"] != StatusMessage {
		t.Errorf("Status() = %v", m)
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    map[string]interface{}
		errKind core.Kind
	}{
		{
			name: "always and first match",
			body: `{"capabilities":{"alwaysMatch":{"a":1},"firstMatch":[{"b":"x"},{"c":true}]}}`,
			want: map[string]interface{}{"a": float64(1), "b": "x"},
		},
		{
			name: "flat capabilities",
			body: `{"capabilities":{"platformName":"Android"}}`,
			want: map[string]interface{}{"platformName": "Android"},
		},
		{
			name: "desired capabilities",
			body: `{"desiredCapabilities":{"deviceName":"emu"}}`,
			want: map[string]interface{}{"deviceName": "emu"},
		},
		{
			name: "empty body",
			body: ``,
			want: map[string]interface{}{},
		},
		{
			name:    "duplicate key",
			body:    `{"capabilities":{"alwaysMatch":{"a":1},"firstMatch":[{"a":2}]}}`,
			errKind: core.KindSessionNotCreated,
		},
		{
			name:    "malformed",
			body:    `{"capabilities":`,
			errKind: core.KindJSONDecode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _, _ := newEnv(t)
			s, _, err := env.CreateSession([]byte(tt.body))
			if tt.errKind != core.KindUnknown {
				assertKind(t, err, tt.errKind)
				return
			}
			if err != nil {
				t.Fatalf("CreateSession() error: %v", err)
			}
			if len(s.Capabilities) != len(tt.want) {
				t.Fatalf("capabilities = %v, want %v", s.Capabilities, tt.want)
			}
			for k, v := range tt.want {
				if s.Capabilities[k] != v {
					t.Errorf("capability %s = %v, want %v", k, s.Capabilities[k], v)
				}
			}
		})
	}
}

func TestSessionCommands(t *testing.T) {
	env, _, _ := newEnv(t)
	deleted := 0
	env.OnSessionDeleted = func() { deleted++ }

	_, err := env.GetSession("nope")
	assertKind(t, err, core.KindNoSession)

	id := newSession(t, env)
	v, err := env.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if v.(map[string]interface{})["platformName"] != "Android" {
		t.Errorf("GetSession() = %v", v)
	}

	list, _ := env.ListSessions()
	if got := list.([]map[string]interface{}); len(got) != 1 || got[0]["id"] != id {
		t.Errorf("ListSessions() = %v", got)
	}

	if _, err := env.DeleteSession(id); err != nil {
		t.Fatalf("DeleteSession() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("OnSessionDeleted ran %d times, want 1", deleted)
	}
	_, err = env.DeleteSession(id)
	assertKind(t, err, core.KindNoSession)
	if deleted != 1 {
		t.Error("OnSessionDeleted ran for a failed delete")
	}

	list, _ = env.ListSessions()
	if got := list.([]map[string]interface{}); len(got) != 0 {
		t.Errorf("ListSessions() after delete = %v", got)
	}
}

func TestFindElement(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)
	ctx := context.Background()

	v, err := env.FindElement(ctx, id, "", []byte(`{"strategy":"id","selector":"login"}`))
	if err != nil {
		t.Fatalf("FindElement() error: %v", err)
	}
	h := handleOf(t, v)

	// W3C spelling resolves to the same cached handle.
	v, err = env.FindElement(ctx, id, "", []byte(`{"using":"accessibility id","value":"login"}`))
	if err != nil {
		t.Fatalf("FindElement(w3c) error: %v", err)
	}
	if got := handleOf(t, v); got != h {
		t.Errorf("handle = %s, want %s", got, h)
	}

	text, err := env.Text(ctx, id, h)
	if err != nil || text != "Log in" {
		t.Errorf("Text() = %v, %v", text, err)
	}
	rect, err := env.Rect(ctx, id, h)
	if err != nil {
		t.Fatal(err)
	}
	if b := rect.(core.Bounds); b.X != 100 || b.Width != 300 {
		t.Errorf("Rect() = %+v", b)
	}
	cls, err := env.Attribute(ctx, id, h, "class")
	if err != nil || cls != "android.widget.Button" {
		t.Errorf("Attribute(class) = %v, %v", cls, err)
	}
	_, err = env.Attribute(ctx, id, h, "bogus")
	assertKind(t, err, core.KindNoSuchAttribute)
}

func TestFindElementErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want core.Kind
	}{
		{"no match", `{"strategy":"id","selector":"missing"}`, core.KindElementNotFound},
		{"bad strategy", `{"strategy":"magic","selector":"x"}`, core.KindInvalidSelector},
		{"bad xpath", `{"strategy":"xpath","selector":"not xpath"}`, core.KindUnparseableSelector},
		{"malformed body", `{"strategy":`, core.KindJSONDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _, _ := newEnv(t)
			id := newSession(t, env)
			_, err := env.FindElement(context.Background(), id, "", []byte(tt.body))
			assertKind(t, err, tt.want)
		})
	}
}

func TestFindElementNoSession(t *testing.T) {
	env, _, _ := newEnv(t)
	_, err := env.FindElement(context.Background(), "nope", "", []byte(`{"strategy":"id","selector":"login"}`))
	assertKind(t, err, core.KindNoSession)
}

func TestFindElementsScoped(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)
	ctx := context.Background()

	list, err := env.FindElement(ctx, id, "", []byte(`{"strategy":"id","selector":"list"}`))
	if err != nil {
		t.Fatal(err)
	}
	scope := handleOf(t, list)

	v, err := env.FindElements(ctx, id, scope, []byte(`{"strategy":"class name","selector":"android.widget.TextView"}`))
	if err != nil {
		t.Fatalf("FindElements() error: %v", err)
	}
	refs := v.([]map[string]interface{})
	if len(refs) != 2 {
		t.Fatalf("found %d elements, want 2", len(refs))
	}
	first, _ := env.Text(ctx, id, refs[0][ElementKey].(string))
	second, _ := env.Text(ctx, id, refs[1][ElementKey].(string))
	if first != "First" || second != "Second" {
		t.Errorf("texts = %v, %v", first, second)
	}

	// An empty result is a successful empty list.
	v, err = env.FindElements(ctx, id, scope, []byte(`{"strategy":"id","selector":"login"}`))
	if err != nil {
		t.Fatalf("FindElements(none) error: %v", err)
	}
	if got := v.([]map[string]interface{}); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestRedrawRestoresSingleElement(t *testing.T) {
	env, ft, _ := newEnv(t)
	id := newSession(t, env)
	ctx := context.Background()

	v, err := env.FindElement(ctx, id, "", []byte(`{"strategy":"id","selector":"login"}`))
	if err != nil {
		t.Fatal(err)
	}
	h := handleOf(t, v)
	ft.Redraw()

	text, err := env.Text(ctx, id, h)
	if err != nil || text != "Log in" {
		t.Fatalf("Text() after redraw = %v, %v", text, err)
	}

	// The handle now points at the redrawn node.
	v, err = env.FindElement(ctx, id, "", []byte(`{"strategy":"id","selector":"login"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := handleOf(t, v); got != h {
		t.Errorf("handle after restore = %s, want %s", got, h)
	}
}

func TestStaleElement(t *testing.T) {
	env, ft, _ := newEnv(t)
	id := newSession(t, env)
	ctx := context.Background()

	v, err := env.FindElements(ctx, id, "", []byte(`{"strategy":"id","selector":"list"}`))
	if err != nil {
		t.Fatal(err)
	}
	refs := v.([]map[string]interface{})
	if len(refs) != 1 {
		t.Fatalf("found %d lists, want 1", len(refs))
	}
	h := refs[0][ElementKey].(string)
	ft.Redraw()

	// Multi-match lookups keep no locator, so they cannot be restored.
	_, err = env.Text(ctx, id, h)
	assertKind(t, err, core.KindStaleElement)
	_, err = env.FindElements(ctx, id, h, []byte(`{"strategy":"class name","selector":"android.widget.TextView"}`))
	assertKind(t, err, core.KindStaleElement)

	// A fresh lookup issues a new handle for the redrawn node.
	v, err = env.FindElement(ctx, id, "", []byte(`{"strategy":"id","selector":"list"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := handleOf(t, v); got == h {
		t.Errorf("redrawn element reused stale handle %s", h)
	}
}

func TestScopedFindRestoresContext(t *testing.T) {
	env, ft, _ := newEnv(t)
	id := newSession(t, env)
	ctx := context.Background()

	v, err := env.FindElement(ctx, id, "", []byte(`{"strategy":"id","selector":"list"}`))
	if err != nil {
		t.Fatal(err)
	}
	scope := handleOf(t, v)
	ft.Redraw()

	v, err = env.FindElement(ctx, id, scope, []byte(`{"strategy":"class name","selector":"android.widget.TextView"}`))
	if err != nil {
		t.Fatalf("scoped FindElement() after redraw error: %v", err)
	}
	if text, _ := env.Text(ctx, id, handleOf(t, v)); text != "First" {
		t.Errorf("Text() = %v, want First", text)
	}
}

func TestInvisibleElements(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)
	ctx := context.Background()
	body := []byte(`{"strategy":"id","selector":"offscreen"}`)

	_, err := env.FindElement(ctx, id, "", body)
	assertKind(t, err, core.KindElementNotFound)

	v, err := env.FindElements(ctx, id, "", []byte(`{"strategy":"class name","selector":"android.widget.Button"}`))
	if err != nil {
		t.Fatal(err)
	}
	if refs := v.([]map[string]interface{}); len(refs) != 1 {
		t.Errorf("found %d buttons, want only the visible one", len(refs))
	}

	if _, err := env.UpdateSettings(id, []byte(`{"settings":{"allowInvisibleElements":true}}`)); err != nil {
		t.Fatal(err)
	}
	v, err = env.FindElement(ctx, id, "", body)
	if err != nil {
		t.Fatalf("FindElement() with allowInvisibleElements error: %v", err)
	}
	if text, _ := env.Text(ctx, id, handleOf(t, v)); text != "Hidden" {
		t.Errorf("Text() = %v, want Hidden", text)
	}
}

func TestFindElementWaitsForSelector(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)
	if _, err := env.UpdateSettings(id, []byte(`{"settings":{"waitForSelectorTimeout":300}}`)); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := env.FindElement(context.Background(), id, "", []byte(`{"strategy":"id","selector":"missing"}`))
	assertKind(t, err, core.KindElementNotFound)
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("FindElement() gave up after %s, want at least 300ms", elapsed)
	}
}

func TestUnknownHandle(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)
	_, err := env.Text(context.Background(), id, "999")
	assertKind(t, err, core.KindElementNotFound)
}

func TestElementResponseAttributes(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)
	_, err := env.UpdateSettings(id, []byte(`{"settings":{"shouldUseCompactResponses":false,"elementResponseAttributes":"text, class,bogus"}}`))
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	v, err := env.FindElement(context.Background(), id, "", []byte(`{"strategy":"id","selector":"login"}`))
	if err != nil {
		t.Fatal(err)
	}
	ref := v.(map[string]interface{})
	if ref["text"] != "Log in" || ref["class"] != "android.widget.Button" {
		t.Errorf("element reference = %v", ref)
	}
	if _, ok := ref["bogus"]; ok {
		t.Error("unknown attribute included in reference")
	}
}

func TestSettings(t *testing.T) {
	env, _, _ := newEnv(t)
	id := newSession(t, env)

	tests := []struct {
		name string
		body string
		want core.Kind
	}{
		{"unknown setting", `{"settings":{"noSuchSetting":1}}`, core.KindUnsupportedSetting},
		{"wrong type", `{"settings":{"keyInjectionDelay":"fast"}}`, core.KindInvalidArgument},
		{"missing object", `{}`, core.KindInvalidArgument},
		{"malformed", `{"settings":`, core.KindJSONDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.UpdateSettings(id, []byte(tt.body))
			assertKind(t, err, tt.want)
		})
	}

	if _, err := env.UpdateSettings(id, []byte(`{"settings":{"keyInjectionDelay":25}}`)); err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	v, err := env.GetSettings(id)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.(map[string]interface{})["keyInjectionDelay"]; got != int64(25) {
		t.Errorf("keyInjectionDelay = %v (%T), want 25", got, got)
	}
}

func TestPerformActions(t *testing.T) {
	env, _, inj := newEnv(t)
	id := newSession(t, env)
	if _, err := env.UpdateSettings(id, []byte(`{"settings":{"keyInjectionDelay":40}}`)); err != nil {
		t.Fatal(err)
	}

	body := `{"actions":[{"type":"pointer","id":"finger1","parameters":{"pointerType":"touch"},"actions":[
		{"type":"pointerMove","duration":0,"x":100,"y":100},
		{"type":"pointerDown","button":0},
		{"type":"pointerCancel"},
		{"type":"pointerUp","button":0}]}]}`
	if _, err := env.PerformActions(context.Background(), id, []byte(body)); err != nil {
		t.Fatalf("PerformActions() error: %v", err)
	}
	if len(inj.chains) != 1 {
		t.Fatalf("injector called %d times, want 1", len(inj.chains))
	}
	ticks := inj.chains[0][0].Actions
	if len(ticks) != 3 {
		t.Fatalf("injected %d ticks, want 3", len(ticks))
	}
	for _, tick := range ticks {
		if tick.Type == actions.TickPointerCancel {
			t.Error("pointerCancel tick was injected")
		}
	}
	if inj.opts[0].KeyInjectionDelay.Milliseconds() != 40 {
		t.Errorf("KeyInjectionDelay = %s", inj.opts[0].KeyInjectionDelay)
	}
	if inj.opts[0].AcknowledgeTimeout.Milliseconds() != 3000 {
		t.Errorf("AcknowledgeTimeout = %s", inj.opts[0].AcknowledgeTimeout)
	}
	if inj.opts[0].ScrollAcknowledgeTimeout.Milliseconds() != 200 {
		t.Errorf("ScrollAcknowledgeTimeout = %s", inj.opts[0].ScrollAcknowledgeTimeout)
	}
	if inj.opts[0].IdleTimeout.Milliseconds() != 10000 {
		t.Errorf("IdleTimeout = %s", inj.opts[0].IdleTimeout)
	}
}

func TestPerformActionsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want core.Kind
	}{
		{"missing actions", `{}`, core.KindActionsParse},
		{"null actions", `{"actions":null}`, core.KindActionsParse},
		{"missing id", `{"actions":[{"type":"key","actions":[{"type":"keyDown","value":"a"}]}]}`, core.KindActionsParse},
		{"malformed", `{"actions":[`, core.KindJSONDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, _, inj := newEnv(t)
			id := newSession(t, env)
			_, err := env.PerformActions(context.Background(), id, []byte(tt.body))
			assertKind(t, err, tt.want)
			if len(inj.chains) != 0 {
				t.Error("injector called for an invalid chain")
			}
		})
	}
}

func TestPerformActionsInjectorFailure(t *testing.T) {
	env, _, inj := newEnv(t)
	id := newSession(t, env)
	inj.err = core.ErrInvalidElementState.WithMessage("injection rejected")

	_, err := env.PerformActions(context.Background(), id, []byte(`{"actions":[{"type":"key","id":"kb","actions":[{"type":"keyDown","value":"a"},{"type":"keyUp","value":"a"}]}]}`))
	if !errors.Is(err, core.ErrInvalidElementState) {
		t.Errorf("error = %v, want invalid element state", err)
	}
}

func TestPerformActionsNoInjector(t *testing.T) {
	env, _, _ := newEnv(t)
	env.Injector = nil
	id := newSession(t, env)
	_, err := env.PerformActions(context.Background(), id, []byte(`{"actions":[{"type":"none","id":"n","actions":[{"type":"pause","duration":10}]}]}`))
	assertKind(t, err, core.KindMissingDependency)
}

func TestLogInjector(t *testing.T) {
	chain := actions.Chain{{
		Type: actions.TypeKey,
		ID:   "kb",
		Actions: []actions.Tick{
			{Type: actions.TickKeyDown},
			{Type: actions.TickPause},
		},
	}}
	if err := (LogInjector{}).Perform(context.Background(), chain, InjectOptions{}); err != nil {
		t.Errorf("Perform() error: %v", err)
	}
}
