package site

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinProfilesValidate(t *testing.T) {
	for _, name := range BuiltinNames() {
		t.Run(name, func(t *testing.T) {
			p, err := Resolve(name, "")
			require.NoError(t, err)
			assert.Equal(t, name, p.Name)
			assert.NotEmpty(t, p.Selectors[RoleInput])
			assert.NotEmpty(t, p.TransientPhrases)
		})
	}
}

func TestBuiltinReturnsCopy(t *testing.T) {
	a, err := Builtin("baidu")
	require.NoError(t, err)
	a.Selectors[RoleInput][0] = "mutated"
	a.Selectors[RoleSend] = nil

	b, err := Builtin("baidu")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", b.Selectors[RoleInput][0])
	assert.NotEmpty(t, b.Selectors[RoleSend])
}

func TestUnknownBuiltin(t *testing.T) {
	_, err := Builtin("nope")
	assert.ErrorContains(t, err, "unknown builtin")
}

func TestParseOverlayReplacesOnlyGivenRoles(t *testing.T) {
	yml := []byte(`
base: baidu
name: baidu-next
selectors:
  input_box:
    - 'textarea#prompt'
transient_phrases: ["稍等"]
answer_format: markdown
`)
	p, err := Parse(yml, "")
	require.NoError(t, err)

	base, _ := Builtin("baidu")
	assert.Equal(t, "baidu-next", p.Name)
	assert.Equal(t, []string{"textarea#prompt"}, p.Selectors[RoleInput])
	assert.Equal(t, base.Selectors[RoleSend], p.Selectors[RoleSend], "untouched roles come from the base")
	assert.Equal(t, base.URL, p.URL)
	assert.Equal(t, []string{"稍等"}, p.TransientPhrases)
	assert.Equal(t, FormatMarkdown, p.AnswerFormat)
	assert.Equal(t, SubmitEnter, p.SubmitWith)
}

func TestParseStandaloneProfile(t *testing.T) {
	yml := []byte(`
name: example
url: https://chat.example.com/
selectors:
  input_box: ["textarea"]
  assistant_message: [".answer"]
  logged_in_indicator: ["textarea"]
`)
	p, err := Parse(yml, "")
	require.NoError(t, err)
	assert.Equal(t, SubmitEnter, p.SubmitWith)
	assert.Equal(t, AttachClick, p.AttachOpen)
	assert.Equal(t, FormatText, p.AnswerFormat)
}

func TestValidate(t *testing.T) {
	valid := func() *Profile {
		p, _ := Builtin("qwen")
		return p
	}
	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr string
	}{
		{"ok", func(p *Profile) {}, ""},
		{"no url", func(p *Profile) { p.URL = "" }, "url is required"},
		{"no input", func(p *Profile) { delete(p.Selectors, RoleInput) }, "input_box"},
		{"blank locator", func(p *Profile) { p.Selectors[RoleStop] = []string{" "} }, "empty locator"},
		{"bad submit", func(p *Profile) { p.SubmitWith = "shout" }, "submit_with"},
		{"bad format", func(p *Profile) { p.AnswerFormat = "html" }, "answer_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base: baidu\n"), 0o600))

	got := make(chan *Profile, 4)
	w, err := NewWatcher(path, "", 20*time.Millisecond, func(p *Profile) { got <- p })
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("base: baidu\nname: edited\n"), 0o600))

	select {
	case p := <-got:
		assert.Equal(t, "edited", p.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("profile was not reloaded")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base: qwen\n"), 0o600))

	w, err := NewWatcher(path, "", 0, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
