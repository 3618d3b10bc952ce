// ABOUTME: Tests for delivery rendering
// ABOUTME: Markdown conversion, execution banner rewriting and plain fallback

package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_HeaderAndMarkdown(t *testing.T) {
	f := New()
	msg, err := f.Render("🧠 Analyst", "Fetch **today** rate.\n\n```python\nprint(1)\n```")
	require.NoError(t, err)

	assert.Contains(t, msg.HTML, "<p><strong>🧠 Analyst</strong></p>")
	assert.Contains(t, msg.HTML, "<strong>today</strong>")
	assert.Contains(t, msg.HTML, `<pre><code class="language-python">print(1)`)
	assert.Equal(t, "🧠 Analyst\n\nFetch **today** rate.\n\n```python\nprint(1)\n```", msg.Plain)
}

func TestRender_ExecutionOutput(t *testing.T) {
	f := New()
	text := ">>>>>>>> EXECUTING CODE BLOCK 1 (inferred language is python)...\nexitcode: 0 (execution succeeded)\nCode output: 42"
	msg, err := f.Render("⚙️ Executor (code)", text)
	require.NoError(t, err)

	assert.Contains(t, msg.HTML, "🔧 <strong>Code execution</strong>")
	assert.Contains(t, msg.HTML, "<strong>Exit code:</strong> 0 (execution succeeded)")
	assert.Contains(t, msg.HTML, "<strong>Output:</strong> 42")
	assert.NotContains(t, msg.HTML, "blockquote")
}

func TestRewriteExecution_LeavesFencedCodeAlone(t *testing.T) {
	text := "Run this:\n```python\nprint(\"exitcode: 0\")\nprint(\"Code output: none\")\n```\nexitcode: 1 (execution failed)"
	got := RewriteExecution(text)

	assert.Contains(t, got, `print("exitcode: 0")`)
	assert.Contains(t, got, `print("Code output: none")`)
	assert.Contains(t, got, "**Exit code:** 1 (execution failed)")

	msg, err := New().Render("👨‍💻 Coder", text)
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "print(&quot;exitcode: 0&quot;)")
	assert.NotContains(t, msg.HTML, "<strong>Output:</strong> none")
}

func TestRender_EscapesRoleAndRawHTML(t *testing.T) {
	f := New()
	msg, err := f.Render("<b>x</b>", "<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "&lt;b&gt;x&lt;/b&gt;")
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestRender_NoRole(t *testing.T) {
	f := New()
	msg, err := f.Render("", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Plain)
	assert.Equal(t, "<p>hello</p>\n", msg.HTML)
}

func TestPlain(t *testing.T) {
	assert.Equal(t, "Role\nline one\nline two & more",
		Plain("<p><strong>Role</strong></p>\n<p>line one<br>line two &amp; more</p>"))
	assert.Equal(t, "a\n\nb", Plain("<p>a</p>\n\n\n\n<p>b</p>"))
	assert.Equal(t, "", Plain("<p></p>"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "héllo...", Truncate("héllo world", 5))
}
