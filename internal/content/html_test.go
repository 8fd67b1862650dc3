package content

import "testing"

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "paragraphs",
			in:   "<p>First   rule.</p><p>Second\nrule.</p>",
			want: "First rule.\n\nSecond rule.",
		},
		{
			name: "list items",
			in:   "<h3>Steps</h3><ul><li>Warn</li><li>Mute</li><li></li></ul>",
			want: "Steps\n\n- Warn\n\n- Mute",
		},
		{
			name: "inline markup stays in paragraph",
			in:   "<div>Use <code>/timeout</code> for <a href=\"#\">spam</a>.</div>",
			want: "Use /timeout for spam.",
		},
		{
			name: "scripts and styles dropped",
			in:   "<style>p{}</style><p>Visible</p><script>hidden()</script>",
			want: "Visible",
		},
		{
			name: "plain text",
			in:   "Just text",
			want: "Just text",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTMLToText(tt.in)
			if err != nil {
				t.Fatalf("HTMLToText failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("HTMLToText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
