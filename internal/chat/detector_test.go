package chat

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(s Signals, timeout time.Duration) *Detector {
	t := DefaultTiming()
	t.ResponseTimeout = timeout
	return NewDetector(s, t, []string{"thinking", "searching", "图片解析中"}, newClock())
}

func TestDetectorCompletion(t *testing.T) {
	T, F := true, false
	tests := []struct {
		name        string
		pre         string
		content     []string
		generating  []bool
		wantText    string
		wantPolls   int
		wantVerdict string
	}{
		{
			name:        "fast path once indicator clears",
			content:     []string{"", "", "A", "A", "A"},
			generating:  []bool{T, T, T, F, F},
			wantText:    "A",
			wantPolls:   5,
			wantVerdict: VerdictStable,
		},
		{
			name:        "indicator stuck falls back to slow path",
			content:     []string{"B"},
			generating:  []bool{T},
			wantText:    "B",
			wantPolls:   4,
			wantVerdict: VerdictIndicatorStuck,
		},
		{
			name:        "stale content is skipped",
			pre:         "old answer",
			content:     []string{"old answer", "old answer", "new", "new", "new"},
			generating:  []bool{F},
			wantText:    "new",
			wantPolls:   5,
			wantVerdict: VerdictStable,
		},
		{
			name:        "transient status is skipped",
			content:     []string{"Thinking...", "thinking", "Answer", "Answer", "Answer"},
			generating:  []bool{F},
			wantText:    "Answer",
			wantPolls:   5,
			wantVerdict: VerdictStable,
		},
		{
			name:        "growing content resets stability",
			content:     []string{"A", "A", "AB", "AB", "AB"},
			generating:  []bool{F},
			wantText:    "AB",
			wantPolls:   5,
			wantVerdict: VerdictStable,
		},
		{
			name:        "indicator flicker still converges on slow path",
			content:     []string{"C", "C", "C", "C"},
			generating:  []bool{T, F, T, T},
			wantText:    "C",
			wantPolls:   4,
			wantVerdict: VerdictIndicatorStuck,
		},
		{
			name:        "long text mentioning a status phrase is an answer",
			content:     []string{"I was thinking about your question and here is the full answer."},
			generating:  []bool{F},
			wantText:    "I was thinking about your question and here is the full answer.",
			wantPolls:   3,
			wantVerdict: VerdictStable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(&scripted{generating: tt.generating, content: tt.content}, 120*time.Second)
			got, err := d.Await(context.Background(), tt.pre)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantPolls, got.Polls)
			assert.Equal(t, tt.wantVerdict, got.Verdict)
			assert.False(t, got.Truncated)
		})
	}
}

func TestDetectorTimeoutWithoutContent(t *testing.T) {
	tests := []struct {
		name    string
		pre     string
		content []string
	}{
		{"nothing ever", "", []string{""}},
		{"only stale", "previous", []string{"previous"}},
		{"only status text", "", []string{"图片解析中"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(&scripted{content: tt.content}, 3*time.Second)
			got, err := d.Await(context.Background(), tt.pre)
			assert.ErrorIs(t, err, ErrResponseTimeout)
			assert.Empty(t, got.Text)
			assert.Equal(t, 10, got.Polls)
		})
	}
}

func TestDetectorTruncatesWhenContentNeverSettles(t *testing.T) {
	var content []string
	for i := 1; i <= 10; i++ {
		content = append(content, strings.Repeat("x", i))
	}
	d := newTestDetector(&scripted{content: content, generating: []bool{true}}, 3*time.Second)

	got, err := d.Await(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	assert.Equal(t, VerdictTruncated, got.Verdict)
	assert.Equal(t, strings.Repeat("x", 10), got.Text)
}

func TestDetectorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := newTestDetector(&scripted{content: []string{"A"}}, 3*time.Second)
	_, err := d.Await(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

// Whatever the page shows, the result is never the pre-submission text and
// never a short status phrase.
func TestDetectorNeverReturnsStaleOrStatusText(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{"", "pre", "thinking", "searching", "A", "AB", "ABC"}
	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(12)
		content := make([]string, n)
		gen := make([]bool, n)
		for j := range content {
			content[j] = pool[rng.Intn(len(pool))]
			gen[j] = rng.Intn(2) == 0
		}
		d := newTestDetector(&scripted{content: content, generating: gen}, 3*time.Second)
		got, err := d.Await(context.Background(), "pre")
		if err != nil {
			assert.ErrorIs(t, err, ErrResponseTimeout)
			continue
		}
		msg := fmt.Sprintf("content=%q generating=%v", content, gen)
		assert.NotEqual(t, "pre", got.Text, msg)
		assert.False(t, d.Transient.Match(got.Text), msg)
		assert.NotEmpty(t, got.Text, msg)
	}
}

func TestTransientFilter(t *testing.T) {
	f := NewTransientFilter([]string{"Thinking", "思考中"}, 30)
	tests := []struct {
		text string
		want bool
	}{
		{"thinking", true},
		{"  THINKING...  ", true},
		{"正在思考中", true},
		{strings.Repeat("思", 26) + "思考中", true},
		{strings.Repeat("思", 28) + "思考中", false},
		{"The answer is 42", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Match(tt.text), "text %q", tt.text)
	}
}
