package gemini

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimizeURL(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "width and height", in: "https://lh3.googleusercontent.com/abc=w400-h300", want: "https://lh3.googleusercontent.com/abc=s0"},
		{name: "size with modifiers", in: "https://lh3.googleusercontent.com/abc=s512-rj-nu", want: "https://lh3.googleusercontent.com/abc=s0"},
		{name: "height only", in: "https://yt3.ggpht.com/abc=h120", want: "https://yt3.ggpht.com/abc=s0"},
		{name: "no suffix", in: "https://lh3.googleusercontent.com/gg-dl/abc", want: "https://lh3.googleusercontent.com/gg-dl/abc=s0"},
		{name: "already original", in: "https://lh3.googleusercontent.com/abc=s0", want: "https://lh3.googleusercontent.com/abc=s0"},
		{name: "other host", in: "https://example.com/image.png", want: "https://example.com/image.png"},
		{name: "host name only in query", in: "https://example.com/img?src=lh3.googleusercontent.com", want: "https://example.com/img?src=lh3.googleusercontent.com"},
		{name: "host name only in path", in: "https://cdn.example.com/googleusercontent.com/abc", want: "https://cdn.example.com/googleusercontent.com/abc"},
		{name: "lookalike domain", in: "https://evilgoogleusercontent.com/abc=w10", want: "https://evilgoogleusercontent.com/abc=w10"},
		{name: "video", in: "https://lh3.googleusercontent.com/clip.mp4", want: "https://lh3.googleusercontent.com/clip.mp4"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := OptimizeURL(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, OptimizeURL(got), "must be idempotent")
		})
	}
}

func TestOptimizeEmbeddedURLs(t *testing.T) {
	in := "See ![cat](https://lh3.googleusercontent.com/cat=w100) and https://lh3.googleusercontent.com/dog or https://example.com/x"
	want := "See ![cat](https://lh3.googleusercontent.com/cat=s0) and https://lh3.googleusercontent.com/dog=s0 or https://example.com/x"

	got := OptimizeEmbeddedURLs(in)
	assert.Equal(t, want, got)
	assert.Equal(t, got, OptimizeEmbeddedURLs(got))
}

func TestFinalizeAppendsMedia(t *testing.T) {
	text := "Here you go http://googleusercontent.com/image_generation_content/0\n"
	got := Finalize(text, []string{"http://localhost:9880/media/gen_a", "http://localhost:9880/media/gen_b"})

	assert.Equal(t,
		"Here you go\n\n![Generated content 1](http://localhost:9880/media/gen_a)\n\n![Generated content 2](http://localhost:9880/media/gen_b)",
		got)
}

func TestFinalizeMediaOnly(t *testing.T) {
	got := Finalize("http://googleusercontent.com/image_generation_content/3", []string{"https://lh3.googleusercontent.com/gg-dl/x"})
	assert.Equal(t, "![Generated content 1](https://lh3.googleusercontent.com/gg-dl/x=s0)", got)
}

func TestFinalizeStripsUploadEcho(t *testing.T) {
	text := "Nice photo ![image](https://lh3.googleusercontent.com/gg/USERIMG) it shows a cat.\n\n\n\nAlso https://lh3.googleusercontent.com/gg/OTHER"
	got := Finalize(text, nil)

	assert.NotContains(t, got, "/gg/")
	assert.NotContains(t, got, "\n\n\n")
	assert.True(t, strings.HasPrefix(got, "Nice photo"))
}

func TestFinalizeStripsUploadEchoOnAnyImageHost(t *testing.T) {
	text := "Here ![upload](https://lh5.googleusercontent.com/gg/USERIMG=w100) and ![kept](https://lh3.googleusercontent.com/gg-dl/GEN)"
	got := Finalize(text, nil)

	assert.NotContains(t, got, "USERIMG")
	assert.Contains(t, got, "![kept](https://lh3.googleusercontent.com/gg-dl/GEN=s0)")
}

func TestFinalizeVideoNotice(t *testing.T) {
	got := Finalize("Your video is on its way http://googleusercontent.com/video_gen_chip/0", nil)
	assert.Equal(t, "Your video is on its way"+VideoNotice, got)

	got = Finalize("http://googleusercontent.com/video_gen_chip/0", nil)
	assert.True(t, strings.HasPrefix(got, "---\n📹"))
	assert.NotContains(t, got, "video_gen_chip")
}

func TestFinalizePlainText(t *testing.T) {
	assert.Equal(t, "Just text.", Finalize("  Just text.\n", nil))
}
