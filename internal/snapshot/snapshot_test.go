package snapshot

import (
	"strings"
	"testing"
)

const renderedStack = `name: shop
services:
  cache:
    image: redis:latest
    networks:
      default: null
  web:
    image: nginx:1.27
    networks:
      default: null
networks:
  default:
    name: shop_default
volumes:
  data:
    name: shop_data
`

func TestNew(t *testing.T) {
	snap, err := New(renderedStack)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if snap.Text != renderedStack {
		t.Error("snapshot does not preserve the rendered text")
	}
	if len(snap.Hash) != 64 {
		t.Errorf("expected sha256 hex hash, got %q", snap.Hash)
	}
	if len(snap.Project.Services) != 2 {
		t.Errorf("expected 2 services, got %d", len(snap.Project.Services))
	}
	if svc, ok := snap.Project.Services["web"]; !ok || svc.Image != "nginx:1.27" {
		t.Errorf("web service not parsed: %+v", snap.Project.Services)
	}
}

func TestNewHashIsDeterministic(t *testing.T) {
	first, err := New(renderedStack)
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(renderedStack)
	if err != nil {
		t.Fatal(err)
	}
	if first.Hash != second.Hash {
		t.Errorf("same text produced different hashes: %s vs %s", first.Hash, second.Hash)
	}

	changed, err := New(strings.Replace(renderedStack, "nginx:1.27", "nginx:1.28", 1))
	if err != nil {
		t.Fatal(err)
	}
	if changed.Hash == first.Hash {
		t.Error("different text produced the same hash")
	}
}

func TestNewRejectsMalformedRendering(t *testing.T) {
	if _, err := New("{\n"); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := New(""); err == nil {
		t.Error("expected error for empty rendering")
	}
	if _, err := New("services: not-a-map\n"); err == nil {
		t.Error("expected error for non-compose document")
	}
}

func TestHasImages(t *testing.T) {
	snap, err := New(renderedStack)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.HasImages() {
		t.Error("expected HasImages for image-based stack")
	}

	buildOnly := `services:
  app:
    build:
      context: .
`
	snap, err = New(buildOnly)
	if err != nil {
		t.Fatal(err)
	}
	if snap.HasImages() {
		t.Error("expected no images for build-only stack")
	}
}

func TestRemovalDetected(t *testing.T) {
	tests := []struct {
		name    string
		prev    string
		prevOK  bool
		current string
		want    bool
	}{
		{
			name:    "no previous snapshot",
			prev:    "",
			prevOK:  false,
			current: renderedStack,
			want:    true,
		},
		{
			name:    "identical snapshots",
			prev:    renderedStack,
			prevOK:  true,
			current: renderedStack,
			want:    false,
		},
		{
			name:    "volume entry removed",
			prev:    "volumes:\n  data:\n    name: d\n  cache:\n    name: c\n",
			prevOK:  true,
			current: "volumes:\n  data:\n    name: d\n",
			want:    true,
		},
		{
			name:    "image line changed only",
			prev:    "services:\n  web:\n    image: nginx:1.27\n",
			prevOK:  true,
			current: "services:\n  web:\n    image: nginx:1.28\n",
			want:    false,
		},
		{
			name:    "whole networks section removed",
			prev:    "services:\n  web:\n    image: nginx:1\nnetworks:\n  backend:\n    name: b\n",
			prevOK:  true,
			current: "services:\n  web:\n    image: nginx:1\n",
			want:    true,
		},
		{
			name:    "service removed",
			prev:    "services:\n  web:\n    image: nginx:1\n  api:\n    image: api:1\n",
			prevOK:  true,
			current: "services:\n  web:\n    image: nginx:1\n",
			want:    true,
		},
		{
			name:    "lines only added",
			prev:    "services:\n  web:\n    image: nginx:1\n",
			prevOK:  true,
			current: "services:\n  web:\n    image: nginx:1\n  api:\n    image: api:1\n",
			want:    false,
		},
		{
			name:    "scalar line removed",
			prev:    "services:\n  web:\n    image: nginx:1\n    restart: always\n",
			prevOK:  true,
			current: "services:\n  web:\n    image: nginx:1\n",
			want:    false,
		},
		{
			name:    "list entry removed",
			prev:    "services:\n  web:\n    image: nginx:1\n    ports:\n      - 80:80\n      - 443:443\n",
			prevOK:  true,
			current: "services:\n  web:\n    image: nginx:1\n    ports:\n      - 80:80\n",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemovalDetected(tt.prev, tt.prevOK, tt.current)
			if got != tt.want {
				t.Errorf("RemovalDetected() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBlockKey(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"  cache:", true},
		{"    environment:", true},
		{"  web:   ", true},
		{"services:", false},
		{"  image: nginx:1", false},
		{"  - item:", false},
		{"  # comment:", false},
		{" single-space:", false},
		{"  :", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := isBlockKey(tt.line); got != tt.want {
				t.Errorf("isBlockKey(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
