package config

import (
	"path/filepath"
	"testing"
)

func TestGetHome_EnvVar(t *testing.T) {
	ResetHome()
	t.Setenv("UIA2_SERVER_HOME", "/custom/path")

	got := GetHome()
	if got != "/custom/path" {
		t.Errorf("GetHome() = %q, want %q", got, "/custom/path")
	}
}

func TestGetHome_FallbackNotEmpty(t *testing.T) {
	ResetHome()
	t.Setenv("UIA2_SERVER_HOME", "")

	if got := GetHome(); got == "" {
		t.Error("GetHome() returned empty string")
	}
}

func TestGetHome_Cached(t *testing.T) {
	ResetHome()
	t.Setenv("UIA2_SERVER_HOME", "/first")
	first := GetHome()

	t.Setenv("UIA2_SERVER_HOME", "/second")
	if second := GetHome(); first != second {
		t.Errorf("GetHome() not cached: first=%q, second=%q", first, second)
	}
}

func TestHomeSubdirs(t *testing.T) {
	ResetHome()
	t.Setenv("UIA2_SERVER_HOME", "/test/home")

	if got, want := GetLogDir(), filepath.Join("/test/home", "logs"); got != want {
		t.Errorf("GetLogDir() = %q, want %q", got, want)
	}
	if got, want := GetFixturesDir(), filepath.Join("/test/home", "fixtures"); got != want {
		t.Errorf("GetFixturesDir() = %q, want %q", got, want)
	}
}

func TestResolvePath(t *testing.T) {
	ResetHome()
	t.Setenv("UIA2_SERVER_HOME", "/test/home")

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/abs/tree.yaml", "/abs/tree.yaml"},
		{"fixtures/tree.yaml", filepath.Join("/test/home", "fixtures", "tree.yaml")},
	}
	for _, tt := range tests {
		if got := ResolvePath(tt.in); got != tt.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
