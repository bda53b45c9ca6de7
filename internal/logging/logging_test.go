package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct{ level, format string }{
		{"", ""},
		{"debug", "console"},
		{"WARN", "json"},
		{"error", "JSON"},
	} {
		l, err := New(tc.level, tc.format)
		if err != nil {
			t.Errorf("New(%q, %q): %v", tc.level, tc.format, err)
			continue
		}
		if l == nil {
			t.Errorf("New(%q, %q) returned nil logger", tc.level, tc.format)
		}
	}
}

func TestNewDebugEnabled(t *testing.T) {
	l, _ := New("debug", "")
	if ce := l.Check(zap.DebugLevel, "x"); ce == nil {
		t.Error("debug level should be enabled")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", ""); err == nil {
		t.Error("expected level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected format error")
	}
}
