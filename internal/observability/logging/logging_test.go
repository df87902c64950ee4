package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelsAndCapture(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))

	Debugf("debug %d", 1)
	Infof("info %s", "x")
	Warnf("warn")
	Errorf("error: %v", "boom")

	if logs.Len() != 4 {
		t.Fatalf("captured %d entries, want 4", logs.Len())
	}
	if got := logs.All()[1].Message; got != "info x" {
		t.Errorf("info message = %q, want %q", got, "info x")
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	before := level.Level()
	Init("chatty")
	if level.Level() != before {
		t.Errorf("level changed on unknown input: %s -> %s", before, level.Level())
	}

	Init("debug")
	if level.Level().String() != "debug" {
		t.Errorf("level = %s, want debug", level.Level())
	}
	Init("info")
}
