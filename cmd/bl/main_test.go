package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"bountyline/internal/domain"
)

func TestCallerParsesFromAndValue(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("from", "0x00000000000000000000000000000000000000b1")
	call, err := caller("1gwei")
	if err != nil {
		t.Fatalf("caller: %v", err)
	}
	if call.Value.String() != "1000000000" {
		t.Fatalf("value %s", call.Value)
	}
	if _, err := caller("lots"); err == nil {
		t.Fatalf("expected bad value to fail")
	}
	viper.Set("from", "nope")
	if _, err := caller(""); err == nil {
		t.Fatalf("expected bad address to fail")
	}
}

func TestPrintErrorIncludesLedgerCode(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printError(&buf, fmt.Errorf("take 3: %w", domain.ErrAlreadyAssigned))
	if got := buf.String(); !strings.HasPrefix(got, "error: [already_assigned]") {
		t.Fatalf("unexpected output %q", got)
	}
	buf.Reset()
	printError(&buf, fmt.Errorf("disk on fire"))
	if got := buf.String(); got != "error: disk on fire\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
