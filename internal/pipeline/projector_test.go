package pipeline

import "testing"

func TestTryBeginIsExclusive(t *testing.T) {
	p := NewProjector(nil)
	p.Update(func(v *View) { v.Wallet = "0xabc"; v.JobID = "old" })

	if !p.TryBegin() {
		t.Fatalf("first begin must succeed")
	}
	if p.TryBegin() {
		t.Fatalf("second begin must be refused while busy")
	}
	v := p.View()
	if !v.Busy || v.Wallet != "0xabc" || v.JobID != "" {
		t.Fatalf("begin should keep the wallet and reset the run: %+v", v)
	}

	p.End()
	if p.View().Busy {
		t.Fatalf("end must clear busy")
	}
	if !p.TryBegin() {
		t.Fatalf("begin after end must succeed")
	}
}

func TestOnChangeSeesEveryUpdate(t *testing.T) {
	p := NewProjector(nil)
	var lines []string
	p.OnChange(func(v View) { lines = append(lines, v.Status) })

	p.SetStatus("one")
	p.SetStatus("two")
	if len(lines) != 2 || lines[1] != "two" {
		t.Fatalf("unexpected updates %v", lines)
	}
}
