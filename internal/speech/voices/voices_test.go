package voices

import (
	"context"
	"testing"
	"time"

	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/speech/mock"
)

func names(vs []speech.Voice) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrder_MatchingLanguageFirst(t *testing.T) {
	in := []speech.Voice{
		{URI: "bob", Name: "Bob", Lang: "en-GB"},
		{URI: "ana", Name: "Ana", Lang: "es-ES"},
		{URI: "amy", Name: "Amy", Lang: "en-US"},
	}
	got := names(Order(in, "en"))
	want := []string{"Amy", "Bob", "Ana"}
	if !equal(got, want) {
		t.Fatalf("Order = %v, want %v", got, want)
	}
}

func TestOrder_Deterministic(t *testing.T) {
	in := []speech.Voice{
		{URI: "3", Name: "zed", Lang: "eu-ES"},
		{URI: "2", Name: "Miren", Lang: "eu-ES"},
		{URI: "1", Name: "Miren", Lang: "eu-ES"},
		{URI: "4", Name: "Anne", Lang: "fr-FR"},
		{URI: "5", Name: "alex", Lang: "en-US"},
	}
	first := Order(in, "eu")
	// Reversed input must give the same ordering.
	rev := make([]speech.Voice, len(in))
	for i := range in {
		rev[len(in)-1-i] = in[i]
	}
	second := Order(rev, "eu")

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("position %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if got := names(first); !equal(got, []string{"Miren", "Miren", "zed", "alex", "Anne"}) {
		t.Fatalf("Order = %v", got)
	}
	if first[0].URI != "1" || first[1].URI != "2" {
		t.Fatalf("tie not broken by URI: %+v", first[:2])
	}
}

func TestOrder_CaseInsensitivePrefix(t *testing.T) {
	in := []speech.Voice{{Name: "Upper", Lang: "EN-us"}, {Name: "Other", Lang: "de-DE"}}
	got := names(Order(in, "en"))
	if !equal(got, []string{"Upper", "Other"}) {
		t.Fatalf("Order = %v", got)
	}
}

func TestCatalog_EmptyIsNotAnError(t *testing.T) {
	synth := &mock.Synthesizer{}
	c := New(context.Background(), synth)
	if got := c.List("en"); len(got) != 0 {
		t.Fatalf("List = %v, want empty", got)
	}
}

func TestCatalog_Idempotent(t *testing.T) {
	synth := &mock.Synthesizer{VoiceList: []speech.Voice{
		{URI: "b", Name: "Bob", Lang: "en-GB"},
		{URI: "a", Name: "Ana", Lang: "es-ES"},
	}}
	c := New(context.Background(), synth)
	a := names(c.List("en"))
	b := names(c.List("en"))
	if !equal(a, b) {
		t.Fatalf("repeated List differs: %v vs %v", a, b)
	}
}

func TestCatalog_LatePopulatedList(t *testing.T) {
	changed := make(chan struct{})
	synth := &mock.Synthesizer{Changed: changed}
	c := New(context.Background(), synth)

	synth.SetVoices([]speech.Voice{{URI: "x", Name: "Xabier", Lang: "eu-ES"}})
	close(changed)

	select {
	case <-c.Resolved():
	case <-time.After(time.Second):
		t.Fatal("catalog did not resolve after voices changed")
	}
	if got := names(c.List("eu")); !equal(got, []string{"Xabier"}) {
		t.Fatalf("List = %v, want [Xabier]", got)
	}
}

func TestCatalog_StopsListeningOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	synth := &mock.Synthesizer{Changed: make(chan struct{})}
	c := New(ctx, synth)
	cancel()
	select {
	case <-c.Resolved():
	case <-time.After(time.Second):
		t.Fatal("listener still running after cancel")
	}
}

func TestCatalog_Match(t *testing.T) {
	synth := &mock.Synthesizer{VoiceList: []speech.Voice{
		{URI: "en-voice", Name: "Amy", Lang: "en-US"},
	}}
	c := New(context.Background(), synth)

	if _, ok := c.Match("en-voice", "en"); !ok {
		t.Fatal("expected match for en")
	}
	if _, ok := c.Match("en-voice", "eu"); ok {
		t.Fatal("expected no match for eu")
	}
	if _, ok := c.Match("missing", "en"); ok {
		t.Fatal("expected no match for unknown URI")
	}
	if _, ok := c.Find(""); ok {
		t.Fatal("empty URI must not match")
	}
}
