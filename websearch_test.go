package tideline

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"
)

func TestValidateQueries(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"length 1 rejected", []string{"a"}, nil},
		{"length 2 accepted", []string{"ab"}, []string{"ab"}},
		{"length 25 accepted", []string{strings.Repeat("q", 25)}, []string{strings.Repeat("q", 25)}},
		{"length 26 rejected", []string{strings.Repeat("q", 26)}, nil},
		{"runes not bytes", []string{"東京の天気"}, []string{"東京の天気"}},
		{"trimmed", []string{"  Tokyo weather  "}, []string{"Tokyo weather"}},
		{"capped at three", []string{"q1", "q2", "q3", "q4", "q5"}, []string{"q1", "q2", "q3"}},
		{"invalid entries skipped before cap", []string{"x", "q1", strings.Repeat("y", 30), "q2"}, []string{"q1", "q2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateQueries(tt.in)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ValidateQueries(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(got) > MaxSearchQueries {
				t.Errorf("got %d queries, cap is %d", len(got), MaxSearchQueries)
			}
		})
	}
}

func TestValidateQueries_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to a single rune.
	decomposed := "caf" + "e\u0301"
	got := ValidateQueries([]string{decomposed})
	if len(got) != 1 || got[0] != "caf\u00e9" {
		t.Errorf("got %q, want NFC-composed %q", got, "caf\u00e9")
	}
}

func TestParseQueryResponse(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantQueries []string
		wantReq     string // "true", "false" or "nil"
	}{
		{
			"strict multiple",
			"<web_search_response><search_required>true</search_required><queries><query>Tokyo weather</query><query>Tokyo forecast</query></queries></web_search_response>",
			[]string{"Tokyo weather", "Tokyo forecast"}, "true",
		},
		{
			"strict single query",
			"<response><queries><query>Go 1.25 release</query></queries></response>",
			[]string{"Go 1.25 release"}, "nil",
		},
		{
			"strict not required",
			"<web_search_response><search_required>false</search_required><queries/></web_search_response>",
			nil, "false",
		},
		{
			"queries override false",
			"<r><search_required>false</search_required><queries><query>news today</query></queries></r>",
			[]string{"news today"}, "true",
		},
		{
			"regex fallback in prose",
			"Here you go:\n<search_required> TRUE </search_required>\n<queries>\n<query>rust async</query>\n</queries>\nThanks",
			[]string{"rust async"}, "true",
		},
		{
			"regex not required",
			"I think <search_required>false</search_required> is right.",
			nil, "false",
		},
		{
			"newline fallback",
			"Tokyo weather today\n\nTokyo humidity\n",
			[]string{"Tokyo weather today", "Tokyo humidity"}, "nil",
		},
		{
			"reasoning stripped",
			"<think>maybe search</think><r><queries><query>EUR USD rate</query></queries></r>",
			[]string{"EUR USD rate"}, "nil",
		},
		{
			"required but empty uses lines",
			"<r>\n<search_required>true</search_required>\n<queries></queries>\n</r>",
			nil, "true",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := ParseQueryResponse(tt.content)
			if strings.Join(plan.Queries, "|") != strings.Join(tt.wantQueries, "|") {
				t.Errorf("queries = %q, want %q", plan.Queries, tt.wantQueries)
			}
			gotReq := "nil"
			if plan.Required != nil {
				gotReq = "false"
				if *plan.Required {
					gotReq = "true"
				}
			}
			if gotReq != tt.wantReq {
				t.Errorf("required = %s, want %s", gotReq, tt.wantReq)
			}
		})
	}
}

func TestBuildQueryMessages(t *testing.T) {
	msgs, err := BuildQueryMessages(QueryRequest{
		UserInput:        "What's the weather in Tokyo?",
		Attachments:      []string{"Document: notes.txt\nContent: pack an umbrella"},
		PreviousMessages: []string{"[User]: hi", "[Assistant]: hello"},
		Sensitivity:      SensitivityBalanced,
		AdditionalPrompt: "be brief",
		AppName:          "tideline",
		Now:              time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Locale:           language.MustParse("ja-JP"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
	system := msgs[0].Content
	for _, want := range []string{
		SensitivityBalanced.PromptTemplate(),
		"Current locale: ja-JP",
		"Application name: tideline",
		"Additional User Request: be brief",
		"Important: Consider all provided context",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	body := msgs[1].Content
	for _, want := range []string{
		"<web_search_request>",
		"<user_input>What&#39;s the weather in Tokyo?</user_input>",
		`<document id="0">Document: notes.txt`,
		`<message id="1">[Assistant]: hello</message>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q:\n%s", want, body)
		}
	}

	msgs, _ = BuildQueryMessages(QueryRequest{UserInput: "hi"})
	if strings.Contains(msgs[1].Content, "attached_documents") || strings.Contains(msgs[1].Content, "previous_messages") {
		t.Errorf("empty sections should be omitted:\n%s", msgs[1].Content)
	}
}

func TestGenerateQueries(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{{Content: "<r><queries><query>Tokyo weather today</query></queries></r>"}}}
	plan, err := GenerateQueries(context.Background(), p, QueryRequest{UserInput: "weather?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Queries) != 1 || plan.Queries[0] != "Tokyo weather today" {
		t.Errorf("queries = %q", plan.Queries)
	}
	if p.requests[0].MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", p.requests[0].MaxTokens)
	}

	failing := &scriptedProvider{err: errors.New("down")}
	if _, err := GenerateQueries(context.Background(), failing, QueryRequest{UserInput: "x"}); err == nil {
		t.Error("expected provider error")
	}
}

func TestGatherer_PerQueryLimit(t *testing.T) {
	g := NewGatherer(&fakeEngine{}, WithResultBudget(10))
	tests := []struct{ n, want int }{{1, 10}, {2, 5}, {3, 3}, {0, 3}}
	for _, tt := range tests {
		if got := g.PerQueryLimit(tt.n); got != tt.want {
			t.Errorf("PerQueryLimit(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
	if got := NewGatherer(&fakeEngine{}, WithResultBudget(4)).PerQueryLimit(3); got != 3 {
		t.Errorf("floor: got %d, want 3", got)
	}
}

func TestGatherer_Gather(t *testing.T) {
	engine := &fakeEngine{docs: map[string][]WebDocument{
		"q1": {{Title: "A", URL: "https://a"}, {Title: "B", URL: "https://b"}},
		"q2": {{Title: "C", URL: "https://c"}},
	}}
	g := NewGatherer(engine, WithResultBudget(10), WithShuffleSource(rand.New(rand.NewSource(1))))

	phases := make(chan WebSearchPhase, 64)
	docs, err := g.Gather(context.Background(), []string{"q1", "q2"}, phases)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if got := engine.limits(); len(got) != 2 || got[0] != 5 || got[1] != 5 {
		t.Errorf("limits = %v, want [5 5]", got)
	}

	var all []WebSearchPhase
	for p := range phases {
		all = append(all, p)
	}
	if len(all) == 0 {
		t.Fatal("no phases emitted")
	}
	if all[0].Query != 0 || all[0].Progress != 0.1 || all[0].NumberOfQueries != 2 {
		t.Errorf("first phase = %+v", all[0])
	}
	for _, p := range all {
		if p.Progress < 0.1 || p.Progress > 1 {
			t.Errorf("progress %v out of range", p.Progress)
		}
	}
	last := all[len(all)-1]
	if last.NumberOfResults != 3 || !last.QueryBeginDate.IsZero() {
		t.Errorf("final phase = %+v", last)
	}
}

func TestGatherer_QueryFailureContinues(t *testing.T) {
	engine := &fakeEngine{
		docs: map[string][]WebDocument{"q2": {{Title: "C", URL: "https://c"}}},
		errs: map[string]error{"q1": errors.New("engine down")},
	}
	docs, err := NewGatherer(engine).Gather(context.Background(), []string{"q1", "q2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("got %d docs, want 1", len(docs))
	}
}

func TestGatherer_CancelPropagates(t *testing.T) {
	engine := &fakeEngine{block: true, started: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancelCause(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := NewGatherer(engine).Gather(ctx, []string{"q1", "q2"}, nil)
		errc <- err
	}()
	<-engine.started
	cancel(ErrUserCancelled)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrUserCancelled) {
			t.Errorf("err = %v, want ErrUserCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Gather did not return after cancellation")
	}
	if engine.cancelCount() != 1 {
		t.Errorf("Cancel called %d times, want 1", engine.cancelCount())
	}
	if got := engine.limits(); len(got) != 1 {
		t.Errorf("second query should not run after cancellation, ran %d", len(got))
	}
}

func TestFormatWebArchive(t *testing.T) {
	got := FormatWebArchive(WebDocument{Title: "Tokyo Weather", Text: "Sunny, 24C"}, 3)
	want := "<web_document id=\"3\">\n<title>Tokyo Weather</title>\n<note>This document is provided by system or tool call, please cite the id with [^3] format if used.</note>\n<content>\nSunny, 24C\n</content>\n</web_document>"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestCitationIndex(t *testing.T) {
	c := newCitationIndex()
	if c.index("https://a") != 1 || c.index("https://b") != 2 || c.index("https://a") != 1 {
		t.Error("indices should start at 1 and dedupe by URL")
	}
	links := c.snapshot()
	if links[1] != "https://a" || links[2] != "https://b" || len(links) != 2 {
		t.Errorf("snapshot = %v", links)
	}
	c.reset()
	if c.index("https://b") != 1 {
		t.Error("reset should restart numbering")
	}
}
