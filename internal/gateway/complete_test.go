package gateway_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/tripmate/internal/gateway"
	"github.com/ashureev/tripmate/internal/gateway/gatewaytest"
)

func TestCompleteStreamsFragments(t *testing.T) {
	t.Parallel()

	fake := &gatewaytest.Fake{Fragments: []string{"Seoul ", "", "and ", "Busan"}}
	var snapshots []string

	got, err := gateway.Complete(context.Background(), fake, gateway.Request{Model: "m", Prompt: "p"}, func(s string) {
		snapshots = append(snapshots, s)
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Seoul and Busan" {
		t.Errorf("unexpected text %q", got)
	}
	want := []string{"Seoul ", "Seoul and ", "Seoul and Busan"}
	if len(snapshots) != len(want) {
		t.Fatalf("expected %d snapshots, got %v", len(want), snapshots)
	}
	for i := range want {
		if snapshots[i] != want[i] {
			t.Errorf("snapshot %d = %q, want %q", i, snapshots[i], want[i])
		}
	}
	if len(fake.GenerateCalls()) != 0 {
		t.Error("no fallback expected when streaming succeeds")
	}
}

func TestCompleteFallsBackMidStream(t *testing.T) {
	t.Parallel()

	fake := &gatewaytest.Fake{
		Fragments: []string{"partial ", "text ", "lost"},
		FailAfter: 2,
		StreamErr: errors.New("connection reset"),
		Text:      "the complete answer",
	}
	req := gateway.Request{Model: "gemini-2.5-flash", Prompt: "recommend"}
	var last string

	got, err := gateway.Complete(context.Background(), fake, req, func(s string) { last = s })
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "the complete answer" || last != got {
		t.Errorf("final display %q / result %q, want fallback text", last, got)
	}
	calls := fake.GenerateCalls()
	if len(calls) != 1 || calls[0] != req {
		t.Errorf("expected one fallback call with the identical request, got %+v", calls)
	}
}

func TestCompleteFallsBackOnEmptyStream(t *testing.T) {
	t.Parallel()

	fake := &gatewaytest.Fake{Text: "fallback"}
	got, err := gateway.Complete(context.Background(), fake, gateway.Request{Prompt: "p"}, nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "fallback" {
		t.Errorf("expected fallback text, got %q", got)
	}
}

func TestCompleteBothFail(t *testing.T) {
	t.Parallel()

	quota := errors.New("quota exceeded")
	fake := &gatewaytest.Fake{
		StreamErr:   errors.New("streaming unsupported"),
		GenerateErr: quota,
	}

	_, err := gateway.Complete(context.Background(), fake, gateway.Request{Prompt: "p"}, nil)
	if !errors.Is(err, gateway.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if !errors.Is(err, quota) {
		t.Errorf("expected the fallback cause to be wrapped, got %v", err)
	}
	var genErr *gateway.GenerationError
	if !errors.As(err, &genErr) || genErr.Reason != "quota exceeded" {
		t.Errorf("unexpected generation error: %+v", genErr)
	}
	if len(fake.GenerateCalls()) != 1 {
		t.Error("fallback must be attempted exactly once")
	}
}

func TestCompleteCanceledContextSkipsFallback(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &gatewaytest.Fake{StreamErr: context.Canceled, Text: "unused"}

	_, err := gateway.Complete(ctx, fake, gateway.Request{Prompt: "p"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.GenerateCalls()) != 0 {
		t.Error("no fallback call after cancellation")
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := gateway.NewFactory("bard", ""); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	f, err := gateway.NewFactory(gateway.ProviderOpenAI, gateway.GeminiOpenAIBaseURL)
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	a, err := f.ForKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("ForKey failed: %v", err)
	}
	b, _ := f.ForKey(context.Background(), "key-1")
	if a != b {
		t.Error("expected cached gateway for the same key")
	}
	c, _ := f.ForKey(context.Background(), "key-2")
	if c == a {
		t.Error("expected a new gateway for a rotated key")
	}
}
