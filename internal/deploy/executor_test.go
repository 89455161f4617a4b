package deploy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/composewatch/composewatch/internal/classify"
	"github.com/composewatch/composewatch/internal/compose"
)

func TestExecute(t *testing.T) {
	tests := []struct {
		name          string
		action        classify.Action
		imagesChanged bool
		wantCalls     string
		wantUp        *compose.UpOptions
		wantDown      *compose.DownOptions
	}{
		{
			name:   "no action does nothing",
			action: classify.Action{Kind: classify.NoAction},
		},
		{
			name:   "skip does nothing",
			action: classify.Action{Kind: classify.Skip},
		},
		{
			name:      "forced up brings the stack up plain",
			action:    classify.Action{Kind: classify.ForcedUp},
			wantCalls: "up",
			wantUp:    &compose.UpOptions{},
		},
		{
			name:      "safe up brings the stack up plain",
			action:    classify.Action{Kind: classify.SafeUp},
			wantCalls: "up",
			wantUp:    &compose.UpOptions{},
		},
		{
			name:          "full restart tears down, pulls and rebuilds",
			action:        classify.Action{Kind: classify.FullRestart},
			imagesChanged: true,
			wantCalls:     "down pull up",
			wantUp:        &compose.UpOptions{Build: true},
			wantDown:      &compose.DownOptions{RemoveOrphans: true},
		},
		{
			name:      "full restart without image change skips the pull",
			action:    classify.Action{Kind: classify.FullRestart},
			wantCalls: "down up",
			wantUp:    &compose.UpOptions{Build: true},
			wantDown:  &compose.DownOptions{RemoveOrphans: true},
		},
		{
			name:          "forced full restart sequences like full restart",
			action:        classify.Action{Kind: classify.ForcedFullRestart},
			imagesChanged: true,
			wantCalls:     "down pull up",
			wantUp:        &compose.UpOptions{Build: true},
			wantDown:      &compose.DownOptions{RemoveOrphans: true},
		},
		{
			name:          "restart service recreates only the target without pulling",
			action:        classify.Action{Kind: classify.RestartService, Service: "api"},
			imagesChanged: true,
			wantCalls:     "up",
			wantUp:        &compose.UpOptions{Build: true, Service: "api"},
		},
		{
			name:          "forced update pulls when images changed",
			action:        classify.Action{Kind: classify.ForcedUpdate},
			imagesChanged: true,
			wantCalls:     "pull up",
			wantUp:        &compose.UpOptions{Build: true},
		},
		{
			name:      "forced update without image change skips the pull",
			action:    classify.Action{Kind: classify.ForcedUpdate},
			wantCalls: "up",
			wantUp:    &compose.UpOptions{Build: true},
		},
		{
			name:          "safe update pulls when images changed",
			action:        classify.Action{Kind: classify.SafeUpdate},
			imagesChanged: true,
			wantCalls:     "pull up",
			wantUp:        &compose.UpOptions{Build: true},
		},
		{
			name:      "safe update without image change skips the pull",
			action:    classify.Action{Kind: classify.SafeUpdate},
			wantCalls: "up",
			wantUp:    &compose.UpOptions{Build: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRuntime{}
			x := NewExecutor(rt, testLogger())

			if err := x.Execute(context.Background(), tt.action, tt.imagesChanged); err != nil {
				t.Fatalf("Execute: %v", err)
			}

			if got := strings.Join(rt.calls, " "); got != tt.wantCalls {
				t.Errorf("calls = %q, want %q", got, tt.wantCalls)
			}
			if tt.wantUp != nil {
				if len(rt.ups) != 1 {
					t.Fatalf("expected one up call, got %d", len(rt.ups))
				}
				if rt.ups[0] != *tt.wantUp {
					t.Errorf("up options = %+v, want %+v", rt.ups[0], *tt.wantUp)
				}
			}
			if tt.wantDown != nil {
				if len(rt.downs) != 1 {
					t.Fatalf("expected one down call, got %d", len(rt.downs))
				}
				if rt.downs[0] != *tt.wantDown {
					t.Errorf("down options = %+v, want %+v", rt.downs[0], *tt.wantDown)
				}
			}
		})
	}
}

func TestExecuteDownFailureStops(t *testing.T) {
	rt := &fakeRuntime{downErr: errors.New("down: network in use")}
	x := NewExecutor(rt, testLogger())

	err := x.Execute(context.Background(), classify.Action{Kind: classify.FullRestart}, true)
	if err == nil {
		t.Fatal("expected error when teardown fails")
	}
	if !errors.Is(err, rt.downErr) {
		t.Errorf("error should wrap the runtime error: %v", err)
	}
	if rt.pulls != 0 || len(rt.ups) != 0 {
		t.Error("nothing may run after a failed teardown")
	}
}

func TestExecutePullFailureStops(t *testing.T) {
	rt := &fakeRuntime{pullErr: errors.New("pull: manifest unknown")}
	x := NewExecutor(rt, testLogger())

	err := x.Execute(context.Background(), classify.Action{Kind: classify.SafeUpdate}, true)
	if err == nil {
		t.Fatal("expected error when the pull fails")
	}
	if len(rt.ups) != 0 {
		t.Error("the stack must not be recreated after a failed pull")
	}
}

func TestExecuteRejectsFloatingRefresh(t *testing.T) {
	rt := &fakeRuntime{}
	x := NewExecutor(rt, testLogger())

	err := x.Execute(context.Background(), classify.Action{Kind: classify.FloatingRefresh}, false)
	if err == nil {
		t.Fatal("floating refreshes are handled outside the executor")
	}
}
