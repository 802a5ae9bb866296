package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{
			name: "taxonomy error",
			err:  Errorf(ReasonSSRFBlocked, "blocked"),
			want: ReasonSSRFBlocked,
		},
		{
			name: "wrapped taxonomy error",
			err:  fmt.Errorf("unpack: %w", Errorf(ReasonResourceExceeded, "too big")),
			want: ReasonResourceExceeded,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: ReasonTimeout,
		},
		{
			name: "plain error normalized",
			err:  errors.New("surprise"),
			want: ReasonInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReasonOf(tt.err); got != tt.want {
				t.Errorf("ReasonOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageOfNeverExposesInternals(t *testing.T) {
	err := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	msg := MessageOf(err)
	if msg != "internal error while processing the request" {
		t.Errorf("MessageOf() leaked internals: %q", msg)
	}
}

func TestWrapUnwraps(t *testing.T) {
	inner := errors.New("unexpected EOF")
	err := Wrap(ReasonMalformedArchive, inner, "archive could not be read")
	if !errors.Is(err, inner) {
		t.Error("Wrap() lost the underlying error")
	}
	if ReasonOf(err) != ReasonMalformedArchive {
		t.Errorf("ReasonOf() = %q, want %q", ReasonOf(err), ReasonMalformedArchive)
	}
}
