package main

import (
	"testing"
	"time"
)

func TestParseTimestampFlag(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{
			name: "rfc3339",
			in:   "2026-07-30T12:00:00Z",
			want: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "epoch millis",
			in:   "1780000000000",
			want: time.UnixMilli(1780000000000),
		},
		{
			name:    "garbage",
			in:      "not-a-timestamp",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestampFlag(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for input %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTimestampFlag(%q) returned error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTimestampFlag(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
