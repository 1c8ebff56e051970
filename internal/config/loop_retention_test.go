package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultLoopRetentionConfig(t *testing.T) {
	cfg := DefaultLoopRetentionConfig()

	if cfg.RetentionAgeHours != 24 {
		t.Errorf("Expected RetentionAgeHours to be 24, got %d", cfg.RetentionAgeHours)
	}
	if cfg.RetentionKeep != 10 {
		t.Errorf("Expected RetentionKeep to be 10, got %d", cfg.RetentionKeep)
	}
}

func TestLoopRetentionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoopRetentionConfig
		wantErr bool
	}{
		{name: "default config is valid", cfg: DefaultLoopRetentionConfig(), wantErr: false},
		{name: "valid config at minimum bounds", cfg: LoopRetentionConfig{RetentionAgeHours: 0, RetentionKeep: 0}, wantErr: false},
		{name: "valid config at maximum bounds", cfg: LoopRetentionConfig{RetentionAgeHours: 720, RetentionKeep: 1000}, wantErr: false},
		{name: "retention age too high", cfg: LoopRetentionConfig{RetentionAgeHours: 721, RetentionKeep: 10}, wantErr: true},
		{name: "retention age negative", cfg: LoopRetentionConfig{RetentionAgeHours: -1, RetentionKeep: 10}, wantErr: true},
		{name: "retention keep negative", cfg: LoopRetentionConfig{RetentionAgeHours: 24, RetentionKeep: -1}, wantErr: true},
		{name: "retention keep too high", cfg: LoopRetentionConfig{RetentionAgeHours: 24, RetentionKeep: 1001}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoopRetentionConfigRetentionAge(t *testing.T) {
	tests := []struct {
		name  string
		hours int
		want  time.Duration
	}{
		{name: "24 hours", hours: 24, want: 24 * time.Hour},
		{name: "0 hours (disabled)", hours: 0, want: 0},
		{name: "720 hours (30 days)", hours: 720, want: 720 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoopRetentionConfig{RetentionAgeHours: tt.hours}
			got := cfg.RetentionAge()
			if got != tt.want {
				t.Errorf("RetentionAge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoopRetentionConfigFromEnv(t *testing.T) {
	origAge := os.Getenv("RALPH_LOOP_RETENTION_AGE_HOURS")
	origKeep := os.Getenv("RALPH_LOOP_RETENTION_KEEP")
	defer func() {
		os.Setenv("RALPH_LOOP_RETENTION_AGE_HOURS", origAge)
		os.Setenv("RALPH_LOOP_RETENTION_KEEP", origKeep)
	}()

	tests := []struct {
		name      string
		ageHours  string
		keep      string
		want      LoopRetentionConfig
		wantErr   bool
		errString string
	}{
		{
			name:     "default config when no env vars",
			ageHours: "",
			keep:     "",
			want:     DefaultLoopRetentionConfig(),
			wantErr:  false,
		},
		{
			name:     "custom valid config",
			ageHours: "48",
			keep:     "20",
			want:     LoopRetentionConfig{RetentionAgeHours: 48, RetentionKeep: 20},
			wantErr:  false,
		},
		{
			name:     "age hours disabled (0)",
			ageHours: "0",
			keep:     "5",
			want:     LoopRetentionConfig{RetentionAgeHours: 0, RetentionKeep: 5},
			wantErr:  false,
		},
		{
			name:      "invalid age hours (negative)",
			ageHours:  "-1",
			keep:      "10",
			wantErr:   true,
			errString: "retention_age_hours must be between 0 and 720",
		},
		{
			name:      "invalid keep (too high)",
			ageHours:  "24",
			keep:      "1001",
			wantErr:   true,
			errString: "retention_keep must be between 0 and 1000",
		},
		{
			name:      "invalid age hours (not a number)",
			ageHours:  "foo",
			keep:      "10",
			wantErr:   true,
			errString: "invalid value for RALPH_LOOP_RETENTION_AGE_HOURS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("RALPH_LOOP_RETENTION_AGE_HOURS", tt.ageHours)
			os.Setenv("RALPH_LOOP_RETENTION_KEEP", tt.keep)

			got, err := LoopRetentionConfigFromEnv()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoopRetentionConfigFromEnv() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr && err != nil {
				if tt.errString != "" && !contains(err.Error(), tt.errString) {
					t.Errorf("Expected error to contain %q, got %q", tt.errString, err.Error())
				}
				return
			}

			if got.RetentionAgeHours != tt.want.RetentionAgeHours {
				t.Errorf("RetentionAgeHours = %d, want %d", got.RetentionAgeHours, tt.want.RetentionAgeHours)
			}
			if got.RetentionKeep != tt.want.RetentionKeep {
				t.Errorf("RetentionKeep = %d, want %d", got.RetentionKeep, tt.want.RetentionKeep)
			}
		})
	}
}
