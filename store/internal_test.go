package store

import "testing"

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want AckMode
	}{
		{"sync stays sync", Config{DefaultAck: AckSync}, AckSync},
		{"none stays none", Config{DefaultAck: AckNone}, AckNone},
		{"out of range falls back to sync", Config{DefaultAck: AckMode(42)}, AckSync},
		{"negative falls back to sync", Config{DefaultAck: AckMode(-1)}, AckSync},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.validate()
			if tt.cfg.DefaultAck != tt.want {
				t.Errorf("expected ack %d, got %d", tt.want, tt.cfg.DefaultAck)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	errs := []error{
		ErrNotFound,
		ErrNotMatched,
		ErrParentNotFound,
		ErrDuplicateKey,
		ErrIndexInconsistency,
	}
	for _, err := range errs {
		if err.Error() == "" {
			t.Errorf("error %v has empty message", err)
		}
	}
}
