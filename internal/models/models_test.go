package models

import "testing"

func TestIsValidSessionState(t *testing.T) {
	valid := []SessionState{StateIdle, StateAwaitPost, StateAwaitReplyTarget, StateAwaitReplyBody}
	for _, s := range valid {
		if !IsValidSessionState(s) {
			t.Errorf("IsValidSessionState(%q) = false, want true", s)
		}
	}
	for _, s := range []SessionState{"", "REPLY", "idle"} {
		if IsValidSessionState(s) {
			t.Errorf("IsValidSessionState(%q) = true, want false", s)
		}
	}
}

func TestIsValidContentKind(t *testing.T) {
	valid := []ContentKind{ContentForward, ContentText, ContentSticker, ContentPhoto, ContentVideo, ContentDocument}
	for _, k := range valid {
		if !IsValidContentKind(k) {
			t.Errorf("IsValidContentKind(%q) = false, want true", k)
		}
	}
	for _, k := range []ContentKind{"", "voice", "TEXT"} {
		if IsValidContentKind(k) {
			t.Errorf("IsValidContentKind(%q) = true, want false", k)
		}
	}
}

func TestThreadOrdinal(t *testing.T) {
	th := Thread{PublicID: 42, Participants: []int64{100, 200, 300}}

	tests := []struct {
		userID int64
		want   int
	}{
		{100, 0},
		{200, 1},
		{300, 2},
		{999, -1},
	}
	for _, tt := range tests {
		if got := th.Ordinal(tt.userID); got != tt.want {
			t.Errorf("Ordinal(%d) = %d, want %d", tt.userID, got, tt.want)
		}
	}
}

func TestPseudonymName(t *testing.T) {
	tests := []struct {
		ordinal int
		want    string
	}{
		{0, "Author"},
		{1, "Commenter №0001"},
		{42, "Commenter №0042"},
		{10000, "Commenter №10000"},
	}
	for _, tt := range tests {
		if got := PseudonymName(tt.ordinal); got != tt.want {
			t.Errorf("PseudonymName(%d) = %q, want %q", tt.ordinal, got, tt.want)
		}
	}
}
