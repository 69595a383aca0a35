package config

import "testing"

func TestParseGameModes(t *testing.T) {
	modes := parseGameModes("Normal:2,Squad:4:mmr,broken,Trio:")
	if len(modes) != 2 {
		t.Fatalf("expected 2 valid modes, got %d: %+v", len(modes), modes)
	}
	if modes[0].ID != "Normal" || modes[0].RequiredPlayers != 2 || modes[0].UseMMRMatching {
		t.Errorf("unexpected first mode: %+v", modes[0])
	}
	if modes[1].ID != "Squad" || modes[1].RequiredPlayers != 4 || !modes[1].UseMMRMatching {
		t.Errorf("unexpected second mode: %+v", modes[1])
	}
}

func TestParseGameModesRejectsSinglePlayer(t *testing.T) {
	modes := parseGameModes("Solo:1")
	if len(modes) != 0 {
		t.Errorf("expected single-player mode to be rejected, got %+v", modes)
	}
}

func TestModeByID(t *testing.T) {
	cfg := &Config{GameModes: parseGameModes("Normal:2,Squad:4")}
	if _, ok := cfg.ModeByID("Missing"); ok {
		t.Error("expected Missing to be absent")
	}
	mode, ok := cfg.ModeByID("Squad")
	if !ok || mode.RequiredPlayers != 4 {
		t.Errorf("unexpected mode: %+v ok=%v", mode, ok)
	}
}
