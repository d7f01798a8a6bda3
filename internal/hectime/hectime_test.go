package hectime

import "testing"

func TestResolveCanonicalMillis(t *testing.T) {
	got := Resolve("1433188255253", nil)
	want := Resolved{EpochMillis: 1433188255253, Source: SourceReported, Parsed: true}
	if got != want {
		t.Errorf("Resolve(13-digit) = %+v, want %+v", got, want)
	}
}

func TestResolveSecondsScaling(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int64
	}{
		{"10-digit seconds", "1277464192", 1277464192000},
		{"11-digit deciseconds", "12774641921", 1277464192100},
		{"12-digit centiseconds", "127746419212", 1277464192120},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.raw, nil)
			want := Resolved{EpochMillis: tc.want, Source: SourceReported, Parsed: true}
			if got != want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tc.raw, got, want)
			}
		})
	}
}

func TestResolveFractionalCollapse(t *testing.T) {
	got := Resolve("1433188255.253", nil)
	want := Resolved{EpochMillis: 1433188255253, Source: SourceReported, Parsed: true}
	if got != want {
		t.Errorf("Resolve(fractional) = %+v, want %+v", got, want)
	}
}

func TestResolveOutOfRangeEchoesRaw(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		got := Resolve("143318", nil)
		want := Resolved{EpochMillis: 143318, Source: SourceGenerated, Parsed: false}
		if got != want {
			t.Errorf("Resolve(short) = %+v, want %+v", got, want)
		}
	})
	t.Run("too long", func(t *testing.T) {
		got := Resolve("1433188255252321", nil)
		want := Resolved{EpochMillis: 1433188255252321, Source: SourceGenerated, Parsed: false}
		if got != want {
			t.Errorf("Resolve(long) = %+v, want %+v", got, want)
		}
	})
}

func TestResolveCarryForward(t *testing.T) {
	prev := Resolved{EpochMillis: 1433188255253, Source: SourceReported, Parsed: true}

	t.Run("absent inherits parsed previous", func(t *testing.T) {
		got := Resolve("", &prev)
		if got != prev {
			t.Errorf("Resolve(absent, prev) = %+v, want %+v", got, prev)
		}
	})

	t.Run("textual inherits parsed previous", func(t *testing.T) {
		got := Resolve("five past noon", &prev)
		if got != prev {
			t.Errorf("Resolve(textual, prev) = %+v, want %+v", got, prev)
		}
	})

	t.Run("unparsed previous is not inherited", func(t *testing.T) {
		unparsed := Resolved{EpochMillis: 143318, Source: SourceGenerated, Parsed: false}
		got := Resolve("", &unparsed)
		want := Generated()
		if got != want {
			t.Errorf("Resolve(absent, unparsed prev) = %+v, want %+v", got, want)
		}
	})

	t.Run("no previous yields generated zero", func(t *testing.T) {
		got := Resolve("", nil)
		want := Generated()
		if got != want {
			t.Errorf("Resolve(absent, nil) = %+v, want %+v", got, want)
		}
	})

	t.Run("inherited source is reported", func(t *testing.T) {
		got := Resolve("later that day", &prev)
		if got.Source != SourceReported || !got.Parsed {
			t.Errorf("inherited resolution = %+v, want reported/parsed", got)
		}
	})
}

func TestResolveRejectsNonNumeric(t *testing.T) {
	for _, raw := range []string{"-1433188255", "1.2.3", ".5", "5.", "12a34", "NaN"} {
		got := Resolve(raw, nil)
		if got != Generated() {
			t.Errorf("Resolve(%q) = %+v, want generated zero", raw, got)
		}
	}
}

func TestResolveOverflowDigits(t *testing.T) {
	// 20 digits overflows int64; nothing sensible to echo.
	got := Resolve("14331882552523214333", nil)
	if got != Generated() {
		t.Errorf("Resolve(overflow) = %+v, want generated zero", got)
	}
}

func TestResolveZeroValue(t *testing.T) {
	got := Resolve("0", nil)
	want := Resolved{EpochMillis: 0, Source: SourceGenerated, Parsed: false}
	if got != want {
		t.Errorf("Resolve(\"0\") = %+v, want %+v", got, want)
	}
}
