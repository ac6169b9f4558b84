package cli

import (
	"bytes"
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		want    time.Time
		wantErr bool
	}{
		"":                          {},
		"2024-05-01":                {want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		"2024-05-01T12:30:00+02:00": {want: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		"yesterday":                 {wantErr: true},
	}
	for raw, tc := range cases {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			got, err := parseSince(raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseSince(%q) error = %v", raw, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("parseSince(%q) = %v, want %v", raw, got, tc.want)
			}
		})
	}
}

func TestRootCmdWiresSubcommands(t *testing.T) {
	t.Parallel()

	root := RootCmd()
	for _, name := range []string{"run", "replay", "discover"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("missing subcommand %s: %v", name, err)
		}
	}
	run, _, _ := root.Find([]string{"run"})
	if run.Flags().Lookup("watch") == nil {
		t.Fatal("run must accept --watch")
	}
}

func TestReplayRejectsBadSinceBeforeStarting(t *testing.T) {
	t.Parallel()

	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"replay", "--since", "soon"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an invalid --since")
	}
}
