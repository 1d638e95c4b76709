package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mmstatus/internal/config"
	"mmstatus/internal/model"
)

const meetingICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//mmstatus//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:review\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250310T130000Z\r\n" +
	"DTEND:20250310T140000Z\r\n" +
	"SUMMARY:Design Review\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// writeConfig stores a config with one file-backed calendar and returns
// its path.
func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	icsPath := filepath.Join(dir, "work.ics")
	require.NoError(t, os.WriteFile(icsPath, []byte(meetingICS), 0o600))

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.Calendars = []config.CalendarConfig{
		{ID: "work", Name: "Work", URL: icsPath},
		{ID: "home", Name: "Home", URL: "https://cal.example.com/home.ics?token=secret"},
	}
	cfg.Calendar = "work"

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		probeAt, probeCalendar = "", ""
	})

	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCalendarsMarksSelected(t *testing.T) {
	path := writeConfig(t)

	out := execute(t, "--config", path, "calendars")
	require.Contains(t, out, "*  work")
	require.Contains(t, out, "home")
	require.NotContains(t, out, "secret")
}

func TestProbeReportsMeeting(t *testing.T) {
	path := writeConfig(t)

	out := execute(t, "--config", path, "probe", "--at", "2025-03-10T13:30:00Z")
	require.Contains(t, out, "busy: Design Review")

	out = execute(t, "--config", path, "probe", "--at", "2025-03-10T14:00:01Z")
	require.Equal(t, "free\n", out)
}

func TestProbeRejectsUnknownCalendar(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", writeConfig(t), "probe", "--calendar", "missing"})
	rootCmd.SetOut(&bytes.Buffer{})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		probeCalendar = ""
	})

	err := rootCmd.Execute()
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, cfgErr.Reason, "unknown calendar")
}

func TestSelectCalendar(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Calendars = []config.CalendarConfig{
		{ID: "work", URL: "https://cal.example.com/work.ics"},
		{ID: "draft"},
	}
	cfg.Calendar = "work"

	id, err := selectCalendar(cfg, "")
	require.NoError(t, err)
	require.Equal(t, "work", id)

	_, err = selectCalendar(cfg, "draft")
	require.ErrorContains(t, err, "has no url")

	cfg.Calendar = ""
	_, err = selectCalendar(cfg, "")
	require.ErrorContains(t, err, "no calendar configured")
}

func TestSetRejectsUnknownStatus(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", writeConfig(t), "set", "busy"})
	rootCmd.SetOut(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.Error(t, rootCmd.Execute())
}

func TestResolveLocation(t *testing.T) {
	require.Equal(t, time.Local, resolveLocation(""))
	require.Equal(t, time.Local, resolveLocation("Local"))
	require.Equal(t, time.Local, resolveLocation("Not/AZone"))
	require.Equal(t, "UTC", resolveLocation("UTC").String())
}

func TestReadPasswordFromPipe(t *testing.T) {
	in := strings.NewReader("s3cret\nrest\n")
	pw, err := readPassword(in, bufio.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, "s3cret", pw)

	in = strings.NewReader("no-newline")
	pw, err = readPassword(in, bufio.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, "no-newline", pw)

	in = strings.NewReader("")
	_, err = readPassword(in, bufio.NewReader(in))
	require.Error(t, err)
}
